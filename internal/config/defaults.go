package config

import "time"

const (
	// Listing
	DefaultListLimit  = 50
	MaxListLimit      = 200
	MaxAuditListLimit = 500

	// Chat
	SessionTitleRunes    = 50
	MaxMessageRunes      = 4000
	ContextComplaints    = 3
	ContextSuggestions   = 3
	DefaultAITimeout     = 20 * time.Second
	DefaultChatPerMinute = 20

	// Suggestions
	EnrichmentTimeout = 30 * time.Second

	// Uploads
	DefaultUploadTimeout = 30 * time.Second
	DefaultMaxUploadMB   = 10

	// Settings
	DefaultSettingsCacheTTL      = 5 * time.Minute
	DefaultNotificationRetention = 30 // days

	EscalatedComplaintCategory = "General"
)

// Setting keys known to the configuration store.
const (
	KeyComplaintCategories   = "complaint_categories"
	KeyMaxUploadMB           = "max_upload_mb"
	KeyNotificationRetention = "notification_retention_days"
	KeyAssistantName         = "assistant_name"
)

var DefaultCategories = []string{
	"Facilities",
	"Academic",
	"IT Support",
	"Finance",
	"General",
	"Other",
}
