package models

// All returns every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Complaint{},
		&Suggestion{},
		&Upvote{},
		&ChatSession{},
		&Message{},
		&AuditLog{},
		&Notification{},
		&Setting{},
	}
}
