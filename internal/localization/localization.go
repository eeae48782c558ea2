// Package localization holds the message catalog used for notification texts
// and assistant fallbacks. Catalogs are JSON files named by language code
// (e.g. "en.json"); the English catalog is embedded in the binary.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
)

// DefaultLang is used when a key is missing from the requested language.
const DefaultLang = "en"

// Catalog keys.
const (
	KeyComplaintStatusTitle  = "complaint.status.title"
	KeyComplaintStatusBody   = "complaint.status.body"
	KeyComplaintResponse     = "complaint.response.title"
	KeyComplaintAssigned     = "complaint.assigned.title"
	KeySuggestionStatusTitle = "suggestion.status.title"
	KeySuggestionStatusBody  = "suggestion.status.body"
	KeySuggestionResponse    = "suggestion.response.title"
	KeyStaffRequestedTitle   = "chat.staff_requested.title"
	KeyStaffRequestedBody    = "chat.staff_requested.body"
	KeyStaffReplyTitle       = "chat.staff_reply.title"
	KeyAIApology             = "chat.ai_apology"
	KeyAIPreamble            = "chat.ai_preamble"
)

//go:embed locales/*.json
var embedded embed.FS

// Localizer manages the translations for the application.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// Default returns a Localizer over the embedded catalogs.
func Default() *Localizer {
	l, err := Load(embedded, "locales")
	if err != nil {
		panic(fmt.Sprintf("embedded locales: %v", err))
	}
	return l
}

// Load reads every *.json file in dir of fsys.
func Load(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[strings.TrimSuffix(file.Name(), ".json")] = translations
	}

	return l, nil
}

// GetString returns the localized string for key, falling back to English and
// then to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if value, ok := l.translations[lang][key]; ok {
		return value
	}
	if lang != DefaultLang {
		if value, ok := l.translations[DefaultLang][key]; ok {
			return value
		}
	}
	return key
}

// Format looks up key and applies fmt.Sprintf with args.
func (l *Localizer) Format(lang, key string, args ...any) string {
	return fmt.Sprintf(l.GetString(lang, key), args...)
}
