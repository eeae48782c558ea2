package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("AI_TIMEOUT", "5s")
	t.Setenv("TELEGRAM_STAFF_CHAT_ID", "-1001")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "support.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.Equal(t, int64(-1001), cfg.Telegram.StaffChatID)
	assert.Equal(t, DefaultUploadTimeout, cfg.Upload.Timeout)
	assert.Equal(t, DefaultChatPerMinute, cfg.RateLimit.ChatPerMinute)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "support.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
storage:
  driver: sqlite
  sqlite_path: /tmp/dev.db
auth:
  jwt_secret: from-file
ai:
  provider: openai
  api_key: sk-test
  model: gpt-4o-mini
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, "/tmp/dev.db", cfg.Storage.SQLitePath)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Storage: StorageConfig{Driver: "postgres"},
			Auth:    AuthConfig{JWTSecret: "s"},
			AI:      AIConfig{Provider: "none"},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Driver = "memory"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Driver = "sqlite"
	assert.Error(t, cfg.Validate(), "sqlite needs a path")
	cfg.Storage.SQLitePath = "dev.db"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.AI.Provider = "gemini"
	assert.Error(t, cfg.Validate(), "gemini needs a key")

	cfg = base()
	cfg.Auth.JWTSecret = ""
	assert.Error(t, cfg.Validate())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "loud"}).SlogLevel())
}
