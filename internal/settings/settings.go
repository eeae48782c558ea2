// Package settings is the key/value configuration store. Reads fall back to
// registered defaults when a key has never been written, and go through an
// optional cache.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"

	"gorm.io/datatypes"
)

// Cache is a byte cache keyed by setting key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Default is the value served for a key that has no stored row.
type Default struct {
	Value    json.RawMessage
	Category string
	IsSystem bool
	validate func(json.RawMessage) error
}

// Defaults returns the built-in keys.
func Defaults() map[string]Default {
	cats, _ := json.Marshal(config.DefaultCategories)
	return map[string]Default{
		config.KeyComplaintCategories: {
			Value: cats, Category: "complaints", IsSystem: true, validate: validateCategories,
		},
		config.KeyMaxUploadMB: {
			Value: json.RawMessage(fmt.Sprint(config.DefaultMaxUploadMB)), Category: "uploads", IsSystem: true, validate: validatePositive,
		},
		config.KeyNotificationRetention: {
			Value: json.RawMessage(fmt.Sprint(config.DefaultNotificationRetention)), Category: "notifications", IsSystem: true, validate: validatePositive,
		},
		config.KeyAssistantName: {
			Value: json.RawMessage(`"Support Assistant"`), Category: "chat",
		},
	}
}

type Service struct {
	store    storage.Storage
	cache    Cache
	ttl      time.Duration
	defaults map[string]Default
}

// NewService builds the store. cache may be nil to disable caching.
func NewService(store storage.Storage, cache Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = config.DefaultSettingsCacheTTL
	}
	return &Service{store: store, cache: cache, ttl: ttl, defaults: Defaults()}
}

func cacheKey(key string) string { return "settings:" + key }

// Get returns the stored value of key or its default.
func (s *Service) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if s.cache != nil {
		val, ok, err := s.cache.Get(ctx, cacheKey(key))
		if err != nil {
			slog.Warn("settings cache read failed", "key", key, "error", err)
		} else if ok {
			return val, nil
		}
	}

	var val json.RawMessage
	st, err := s.store.GetSetting(ctx, key)
	switch {
	case err == nil:
		val = json.RawMessage(st.Value)
	case errors.Is(err, storage.ErrNotFound):
		def, ok := s.defaults[key]
		if !ok {
			return nil, apperr.NotFound("setting")
		}
		val = def.Value
	default:
		return nil, apperr.Internal(err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(key), val, s.ttl); err != nil {
			slog.Warn("settings cache write failed", "key", key, "error", err)
		}
	}
	return val, nil
}

// Categories returns the configured complaint and suggestion categories.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	raw, err := s.Get(ctx, config.KeyComplaintCategories)
	if err != nil {
		return nil, err
	}
	var cats []string
	if err := json.Unmarshal(raw, &cats); err != nil {
		return nil, apperr.Internal(fmt.Errorf("decode %s: %w", config.KeyComplaintCategories, err))
	}
	return cats, nil
}

// ValidCategory reports whether category is allowed. An empty configured list
// allows anything.
func (s *Service) ValidCategory(ctx context.Context, category string) (bool, error) {
	cats, err := s.Categories(ctx)
	if err != nil {
		return false, err
	}
	if len(cats) == 0 {
		return true, nil
	}
	for _, c := range cats {
		if c == category {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) number(ctx context.Context, key string) (float64, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, apperr.Internal(fmt.Errorf("decode %s: %w", key, err))
	}
	return n, nil
}

// MaxUploadBytes is the attachment size limit.
func (s *Service) MaxUploadBytes(ctx context.Context) (int64, error) {
	mb, err := s.number(ctx, config.KeyMaxUploadMB)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(mb * 1024 * 1024)), nil
}

// NotificationRetention is how long read notifications are kept.
func (s *Service) NotificationRetention(ctx context.Context) (time.Duration, error) {
	days, err := s.number(ctx, config.KeyNotificationRetention)
	if err != nil {
		return 0, err
	}
	return time.Duration(days * float64(24*time.Hour)), nil
}

// Set upserts key. Actor may be nil for operator tooling.
func (s *Service) Set(ctx context.Context, actor *models.User, key string, value json.RawMessage, category string) (*models.Setting, error) {
	actorID := "system"
	if actor != nil {
		if actor.Role != models.RoleAdmin {
			return nil, apperr.Forbidden("admin only")
		}
		actorID = actor.ID
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperr.Validation("key is required")
	}
	if !json.Valid(value) {
		return nil, apperr.Validation("value must be valid JSON")
	}
	def, known := s.defaults[key]
	if known && def.validate != nil {
		if err := def.validate(value); err != nil {
			return nil, err
		}
	}
	if category == "" && known {
		category = def.Category
	}

	st := &models.Setting{
		Key:      key,
		Value:    datatypes.JSON(value),
		Category: category,
		IsSystem: known && def.IsSystem,
	}
	err := s.store.Transaction(ctx, func(tx storage.Storage) error {
		if err := tx.UpsertSetting(ctx, st); err != nil {
			return apperr.Internal(err)
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionUpdateSetting,
			EntityType: models.EntitySetting,
			EntityID:   key,
			Detail:     string(value),
		})
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, cacheKey(key)); err != nil {
			slog.Warn("settings cache invalidation failed", "key", key, "error", err)
		}
	}
	return st, nil
}

// List merges stored rows with defaults for keys never written.
func (s *Service) List(ctx context.Context, actor *models.User, category string) ([]models.Setting, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, apperr.Forbidden("admin only")
	}
	rows, err := s.store.ListSettings(ctx, category)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	stored := make(map[string]bool, len(rows))
	for _, r := range rows {
		stored[r.Key] = true
	}
	for key, def := range s.defaults {
		if stored[key] || (category != "" && def.Category != category) {
			continue
		}
		rows = append(rows, models.Setting{
			Key:      key,
			Value:    datatypes.JSON(def.Value),
			Category: def.Category,
			IsSystem: def.IsSystem,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}

func validateCategories(raw json.RawMessage) error {
	var cats []string
	if err := json.Unmarshal(raw, &cats); err != nil {
		return apperr.Validation("categories must be a list of strings")
	}
	for _, c := range cats {
		if strings.TrimSpace(c) == "" {
			return apperr.Validation("categories must not be empty")
		}
	}
	return nil
}

func validatePositive(raw json.RawMessage) error {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil || n <= 0 {
		return apperr.Validation("value must be a positive number")
	}
	return nil
}
