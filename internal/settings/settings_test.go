package settings_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/storage"
	"studentsupport/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
	reads int
	fail  bool
}

func newMapCache() *mapCache { return &mapCache{items: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, false, errors.New("cache down")
	}
	c.reads++
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = val
	return nil
}

func (c *mapCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

var admin = &models.User{ID: "admin-1", Role: models.RoleAdmin}

func TestDefaultsOnMiss(t *testing.T) {
	ctx := context.Background()
	svc := settings.NewService(storagetest.New(t), nil, 0)

	cats, err := svc.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultCategories, cats)

	limit, err := svc.MaxUploadBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(config.DefaultMaxUploadMB*1024*1024), limit)

	retention, err := svc.NotificationRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, retention)

	_, err = svc.Get(ctx, "no_such_key")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSetOverridesDefaultAndAudits(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	svc := settings.NewService(store, nil, 0)

	_, err := svc.Set(ctx, admin, config.KeyComplaintCategories, json.RawMessage(`["Housing","IT Support"]`), "")
	require.NoError(t, err)

	ok, err := svc.ValidCategory(ctx, "Housing")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.ValidCategory(ctx, "Facilities")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := store.GetSetting(ctx, config.KeyComplaintCategories)
	require.NoError(t, err)
	assert.True(t, st.IsSystem)
	assert.Equal(t, "complaints", st.Category)

	logs, err := store.ListAuditLogs(ctx, storage.AuditFilter{Action: "UPDATE_SETTING"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, admin.ID, logs[0].ActorID)
}

func TestEmptyCategoryListAllowsAnything(t *testing.T) {
	ctx := context.Background()
	svc := settings.NewService(storagetest.New(t), nil, 0)

	_, err := svc.Set(ctx, admin, config.KeyComplaintCategories, json.RawMessage(`[]`), "")
	require.NoError(t, err)

	ok, err := svc.ValidCategory(ctx, "Anything")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetValidation(t *testing.T) {
	ctx := context.Background()
	svc := settings.NewService(storagetest.New(t), nil, 0)

	_, err := svc.Set(ctx, &models.User{ID: "s", Role: models.RoleStaff}, "x", json.RawMessage(`1`), "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Set(ctx, admin, "x", json.RawMessage(`{not json`), "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Set(ctx, admin, config.KeyMaxUploadMB, json.RawMessage(`-3`), "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Set(ctx, admin, config.KeyComplaintCategories, json.RawMessage(`["ok", " "]`), "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCacheReadThroughAndInvalidation(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	svc := settings.NewService(storagetest.New(t), cache, time.Minute)

	_, err := svc.MaxUploadBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("10"), cache.items["settings:max_upload_mb"])

	_, err = svc.Set(ctx, admin, config.KeyMaxUploadMB, json.RawMessage(`2`), "")
	require.NoError(t, err)
	_, cached := cache.items["settings:max_upload_mb"]
	assert.False(t, cached, "set must invalidate the cached value")

	limit, err := svc.MaxUploadBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024), limit)
}

func TestCacheFailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	cache.fail = true
	svc := settings.NewService(storagetest.New(t), cache, time.Minute)

	cats, err := svc.Categories(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cats)
}

func TestListMergesDefaults(t *testing.T) {
	ctx := context.Background()
	svc := settings.NewService(storagetest.New(t), nil, 0)

	_, err := svc.Set(ctx, admin, "welcome_banner", json.RawMessage(`"Hi"`), "ui")
	require.NoError(t, err)

	all, err := svc.List(ctx, admin, "")
	require.NoError(t, err)
	keys := make([]string, len(all))
	for i, s := range all {
		keys[i] = s.Key
	}
	assert.Equal(t, []string{"assistant_name", "complaint_categories", "max_upload_mb", "notification_retention_days", "welcome_banner"}, keys)

	uploads, err := svc.List(ctx, admin, "uploads")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, config.KeyMaxUploadMB, uploads[0].Key)
}
