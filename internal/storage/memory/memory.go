// Package memory provides an in-process Storage for tests that need hooks into
// individual writes. It enforces the same unique keys as the SQL schema. The
// binaries never use it; local runs use the sqlite driver.
//
// Transactions journal their writes and undo them on error. Writes are visible
// to other callers before commit (read uncommitted). Undo is compare-and-restore:
// a row is only rolled back while it still holds this transaction's write, so a
// failed transaction never clobbers a row another caller committed since.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"
)

type entry[T any] struct {
	val T
	seq int64 // insertion order
	ver int64 // bumped on every write
}

type table[T any] map[string]entry[T]

// Hooks let tests observe or break specific writes.
type Hooks struct {
	// BeforeCreateUpvote runs before the unique check, outside the store lock.
	BeforeCreateUpvote func()
	// CreateAuditLog, when it returns an error, makes the audit insert fail.
	CreateAuditLog func(a *models.AuditLog) error
}

type data struct {
	mu  sync.Mutex
	seq int64
	ver int64

	users         table[models.User]
	complaints    table[models.Complaint]
	suggestions   table[models.Suggestion]
	upvotes       table[models.Upvote]
	sessions      table[models.ChatSession]
	messages      table[models.Message]
	audit         table[models.AuditLog]
	notifications table[models.Notification]
	settings      table[models.Setting]

	hooks Hooks
}

// Store implements storage.Storage in memory.
type Store struct {
	d    *data
	undo *[]func()
	now  func() time.Time
}

var _ storage.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		d: &data{
			users:         table[models.User]{},
			complaints:    table[models.Complaint]{},
			suggestions:   table[models.Suggestion]{},
			upvotes:       table[models.Upvote]{},
			sessions:      table[models.ChatSession]{},
			messages:      table[models.Message]{},
			audit:         table[models.AuditLog]{},
			notifications: table[models.Notification]{},
			settings:      table[models.Setting]{},
		},
		now: time.Now,
	}
}

// SetHooks replaces the test hooks.
func (s *Store) SetHooks(h Hooks) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.hooks = h
}

func (s *Store) Transaction(ctx context.Context, fn func(tx storage.Storage) error) error {
	if s.undo != nil {
		return fn(s)
	}

	var undo []func()
	tx := &Store{d: s.d, undo: &undo, now: s.now}
	if err := fn(tx); err != nil {
		s.d.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.d.mu.Unlock()
		return err
	}
	return nil
}

// The helpers below expect s.d.mu to be held.

func (s *Store) journal(fn func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, fn)
	}
}

func put[T any](s *Store, t table[T], id string, val T) {
	prev, existed := t[id]
	seq := prev.seq
	if !existed {
		s.d.seq++
		seq = s.d.seq
	}
	s.d.ver++
	ver := s.d.ver
	t[id] = entry[T]{val: val, seq: seq, ver: ver}
	s.journal(func() {
		if cur, ok := t[id]; !ok || cur.ver != ver {
			return
		}
		if existed {
			t[id] = prev
		} else {
			delete(t, id)
		}
	})
}

func remove[T any](s *Store, t table[T], id string) bool {
	prev, existed := t[id]
	if !existed {
		return false
	}
	delete(t, id)
	s.journal(func() {
		if _, ok := t[id]; !ok {
			t[id] = prev
		}
	})
	return true
}

func get[T any](t table[T], id string) (*T, error) {
	e, ok := t[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	v := e.val
	return &v, nil
}

// selectRows returns matching rows ordered by insertion, newest first unless asc.
func selectRows[T any](t table[T], asc bool, match func(*T) bool) []T {
	entries := make([]entry[T], 0, len(t))
	for _, e := range t {
		if match == nil || match(&e.val) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if asc {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].seq > entries[j].seq
	})
	rows := make([]T, len(entries))
	for i, e := range entries {
		rows[i] = e.val
	}
	return rows
}

func limit[T any](rows []T, n int) []T {
	n = storage.ClampLimit(n, storage.MaxLimit)
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

func (s *Store) stamp(created, updated *time.Time) {
	now := s.now()
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

// Users

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return get(s.d.users, id)
}

func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, e := range s.d.users {
		if e.val.ExternalID != nil && *e.val.ExternalID == externalID {
			u := e.val
			return &u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, e := range s.d.users {
		if e.val.Email == email {
			u := e.val
			return &u, nil
		}
	}
	return nil, storage.ErrNotFound
}

// userConflicts reports whether another user already owns u's email or external id.
func (s *Store) userConflicts(u *models.User) bool {
	for id, e := range s.d.users {
		if id == u.ID {
			continue
		}
		if strings.EqualFold(e.val.Email, u.Email) {
			return true
		}
		if u.ExternalID != nil && e.val.ExternalID != nil && *u.ExternalID == *e.val.ExternalID {
			return true
		}
	}
	return false
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	_ = user.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, exists := s.d.users[user.ID]; exists || s.userConflicts(user) {
		return storage.ErrDuplicate
	}
	s.stamp(&user.CreatedAt, &user.UpdatedAt)
	put(s, s.d.users, user.ID, *user)
	return nil
}

func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	_ = user.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.userConflicts(user) {
		return storage.ErrDuplicate
	}
	s.stamp(&user.CreatedAt, &user.UpdatedAt)
	put(s, s.d.users, user.ID, *user)
	return nil
}

func (s *Store) ListUsers(ctx context.Context, roles ...models.Role) ([]models.User, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return selectRows(s.d.users, true, func(u *models.User) bool {
		if len(roles) == 0 {
			return true
		}
		for _, r := range roles {
			if u.Role == r {
				return true
			}
		}
		return false
	}), nil
}

// Complaints

func (s *Store) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	_ = c.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, exists := s.d.complaints[c.ID]; exists {
		return storage.ErrDuplicate
	}
	s.stamp(&c.CreatedAt, &c.UpdatedAt)
	put(s, s.d.complaints, c.ID, *c)
	return nil
}

func (s *Store) GetComplaintByID(ctx context.Context, id string) (*models.Complaint, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return get(s.d.complaints, id)
}

func (s *Store) SaveComplaint(ctx context.Context, c *models.Complaint) error {
	_ = c.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.stamp(&c.CreatedAt, &c.UpdatedAt)
	put(s, s.d.complaints, c.ID, *c)
	return nil
}

func (s *Store) DeleteComplaint(ctx context.Context, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if !remove(s, s.d.complaints, id) {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListComplaints(ctx context.Context, f storage.ComplaintFilter) ([]models.Complaint, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	rows := selectRows(s.d.complaints, false, func(c *models.Complaint) bool {
		return (f.UserID == "" || c.UserID == f.UserID) &&
			(f.Status == "" || c.Status == f.Status) &&
			(f.Category == "" || c.Category == f.Category)
	})
	return limit(rows, f.Limit), nil
}

// Suggestions

func (s *Store) CreateSuggestion(ctx context.Context, sg *models.Suggestion) error {
	_ = sg.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, exists := s.d.suggestions[sg.ID]; exists {
		return storage.ErrDuplicate
	}
	s.stamp(&sg.CreatedAt, &sg.UpdatedAt)
	put(s, s.d.suggestions, sg.ID, *sg)
	return nil
}

func (s *Store) GetSuggestionByID(ctx context.Context, id string) (*models.Suggestion, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return get(s.d.suggestions, id)
}

func (s *Store) SaveSuggestion(ctx context.Context, sg *models.Suggestion) error {
	_ = sg.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.stamp(&sg.CreatedAt, &sg.UpdatedAt)
	put(s, s.d.suggestions, sg.ID, *sg)
	return nil
}

func (s *Store) DeleteSuggestion(ctx context.Context, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, ok := s.d.suggestions[id]; !ok {
		return storage.ErrNotFound
	}
	for uid, e := range s.d.upvotes {
		if e.val.SuggestionID == id {
			remove(s, s.d.upvotes, uid)
		}
	}
	remove(s, s.d.suggestions, id)
	return nil
}

func (s *Store) ListSuggestions(ctx context.Context, f storage.SuggestionFilter) ([]models.Suggestion, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	rows := selectRows(s.d.suggestions, false, func(sg *models.Suggestion) bool {
		return (f.UserID == "" || sg.UserID == f.UserID) &&
			(f.Status == "" || sg.Status == f.Status) &&
			(f.Category == "" || sg.Category == f.Category)
	})
	return limit(rows, f.Limit), nil
}

// Upvotes

func (s *Store) FindUpvote(ctx context.Context, userID, suggestionID string) (*models.Upvote, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, e := range s.d.upvotes {
		if e.val.UserID == userID && e.val.SuggestionID == suggestionID {
			u := e.val
			return &u, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateUpvote(ctx context.Context, u *models.Upvote) error {
	s.d.mu.Lock()
	hook := s.d.hooks.BeforeCreateUpvote
	s.d.mu.Unlock()
	if hook != nil {
		hook()
	}

	_ = u.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, e := range s.d.upvotes {
		if e.val.UserID == u.UserID && e.val.SuggestionID == u.SuggestionID {
			return storage.ErrDuplicate
		}
	}
	s.stamp(&u.CreatedAt, nil)
	put(s, s.d.upvotes, u.ID, *u)
	return nil
}

func (s *Store) DeleteUpvote(ctx context.Context, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	remove(s, s.d.upvotes, id)
	return nil
}

func (s *Store) CountUpvotes(ctx context.Context, suggestionIDs []string) (map[string]int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	wanted := make(map[string]bool, len(suggestionIDs))
	for _, id := range suggestionIDs {
		wanted[id] = true
	}
	counts := make(map[string]int64, len(suggestionIDs))
	for _, e := range s.d.upvotes {
		if wanted[e.val.SuggestionID] {
			counts[e.val.SuggestionID]++
		}
	}
	return counts, nil
}

func (s *Store) ListUpvotesByUser(ctx context.Context, userID string, suggestionIDs []string) ([]models.Upvote, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	wanted := make(map[string]bool, len(suggestionIDs))
	for _, id := range suggestionIDs {
		wanted[id] = true
	}
	return selectRows(s.d.upvotes, true, func(u *models.Upvote) bool {
		return u.UserID == userID && wanted[u.SuggestionID]
	}), nil
}

// Chat

func (s *Store) CreateChatSession(ctx context.Context, cs *models.ChatSession) error {
	_ = cs.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, exists := s.d.sessions[cs.ID]; exists {
		return storage.ErrDuplicate
	}
	s.stamp(&cs.CreatedAt, &cs.UpdatedAt)
	put(s, s.d.sessions, cs.ID, *cs)
	return nil
}

func (s *Store) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return get(s.d.sessions, id)
}

func (s *Store) SaveChatSession(ctx context.Context, cs *models.ChatSession) error {
	_ = cs.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.stamp(&cs.CreatedAt, &cs.UpdatedAt)
	put(s, s.d.sessions, cs.ID, *cs)
	return nil
}

func (s *Store) ListChatSessions(ctx context.Context, f storage.ChatSessionFilter) ([]models.ChatSession, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	rows := selectRows(s.d.sessions, false, func(cs *models.ChatSession) bool {
		return (f.UserID == "" || cs.UserID == f.UserID) &&
			(f.Status == "" || cs.Status == f.Status) &&
			(!f.EscalatedOnly || cs.Escalated)
	})
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].LastActivity.After(rows[j].LastActivity)
	})
	return limit(rows, f.Limit), nil
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	_ = m.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, exists := s.d.messages[m.ID]; exists {
		return storage.ErrDuplicate
	}
	s.stamp(&m.CreatedAt, nil)
	put(s, s.d.messages, m.ID, *m)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return selectRows(s.d.messages, true, func(m *models.Message) bool {
		return m.SessionID == sessionID
	}), nil
}

func (s *Store) LatestMessage(ctx context.Context, sessionID string, sender models.Sender) (*models.Message, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	rows := selectRows(s.d.messages, false, func(m *models.Message) bool {
		return m.SessionID == sessionID && m.Sender == sender
	})
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Audit

func (s *Store) CreateAuditLog(ctx context.Context, a *models.AuditLog) error {
	_ = a.BeforeCreate(nil)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if hook := s.d.hooks.CreateAuditLog; hook != nil {
		if err := hook(a); err != nil {
			return err
		}
	}
	s.stamp(&a.CreatedAt, nil)
	put(s, s.d.audit, a.ID, *a)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, f storage.AuditFilter) ([]models.AuditLog, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	rows := selectRows(s.d.audit, false, func(a *models.AuditLog) bool {
		return (f.Action == "" || a.Action == f.Action) &&
			(f.EntityType == "" || a.EntityType == f.EntityType) &&
			(f.EntityID == "" || a.EntityID == f.EntityID)
	})
	return limit(rows, f.Limit), nil
}

// Notifications

func (s *Store) CreateNotifications(ctx context.Context, ns []models.Notification) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for i := range ns {
		_ = ns[i].BeforeCreate(nil)
		s.stamp(&ns[i].CreatedAt, &ns[i].UpdatedAt)
		put(s, s.d.notifications, ns[i].ID, ns[i])
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, f storage.NotificationFilter) ([]models.Notification, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	rows := selectRows(s.d.notifications, false, func(n *models.Notification) bool {
		return n.UserID == f.UserID && (!f.UnreadOnly || !n.Read)
	})
	return limit(rows, f.Limit), nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) (bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	e, ok := s.d.notifications[id]
	if !ok || e.val.UserID != userID {
		return false, nil
	}
	n := e.val
	n.Read = true
	s.stamp(nil, &n.UpdatedAt)
	put(s, s.d.notifications, id, n)
	return true, nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	var n int64
	for id, e := range s.d.notifications {
		if e.val.UserID == userID && !e.val.Read {
			v := e.val
			v.Read = true
			s.stamp(nil, &v.UpdatedAt)
			put(s, s.d.notifications, id, v)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteNotificationsForUser(ctx context.Context, userID string) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	var n int64
	for id, e := range s.d.notifications {
		if e.val.UserID == userID {
			remove(s, s.d.notifications, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	var n int64
	for id, e := range s.d.notifications {
		if e.val.Read && e.val.CreatedAt.Before(before) {
			remove(s, s.d.notifications, id)
			n++
		}
	}
	return n, nil
}

// Settings

func (s *Store) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return get(s.d.settings, key)
}

func (s *Store) UpsertSetting(ctx context.Context, st *models.Setting) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if e, ok := s.d.settings[st.Key]; ok {
		st.IsSystem = e.val.IsSystem
		st.CreatedAt = e.val.CreatedAt
	}
	s.stamp(&st.CreatedAt, &st.UpdatedAt)
	put(s, s.d.settings, st.Key, *st)
	return nil
}

func (s *Store) ListSettings(ctx context.Context, category string) ([]models.Setting, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	rows := selectRows(s.d.settings, true, func(st *models.Setting) bool {
		return category == "" || st.Category == category
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}
