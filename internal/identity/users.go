package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"
)

// Users holds admin-only user management.
type Users struct {
	store storage.Storage
}

func NewUsers(store storage.Storage) *Users {
	return &Users{store: store}
}

func requireAdmin(actor *models.User) error {
	if actor == nil {
		return apperr.Unauthenticated("not signed in")
	}
	if actor.Role != models.RoleAdmin {
		return apperr.Forbidden("admin only")
	}
	return nil
}

// Assignee loads the user a complaint or suggestion is being assigned to.
// Unknown ids and non-staff users are validation errors.
func Assignee(ctx context.Context, store storage.Storage, id string) (*models.User, error) {
	u, err := store.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Validation("assignee %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !u.Role.IsStaff() {
		return nil, apperr.Validation("assignee must be staff")
	}
	return u, nil
}

func (s *Users) List(ctx context.Context, actor *models.User, roles ...models.Role) ([]models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx, roles...)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return users, nil
}

// SetRole changes the role of userID. Actor may be nil for operator tooling,
// in which case actorID is recorded as "system".
func (s *Users) SetRole(ctx context.Context, actor *models.User, userID string, role models.Role) (*models.User, error) {
	actorID := "system"
	if actor != nil {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
		actorID = actor.ID
	}
	if !role.Valid() {
		return nil, apperr.Validation("invalid role %q", role)
	}

	var out *models.User
	err := s.store.Transaction(ctx, func(tx storage.Storage) error {
		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.NotFound("user")
			}
			return apperr.Internal(err)
		}
		prev := u.Role
		u.Role = role
		if err := tx.SaveUser(ctx, u); err != nil {
			return apperr.Internal(err)
		}
		out = u
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionUpdateRole,
			EntityType: models.EntityUser,
			EntityID:   u.ID,
			Detail:     fmt.Sprintf("role %s -> %s", prev, role),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create adds a user ahead of their first sign-in.
func (s *Users) Create(ctx context.Context, actor *models.User, name, email string, role models.Role) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("name and a valid email are required")
	}
	if !role.Valid() {
		return nil, apperr.Validation("invalid role %q", role)
	}

	u := &models.User{Name: name, Email: email, Role: role}
	err := s.store.Transaction(ctx, func(tx storage.Storage) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.Conflict("email already registered")
			}
			return apperr.Internal(err)
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionCreate,
			EntityType: models.EntityUser,
			EntityID:   u.ID,
			Detail:     fmt.Sprintf("created %s as %s", email, role),
		})
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
