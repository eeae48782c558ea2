// Package identity maps authenticated principals onto internal users and
// holds the admin-side user management operations.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"
)

// Resolver finds or provisions the internal user of a principal.
type Resolver struct {
	store storage.Storage
}

func NewResolver(store storage.Storage) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks the principal up by external id, then by email, and otherwise
// creates a STUDENT. An email match is linked to the external id only while the
// user has none; a user already linked elsewhere is a conflict.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (*models.User, error) {
	if p.ExternalID == "" {
		return nil, apperr.Unauthenticated("no principal")
	}

	u, err := r.store.GetUserByExternalID(ctx, p.ExternalID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Internal(err)
	}

	email := normalizeEmail(p.Email)
	if email != "" {
		u, err = r.store.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			if u.ExternalID != nil {
				slog.Warn("email already linked to another identity", "user_id", u.ID)
				return nil, apperr.Conflict("email is linked to another identity")
			}
			ext := p.ExternalID
			u.ExternalID = &ext
			if err := r.store.SaveUser(ctx, u); err != nil {
				return nil, apperr.Internal(fmt.Errorf("link external id: %w", err))
			}
			slog.Info("linked external identity", "user_id", u.ID)
			return u, nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, apperr.Internal(err)
		}
	}

	ext := p.ExternalID
	u = &models.User{
		Name:       displayName(p),
		Email:      email,
		Role:       models.RoleStudent,
		ExternalID: &ext,
	}
	if email == "" {
		u.Email = ext + "@users.invalid"
	}
	if err := r.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// A concurrent first request provisioned the same principal.
			if again, err := r.store.GetUserByExternalID(ctx, p.ExternalID); err == nil {
				return again, nil
			}
		}
		return nil, apperr.Internal(fmt.Errorf("provision user: %w", err))
	}
	slog.Info("provisioned user", "user_id", u.ID)
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func displayName(p Principal) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if i := strings.Index(p.Email, "@"); i > 0 {
		return p.Email[:i]
	}
	return "Student"
}
