package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roadworks-hub/core/auth"
	"roadworks-hub/core/rbac"
	"roadworks-hub/core/store"
	"roadworks-hub/core/utils"
)

type ManagerRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// EnsureManager creates a local MANAGER identity or promotes the existing
// one and resets its password. The record is left pending so the next sync
// run pushes the role claim to the remote account.
func EnsureManager(ctx context.Context, identities store.IdentitiesStore, req ManagerRequest, pepper string, logger *utils.Logger) (bool, error) {
	email := utils.NormalizeEmail(req.Email)
	if err := utils.ValidateEmail(email); err != nil {
		return false, err
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		return false, err
	}
	ph, err := auth.HashPassword(req.Password, pepper)
	if err != nil {
		return false, err
	}
	existing, err := identities.FindByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if existing != nil {
		existing.Role = rbac.RoleManager
		existing.PasswordHash = ph.Hash
		existing.PasswordSalt = ph.Salt
		if strings.TrimSpace(req.FirstName) != "" {
			existing.FirstName = strings.TrimSpace(req.FirstName)
		}
		if strings.TrimSpace(req.LastName) != "" {
			existing.LastName = strings.TrimSpace(req.LastName)
		}
		existing.SyncedToRemote = false
		if err := identities.Update(ctx, existing); err != nil {
			return false, fmt.Errorf("promote manager: %w", err)
		}
		logger.Printf("bootstrap: %s promoted to %s", email, rbac.RoleManager)
		return false, nil
	}
	ident := &store.Identity{
		UID:          utils.NewUID(),
		Email:        email,
		PasswordHash: ph.Hash,
		PasswordSalt: ph.Salt,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         rbac.RoleManager,
	}
	if _, err := identities.Create(ctx, ident); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, auth.ErrDuplicateEmail
		}
		return false, fmt.Errorf("create manager: %w", err)
	}
	logger.Printf("bootstrap: manager %s created", email)
	return true, nil
}
