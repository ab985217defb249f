package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roadworks-hub/core/store"
	"roadworks-hub/core/utils"
)

type OnlineChecker interface {
	IsOnline(ctx context.Context) bool
	ForceCheck(ctx context.Context) bool
}

// Backend is one place identities can live. Errors returned by a backend
// wrap the sentinels in errors.go.
type Backend interface {
	Name() string
	Register(ctx context.Context, req RegisterRequest) (*Principal, error)
	Authenticate(ctx context.Context, email, password string) (*Principal, error)
	UpdateProfile(ctx context.Context, subjectID string, upd ProfileUpdate) (*Principal, error)
	// Lookup returns the identity for email without checking credentials.
	Lookup(ctx context.Context, email string) (*Principal, error)
}

type LocalBackend struct {
	identities store.IdentitiesStore
	pepper     string
	logger     *utils.Logger
}

func NewLocalBackend(identities store.IdentitiesStore, pepper string, logger *utils.Logger) *LocalBackend {
	return &LocalBackend{identities: identities, pepper: pepper, logger: logger}
}

func (b *LocalBackend) Name() string { return BackendLocal }

func (b *LocalBackend) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	ph, err := HashPassword(req.Password, b.pepper)
	if err != nil {
		return nil, err
	}
	ident := &store.Identity{
		UID:          utils.NewUID(),
		Email:        req.Email,
		PasswordHash: ph.Hash,
		PasswordSalt: ph.Salt,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		NumEtu:       req.NumEtu,
		Role:         req.Role,
	}
	if _, err := b.identities.Create(ctx, ident); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("local register: %w", err)
	}
	return principalOf(ident), nil
}

func (b *LocalBackend) Authenticate(ctx context.Context, email, password string) (*Principal, error) {
	ident, err := b.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("local authenticate: %w", err)
	}
	if ident == nil || !CheckPassword(password, b.pepper, ident.PasswordHash, ident.PasswordSalt) {
		return nil, ErrInvalidCredentials
	}
	return principalOf(ident), nil
}

func (b *LocalBackend) UpdateProfile(ctx context.Context, subjectID string, upd ProfileUpdate) (*Principal, error) {
	ident, err := b.identities.FindByUID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("local update: %w", err)
	}
	if ident == nil {
		return nil, ErrNotFound
	}
	applyProfile(ident, upd)
	ident.SyncedToRemote = false
	if err := b.identities.Update(ctx, ident); err != nil {
		return nil, fmt.Errorf("local update: %w", err)
	}
	return principalOf(ident), nil
}

func (b *LocalBackend) Lookup(ctx context.Context, email string) (*Principal, error) {
	ident, err := b.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, ErrNotFound
	}
	return principalOf(ident), nil
}

func applyProfile(ident *store.Identity, upd ProfileUpdate) {
	if upd.FirstName != nil {
		ident.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		ident.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.NumEtu != nil {
		ident.NumEtu = strings.TrimSpace(*upd.NumEtu)
	}
	if upd.Role != nil && strings.TrimSpace(*upd.Role) != "" {
		ident.Role = strings.ToUpper(strings.TrimSpace(*upd.Role))
	}
}

func principalOf(ident *store.Identity) *Principal {
	return &Principal{SubjectID: ident.UID, Email: ident.Email, Role: ident.Role, RemoteID: ident.RemoteID}
}
