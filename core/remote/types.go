// Package remote wraps the managed identity service and its realtime
// database behind narrow interfaces.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNotFound        = errors.New("remote: not found")
	ErrEmailExists     = errors.New("remote: email already exists")
	ErrInvalidPassword = errors.New("remote: invalid credentials")
	ErrDisabled        = errors.New("remote: account disabled")
	ErrUnavailable     = errors.New("remote: service unavailable")
	ErrNotConfigured   = errors.New("remote: not configured")
)

const (
	UsersPath   = "users"
	ReportsPath = "signalements"
)

type Account struct {
	UID         string         `json:"uid"`
	Email       string         `json:"email"`
	DisplayName string         `json:"displayName"`
	Disabled    bool           `json:"disabled"`
	Claims      map[string]any `json:"claims,omitempty"`
}

// ClaimString returns a string custom claim or "".
func (a *Account) ClaimString(key string) string {
	if a == nil || a.Claims == nil {
		return ""
	}
	if v, ok := a.Claims[key].(string); ok {
		return v
	}
	return ""
}

// AccountUpdate carries optional fields; nil means unchanged.
type AccountUpdate struct {
	DisplayName *string
	Disabled    *bool
	Password    *string
}

type IdentityGateway interface {
	CreateAccount(ctx context.Context, email, password, displayName string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByUID(ctx context.Context, uid string) (*Account, error)
	Update(ctx context.Context, uid string, upd AccountUpdate) error
	SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error
	ListAll(ctx context.Context) ([]Account, error)
	VerifyPassword(ctx context.Context, email, password string) (*Account, error)
}

// Database is the realtime tree store. ReadSubtree returns the direct
// children of path keyed by child key.
type Database interface {
	ReadSubtree(ctx context.Context, path string) (map[string]json.RawMessage, error)
	Write(ctx context.Context, path string, record any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
}

func JoinPath(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}

func BoolPtr(v bool) *bool { return &v }

func StringPtr(v string) *string { return &v }
