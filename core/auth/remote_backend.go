package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roadworks-hub/core/remote"
	"roadworks-hub/core/store"
	"roadworks-hub/core/utils"
)

// RemoteBackend authenticates against the managed identity service and
// keeps a local shadow record for every identity it creates or serves.
type RemoteBackend struct {
	gateway     remote.IdentityGateway
	database    remote.Database
	identities  store.IdentitiesStore
	pepper      string
	defaultRole string
	logger      *utils.Logger
}

func NewRemoteBackend(gateway remote.IdentityGateway, database remote.Database, identities store.IdentitiesStore, pepper, defaultRole string, logger *utils.Logger) *RemoteBackend {
	return &RemoteBackend{
		gateway:     gateway,
		database:    database,
		identities:  identities,
		pepper:      pepper,
		defaultRole: defaultRole,
		logger:      logger,
	}
}

func (b *RemoteBackend) Name() string { return BackendRemote }

func (b *RemoteBackend) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	acc, err := b.gateway.CreateAccount(ctx, req.Email, req.Password, req.DisplayName())
	if err != nil {
		return nil, remoteErr("remote register", err)
	}
	shadow, err := b.createShadow(ctx, req, acc.UID)
	if err != nil {
		// the remote account exists; the startup import will link it
		b.logger.Errorf("auth: local shadow for %s: %v", req.Email, err)
	}
	claims := map[string]any{"role": req.Role, "numEtu": req.NumEtu}
	subject := acc.UID
	if shadow != nil {
		claims["localUid"] = shadow.UID
		subject = shadow.UID
	}
	if err := b.gateway.SetCustomClaims(ctx, acc.UID, claims); err != nil {
		b.logger.Warnf("auth: set claims for %s: %v", req.Email, err)
	}
	if b.database != nil {
		projection := UserProjection(req.Email, req.FirstName, req.LastName, req.NumEtu, req.Role, acc.UID, subject, time.Now().UTC(), nil)
		if err := b.database.Write(ctx, remote.JoinPath(remote.UsersPath, acc.UID), projection); err != nil {
			b.logger.Warnf("auth: write user projection for %s: %v", req.Email, err)
		}
	}
	return &Principal{SubjectID: subject, Email: strings.ToLower(req.Email), Role: req.Role, RemoteID: acc.UID}, nil
}

func (b *RemoteBackend) createShadow(ctx context.Context, req RegisterRequest, remoteID string) (*store.Identity, error) {
	if b.identities == nil {
		return nil, nil
	}
	ph, err := HashPassword(req.Password, b.pepper)
	if err != nil {
		return nil, err
	}
	ident := &store.Identity{
		UID:            utils.NewUID(),
		Email:          req.Email,
		PasswordHash:   ph.Hash,
		PasswordSalt:   ph.Salt,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		NumEtu:         req.NumEtu,
		Role:           req.Role,
		RemoteID:       remoteID,
		SyncedToRemote: true,
	}
	if _, err := b.identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

func (b *RemoteBackend) Authenticate(ctx context.Context, email, password string) (*Principal, error) {
	acc, err := b.gateway.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, remoteErr("remote authenticate", err)
	}
	p := &Principal{SubjectID: acc.UID, Email: strings.ToLower(acc.Email), Role: acc.ClaimString("role"), RemoteID: acc.UID}
	if p.Email == "" {
		p.Email = email
	}
	if b.identities != nil {
		if shadow, err := b.findShadow(ctx, acc.UID, email); err != nil {
			b.logger.Warnf("auth: shadow lookup for %s: %v", email, err)
		} else if shadow != nil {
			p.SubjectID = shadow.UID
			if p.Role == "" {
				p.Role = shadow.Role
			}
			b.refreshShadowCredential(ctx, shadow, password)
		}
	}
	if p.Role == "" {
		p.Role = b.defaultRole
	}
	return p, nil
}

// refreshShadowCredential keeps the local hash in step with the remote
// password so the local fallback accepts the same credentials.
func (b *RemoteBackend) refreshShadowCredential(ctx context.Context, shadow *store.Identity, password string) {
	if CheckPassword(password, b.pepper, shadow.PasswordHash, shadow.PasswordSalt) {
		return
	}
	ph, err := HashPassword(password, b.pepper)
	if err != nil {
		return
	}
	shadow.PasswordHash = ph.Hash
	shadow.PasswordSalt = ph.Salt
	if err := b.identities.Update(ctx, shadow); err != nil {
		b.logger.Warnf("auth: refresh local credential for %s: %v", shadow.Email, err)
	}
}

func (b *RemoteBackend) findShadow(ctx context.Context, remoteID, email string) (*store.Identity, error) {
	shadow, err := b.identities.FindByRemoteID(ctx, remoteID)
	if err != nil || shadow != nil {
		return shadow, err
	}
	return b.identities.FindByEmail(ctx, email)
}

func (b *RemoteBackend) UpdateProfile(ctx context.Context, subjectID string, upd ProfileUpdate) (*Principal, error) {
	acc, err := b.gateway.GetByUID(ctx, subjectID)
	if err != nil {
		return nil, remoteErr("remote update", err)
	}
	first, last := splitDisplayName(acc.DisplayName)
	if upd.FirstName != nil {
		first = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		last = strings.TrimSpace(*upd.LastName)
	}
	display := strings.TrimSpace(first + " " + last)
	if err := b.gateway.Update(ctx, acc.UID, remote.AccountUpdate{DisplayName: &display}); err != nil {
		return nil, remoteErr("remote update", err)
	}
	claims := map[string]any{}
	for k, v := range acc.Claims {
		claims[k] = v
	}
	if upd.Role != nil && strings.TrimSpace(*upd.Role) != "" {
		claims["role"] = strings.ToUpper(strings.TrimSpace(*upd.Role))
	}
	if upd.NumEtu != nil {
		claims["numEtu"] = strings.TrimSpace(*upd.NumEtu)
	}
	if err := b.gateway.SetCustomClaims(ctx, acc.UID, claims); err != nil {
		return nil, remoteErr("remote update claims", err)
	}
	role, _ := claims["role"].(string)
	if b.database != nil {
		fields := map[string]any{"prenom": first, "nom": last, "role": role}
		if v, ok := claims["numEtu"].(string); ok {
			fields["numEtu"] = v
		}
		if err := b.database.Update(ctx, remote.JoinPath(remote.UsersPath, acc.UID), fields); err != nil {
			b.logger.Warnf("auth: update user projection for %s: %v", acc.Email, err)
		}
	}
	if role == "" {
		role = b.defaultRole
	}
	return &Principal{SubjectID: acc.UID, Email: acc.Email, Role: role, RemoteID: acc.UID}, nil
}

func (b *RemoteBackend) Lookup(ctx context.Context, email string) (*Principal, error) {
	acc, err := b.gateway.GetByEmail(ctx, email)
	if err != nil {
		return nil, remoteErr("remote lookup", err)
	}
	return &Principal{SubjectID: acc.UID, Email: acc.Email, Role: acc.ClaimString("role"), RemoteID: acc.UID}, nil
}

// UserProjection is the public record written under users/<uid>. It never
// carries credentials.
func UserProjection(email, firstName, lastName, numEtu, role, remoteID, localUID string, createdAt time.Time, blockedUntil *time.Time) map[string]any {
	out := map[string]any{
		"uid":         localUID,
		"email":       strings.ToLower(email),
		"prenom":      firstName,
		"nom":         lastName,
		"numEtu":      numEtu,
		"role":        role,
		"firebaseUid": remoteID,
		"createdAt":   createdAt.UTC().Format(time.RFC3339),
	}
	if blockedUntil != nil {
		out["blockedUntil"] = blockedUntil.UTC().Format(time.RFC3339)
	} else {
		out["blockedUntil"] = nil
	}
	return out
}

// SplitDisplayName splits "First Last..." into first name and the rest.
func SplitDisplayName(name string) (string, string) {
	return splitDisplayName(name)
}

func splitDisplayName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func remoteErr(op string, err error) error {
	switch {
	case errors.Is(err, remote.ErrInvalidPassword), errors.Is(err, remote.ErrNotFound) && op == "remote authenticate":
		return ErrInvalidCredentials
	case errors.Is(err, remote.ErrDisabled):
		return ErrAccountLocked
	case errors.Is(err, remote.ErrEmailExists):
		return ErrDuplicateEmail
	case errors.Is(err, remote.ErrNotFound):
		return ErrNotFound
	default:
		// transport, timeout and unclassified remote failures
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
}
