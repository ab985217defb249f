package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"roadworks-hub/config"
	"roadworks-hub/core/utils"
)

type Clients struct {
	Gateway  IdentityGateway
	Database Database
}

// Connect builds the Admin SDK clients. It does not contact the service.
func Connect(ctx context.Context, cfg config.RemoteConfig, logger *utils.Logger) (*Clients, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	dbClient, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase database: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	signIn := newPasswordSignIn(cfg.SignInURL, cfg.APIKey, timeout)
	logger.Printf("remote: firebase clients ready project=%s", cfg.ProjectID)
	return &Clients{
		Gateway:  &firebaseGateway{client: authClient, signIn: signIn, timeout: timeout},
		Database: &firebaseDatabase{client: dbClient, timeout: timeout},
	}, nil
}

type firebaseGateway struct {
	client  *auth.Client
	signIn  *passwordSignIn
	timeout time.Duration
}

func (g *firebaseGateway) CreateAccount(ctx context.Context, email, password, displayName string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	params := (&auth.UserToCreate{}).Email(email).EmailVerified(false).Disabled(false)
	if password != "" {
		params = params.Password(password)
	}
	if strings.TrimSpace(displayName) != "" {
		params = params.DisplayName(displayName)
	}
	rec, err := g.client.CreateUser(ctx, params)
	if err != nil {
		return nil, classifyAuthError(err)
	}
	return accountFromRecord(rec), nil
}

func (g *firebaseGateway) GetByEmail(ctx context.Context, email string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	rec, err := g.client.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, classifyAuthError(err)
	}
	return accountFromRecord(rec), nil
}

func (g *firebaseGateway) GetByUID(ctx context.Context, uid string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	rec, err := g.client.GetUser(ctx, uid)
	if err != nil {
		return nil, classifyAuthError(err)
	}
	return accountFromRecord(rec), nil
}

func (g *firebaseGateway) Update(ctx context.Context, uid string, upd AccountUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	params := &auth.UserToUpdate{}
	if upd.DisplayName != nil {
		params = params.DisplayName(*upd.DisplayName)
	}
	if upd.Disabled != nil {
		params = params.Disabled(*upd.Disabled)
	}
	if upd.Password != nil {
		params = params.Password(*upd.Password)
	}
	if _, err := g.client.UpdateUser(ctx, uid, params); err != nil {
		return classifyAuthError(err)
	}
	return nil
}

func (g *firebaseGateway) SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.client.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return classifyAuthError(err)
	}
	return nil
}

// ListAll pages through every account. The whole listing shares one
// deadline of four times the per-call timeout.
func (g *firebaseGateway) ListAll(ctx context.Context) ([]Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*g.timeout)
	defer cancel()
	var out []Account
	it := g.client.Users(ctx, "")
	for {
		rec, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classifyAuthError(err)
		}
		if rec == nil || rec.UserRecord == nil {
			continue
		}
		out = append(out, *accountFromRecord(rec.UserRecord))
	}
	return out, nil
}

func (g *firebaseGateway) VerifyPassword(ctx context.Context, email, password string) (*Account, error) {
	uid, err := g.signIn.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}
	acc, err := g.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if acc.Disabled {
		return nil, ErrDisabled
	}
	return acc, nil
}

func accountFromRecord(rec *auth.UserRecord) *Account {
	if rec == nil || rec.UserInfo == nil {
		return &Account{}
	}
	return &Account{
		UID:         rec.UID,
		Email:       strings.ToLower(rec.Email),
		DisplayName: rec.DisplayName,
		Disabled:    rec.Disabled,
		Claims:      rec.CustomClaims,
	}
}

func classifyAuthError(err error) error {
	switch {
	case err == nil:
		return nil
	case auth.IsUserNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case auth.IsEmailAlreadyExists(err):
		return fmt.Errorf("%w: %v", ErrEmailExists, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

type firebaseDatabase struct {
	client  *db.Client
	timeout time.Duration
}

func (d *firebaseDatabase) ReadSubtree(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	out := map[string]json.RawMessage{}
	if err := d.client.NewRef(path).Get(ctx, &out); err != nil {
		return nil, classifyDBError(err)
	}
	return out, nil
}

func (d *firebaseDatabase) Write(ctx context.Context, path string, record any) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return classifyDBError(d.client.NewRef(path).Set(ctx, record))
}

func (d *firebaseDatabase) Update(ctx context.Context, path string, fields map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return classifyDBError(d.client.NewRef(path).Update(ctx, fields))
}

func (d *firebaseDatabase) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return classifyDBError(d.client.NewRef(path).Delete(ctx))
}

func classifyDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
