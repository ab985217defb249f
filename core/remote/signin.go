package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultSignInURL = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// passwordSignIn checks email/password pairs against the Identity Toolkit
// REST endpoint. The Admin SDK has no password verification call.
type passwordSignIn struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func newPasswordSignIn(endpoint, apiKey string, timeout time.Duration) *passwordSignIn {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultSignInURL
	}
	return &passwordSignIn{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Verify returns the remote uid for valid credentials.
func (s *passwordSignIn) Verify(ctx context.Context, email, password string) (string, error) {
	if s == nil || s.apiKey == "" {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return "", err
	}
	endpoint := s.endpoint + "?key=" + url.QueryEscape(s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var out signInResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("sign-in decode (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil || resp.StatusCode != http.StatusOK {
		msg := ""
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", classifySignInError(msg)
	}
	if out.LocalID == "" {
		return "", fmt.Errorf("sign-in: empty localId")
	}
	return out.LocalID, nil
}

func classifySignInError(msg string) error {
	code := strings.ToUpper(strings.TrimSpace(msg))
	if i := strings.IndexAny(code, " :"); i > 0 {
		code = code[:i]
	}
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "MISSING_PASSWORD":
		return ErrInvalidPassword
	case "USER_DISABLED":
		return ErrDisabled
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return fmt.Errorf("%w: %s", ErrUnavailable, code)
	default:
		return fmt.Errorf("sign-in rejected: %s", msg)
	}
}
