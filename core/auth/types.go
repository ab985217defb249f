package auth

import "time"

type ResultCode string

const (
	CodeOK                 ResultCode = "ok"
	CodeInvalidCredentials ResultCode = "invalid_credentials"
	CodeLocked             ResultCode = "locked"
	CodeDuplicate          ResultCode = "duplicate"
	CodeInvalidRequest     ResultCode = "invalid_request"
	CodeNotFound           ResultCode = "not_found"
	CodeUnavailable        ResultCode = "unavailable"
)

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// AuthResult is the single outcome shape of every router operation; the
// router never returns a Go error to its callers.
type AuthResult struct {
	Success   bool       `json:"success"`
	Code      ResultCode `json:"code"`
	SubjectID string     `json:"subjectId,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Backend   string     `json:"backendUsed,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"prenom"`
	LastName  string `json:"nom"`
	NumEtu    string `json:"numEtu"`
	Role      string `json:"role,omitempty"`
}

func (r RegisterRequest) DisplayName() string {
	switch {
	case r.FirstName != "" && r.LastName != "":
		return r.FirstName + " " + r.LastName
	case r.FirstName != "":
		return r.FirstName
	default:
		return r.LastName
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate carries optional fields; nil means unchanged.
type ProfileUpdate struct {
	FirstName *string `json:"prenom,omitempty"`
	LastName  *string `json:"nom,omitempty"`
	NumEtu    *string `json:"numEtu,omitempty"`
	Role      *string `json:"role,omitempty"`
}

func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.NumEtu == nil && u.Role == nil
}

// Principal is what a backend returns for an authenticated or created identity.
type Principal struct {
	SubjectID string
	Email     string
	Role      string
	RemoteID  string
}

type Status struct {
	Mode             string `json:"mode"`
	Online           bool   `json:"online"`
	Backend          string `json:"backend"`
	RemoteConfigured bool   `json:"remoteConfigured"`
}
