package store

import "time"

// BlockSource records why an identity is blocked. Only the remote mirror may
// clear a BlockRemote block; the other sources need an administrator.
type BlockSource string

const (
	BlockNone      BlockSource = ""
	BlockLockout   BlockSource = "lockout"
	BlockEscalated BlockSource = "escalated"
	BlockAdmin     BlockSource = "admin"
	BlockRemote    BlockSource = "remote"
)

type Identity struct {
	ID             int64       `json:"id"`
	UID            string      `json:"uid"`
	Email          string      `json:"email"`
	PasswordHash   string      `json:"-"`
	PasswordSalt   string      `json:"-"`
	FirstName      string      `json:"prenom"`
	LastName       string      `json:"nom"`
	NumEtu         string      `json:"numEtu,omitempty"`
	Role           string      `json:"role"`
	RemoteID       string      `json:"remoteId,omitempty"`
	SyncedToRemote bool        `json:"syncedToRemote"`
	FailedAttempts int         `json:"failedAttempts"`
	BlockedUntil   *time.Time  `json:"blockedUntil,omitempty"`
	BlockSource    BlockSource `json:"blockSource,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	switch {
	case i.FirstName != "" && i.LastName != "":
		return i.FirstName + " " + i.LastName
	case i.FirstName != "":
		return i.FirstName
	default:
		return i.LastName
	}
}

// IsBlocked reports whether a durable block is active at now.
func (i *Identity) IsBlocked(now time.Time) bool {
	return i != nil && i.BlockedUntil != nil && i.BlockedUntil.After(now)
}

type Report struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Status         string     `json:"status"`
	SurfaceM2      float64    `json:"surfaceM2"`
	BudgetAr       float64    `json:"budgetAr"`
	Entreprise     string     `json:"entreprise"`
	Niveau         int        `json:"niveau"`
	UserUID        string     `json:"userUid"`
	UserEmail      string     `json:"userEmail"`
	PhotoURL       string     `json:"photoUrl,omitempty"`
	RemoteID       string     `json:"remoteId,omitempty"`
	SyncedToRemote bool       `json:"syncedToRemote"`
	DateNouveau    *time.Time `json:"dateNouveau,omitempty"`
	DateEnCours    *time.Time `json:"dateEnCours,omitempty"`
	DateTermine    *time.Time `json:"dateTermine,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type AuditRecord struct {
	ID         int64     `json:"id"`
	ActorEmail string    `json:"actor_email"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}
