package syncer

import (
	"context"
	"time"
)

// Counts tallies one phase of a run. A record lands in exactly one bucket.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (c Counts) Total() int { return c.Created + c.Updated + c.Skipped + c.Failed }

func (c *Counts) add(o Counts) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.Skipped += o.Skipped
	c.Failed += o.Failed
}

// EntityCounts splits one entity type's work by direction. For identities
// Pull is the disabled-flag mirror.
type EntityCounts struct {
	Push Counts `json:"push"`
	Pull Counts `json:"pull"`
}

type Result struct {
	Online     bool          `json:"online"`
	Identities EntityCounts  `json:"identities"`
	Reports    EntityCounts  `json:"reports"`
	StartedAt  time.Time     `json:"startedAt"`
	Took       time.Duration `json:"took"`
}

type SyncStatus struct {
	TotalLocal    int  `json:"totalLocal"`
	UnsyncedCount int  `json:"unsyncedCount"`
	SyncedCount   int  `json:"syncedCount"`
	Online        bool `json:"online"`
}

type StatusReport struct {
	Identities SyncStatus `json:"identities"`
	Reports    SyncStatus `json:"reports"`
}

type OnlineChecker interface {
	IsOnline(ctx context.Context) bool
	ForceCheck(ctx context.Context) bool
}

// Observer receives per-phase results; the metrics recorder implements it.
type Observer interface {
	ObserveSync(entity, phase string, c Counts, took time.Duration)
}

const (
	EntityIdentities = "identities"
	EntityReports    = "reports"
	PhasePush        = "push"
	PhasePull        = "pull"
)
