package syncer

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"roadworks-hub/core/store"
)

// remoteReport is the record shape under signalements/<key>.
type remoteReport struct {
	ID          json.RawMessage `json:"id,omitempty"`
	FirebaseKey string          `json:"firebaseKey,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	Status      string          `json:"status"`
	SurfaceM2   float64         `json:"surfaceM2"`
	BudgetAr    float64         `json:"budgetAr"`
	Entreprise  string          `json:"entreprise"`
	Niveau      int             `json:"niveau"`
	UserUID     string          `json:"userUid"`
	UserEmail   string          `json:"userEmail"`
	PhotoURL    string          `json:"photoUrl,omitempty"`
	DateNouveau string          `json:"dateNouveau,omitempty"`
	DateEnCours string          `json:"dateEnCours,omitempty"`
	DateTermine string          `json:"dateTermine,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`
	Photos      []remotePhoto   `json:"photos,omitempty"`
}

type remotePhoto struct {
	PixelData string `json:"pixelData"`
	MimeType  string `json:"mimeType"`
}

// localID extracts the numeric id, which may arrive as a number or a string.
func (r remoteReport) localID() (int64, bool) {
	raw := strings.Trim(strings.TrimSpace(string(r.ID)), `"`)
	if raw == "" || raw == "null" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func toRemoteReport(r *store.Report, key string) remoteReport {
	return remoteReport{
		ID:          json.RawMessage(strconv.FormatInt(r.ID, 10)),
		FirebaseKey: key,
		Title:       r.Title,
		Description: r.Description,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Status:      r.Status,
		SurfaceM2:   r.SurfaceM2,
		BudgetAr:    r.BudgetAr,
		Entreprise:  r.Entreprise,
		Niveau:      r.Niveau,
		UserUID:     r.UserUID,
		UserEmail:   r.UserEmail,
		PhotoURL:    r.PhotoURL,
		DateNouveau: formatTime(r.DateNouveau),
		DateEnCours: formatTime(r.DateEnCours),
		DateTermine: formatTime(r.DateTermine),
		CreatedAt:   formatTime(&r.CreatedAt),
		UpdatedAt:   formatTime(&r.UpdatedAt),
	}
}

func (r remoteReport) toLocal(key string, now time.Time) *store.Report {
	created := parseTime(r.CreatedAt)
	if created == nil {
		created = &now
	}
	return &store.Report{
		Title:          r.Title,
		Description:    r.Description,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Status:         strings.ToUpper(strings.TrimSpace(r.Status)),
		SurfaceM2:      r.SurfaceM2,
		BudgetAr:       r.BudgetAr,
		Entreprise:     r.Entreprise,
		Niveau:         r.Niveau,
		UserUID:        r.UserUID,
		UserEmail:      strings.ToLower(strings.TrimSpace(r.UserEmail)),
		PhotoURL:       r.PhotoURL,
		RemoteID:       key,
		SyncedToRemote: true,
		DateNouveau:    parseTime(r.DateNouveau),
		DateEnCours:    parseTime(r.DateEnCours),
		DateTermine:    parseTime(r.DateTermine),
		CreatedAt:      *created,
	}
}

func formatTime(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}
