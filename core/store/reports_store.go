package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type ReportsStore interface {
	Create(ctx context.Context, r *Report) (int64, error)
	Get(ctx context.Context, id int64) (*Report, error)
	FindByRemoteID(ctx context.Context, remoteID string) (*Report, error)
	List(ctx context.Context) ([]Report, error)
	ListUnsynced(ctx context.Context) ([]Report, error)
	Update(ctx context.Context, r *Report) error
	MarkSynced(ctx context.Context, id int64, remoteID string) error
	Counts(ctx context.Context) (total int, unsynced int, err error)
}

type reportsStore struct {
	db *sql.DB
}

func NewReportsStore(db *sql.DB) ReportsStore {
	return &reportsStore{db: db}
}

const reportColumns = `id, title, description, latitude, longitude, status, surface_m2, budget_ar, entreprise, niveau, user_uid, user_email, photo_url, remote_id, synced_to_remote, date_nouveau, date_en_cours, date_termine, created_at, updated_at`

func (s *reportsStore) Create(ctx context.Context, r *Report) (int64, error) {
	now := time.Now().UTC()
	if strings.TrimSpace(r.Status) == "" {
		r.Status = "NOUVEAU"
	}
	if r.Niveau <= 0 {
		r.Niveau = 1
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports(title, description, latitude, longitude, status, surface_m2, budget_ar, entreprise, niveau, user_uid, user_email, photo_url, remote_id, synced_to_remote, date_nouveau, date_en_cours, date_termine, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.Title, r.Description, r.Latitude, r.Longitude, r.Status, r.SurfaceM2, r.BudgetAr, r.Entreprise, r.Niveau, r.UserUID, r.UserEmail, r.PhotoURL,
		nullableString(r.RemoteID), boolToInt(r.SyncedToRemote), nullableTime(r.DateNouveau), nullableTime(r.DateEnCours), nullableTime(r.DateTermine), created.UTC(), now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	r.CreatedAt = created.UTC()
	r.UpdatedAt = now
	return id, nil
}

func (s *reportsStore) Get(ctx context.Context, id int64) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id)
	return scanReport(row)
}

func (s *reportsStore) FindByRemoteID(ctx context.Context, remoteID string) (*Report, error) {
	if strings.TrimSpace(remoteID) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE remote_id=?`, remoteID)
	return scanReport(row)
}

func (s *reportsStore) List(ctx context.Context) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

func (s *reportsStore) ListUnsynced(ctx context.Context) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE synced_to_remote=0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

func (s *reportsStore) Update(ctx context.Context, r *Report) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE reports SET title=?, description=?, latitude=?, longitude=?, status=?, surface_m2=?, budget_ar=?, entreprise=?, niveau=?, user_uid=?, user_email=?, photo_url=?, remote_id=?, synced_to_remote=?, date_nouveau=?, date_en_cours=?, date_termine=?, updated_at=?
		WHERE id=?`,
		r.Title, r.Description, r.Latitude, r.Longitude, r.Status, r.SurfaceM2, r.BudgetAr, r.Entreprise, r.Niveau, r.UserUID, r.UserEmail, r.PhotoURL,
		nullableString(r.RemoteID), boolToInt(r.SyncedToRemote), nullableTime(r.DateNouveau), nullableTime(r.DateEnCours), nullableTime(r.DateTermine), now, r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	r.UpdatedAt = now
	return nil
}

func (s *reportsStore) MarkSynced(ctx context.Context, id int64, remoteID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reports SET remote_id=?, synced_to_remote=1, updated_at=? WHERE id=?`,
		nullableString(remoteID), time.Now().UTC(), id)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *reportsStore) Counts(ctx context.Context) (int, int, error) {
	var total, unsynced int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM reports`).Scan(&total); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM reports WHERE synced_to_remote=0`).Scan(&unsynced); err != nil {
		return 0, 0, err
	}
	return total, unsynced, nil
}

func scanReport(row *sql.Row) (*Report, error) {
	r, err := scanReportRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func scanReports(rows *sql.Rows) ([]Report, error) {
	var res []Report
	for rows.Next() {
		r, err := scanReportRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}
	return res, rows.Err()
}

func scanReportRow(row rowScanner) (*Report, error) {
	var r Report
	var remoteID sql.NullString
	var dNouveau, dEnCours, dTermine sql.NullTime
	if err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Latitude, &r.Longitude, &r.Status, &r.SurfaceM2, &r.BudgetAr, &r.Entreprise, &r.Niveau,
		&r.UserUID, &r.UserEmail, &r.PhotoURL, &remoteID, &r.SyncedToRemote, &dNouveau, &dEnCours, &dTermine, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.RemoteID = remoteID.String
	r.DateNouveau = timePtr(dNouveau)
	r.DateEnCours = timePtr(dEnCours)
	r.DateTermine = timePtr(dTermine)
	return &r, nil
}
