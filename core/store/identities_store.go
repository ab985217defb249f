package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type IdentitiesStore interface {
	Create(ctx context.Context, ident *Identity) (int64, error)
	Get(ctx context.Context, id int64) (*Identity, error)
	FindByUID(ctx context.Context, uid string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByRemoteID(ctx context.Context, remoteID string) (*Identity, error)
	List(ctx context.Context) ([]Identity, error)
	ListUnsynced(ctx context.Context) ([]Identity, error)
	Update(ctx context.Context, ident *Identity) error
	SetLockout(ctx context.Context, id int64, failedAttempts int, blockedUntil *time.Time, source BlockSource) error
	MarkSynced(ctx context.Context, id int64, remoteID string) error
	MarkUnsynced(ctx context.Context, id int64) error
	Counts(ctx context.Context) (total int, unsynced int, err error)
}

type identitiesStore struct {
	db *sql.DB
}

func NewIdentitiesStore(db *sql.DB) IdentitiesStore {
	return &identitiesStore{db: db}
}

const identityColumns = `id, uid, email, password_hash, password_salt, first_name, last_name, num_etu, role, remote_id, synced_to_remote, failed_attempts, blocked_until, block_source, created_at, updated_at`

func (s *identitiesStore) Create(ctx context.Context, ident *Identity) (int64, error) {
	now := time.Now().UTC()
	ident.Email = strings.ToLower(strings.TrimSpace(ident.Email))
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO identities(uid, email, password_hash, password_salt, first_name, last_name, num_etu, role, remote_id, synced_to_remote, failed_attempts, blocked_until, block_source, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ident.UID, ident.Email, ident.PasswordHash, ident.PasswordSalt, ident.FirstName, ident.LastName, ident.NumEtu, ident.Role,
		nullableString(ident.RemoteID), boolToInt(ident.SyncedToRemote), ident.FailedAttempts, nullableTime(ident.BlockedUntil), string(ident.BlockSource), now, now)
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
	ident.ID = id
	ident.CreatedAt = now
	ident.UpdatedAt = now
	return id, nil
}

func (s *identitiesStore) Get(ctx context.Context, id int64) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id=?`, id)
	return scanIdentity(row)
}

func (s *identitiesStore) FindByUID(ctx context.Context, uid string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE uid=?`, strings.TrimSpace(uid))
	return scanIdentity(row)
}

func (s *identitiesStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE email=?`, strings.ToLower(strings.TrimSpace(email)))
	return scanIdentity(row)
}

func (s *identitiesStore) FindByRemoteID(ctx context.Context, remoteID string) (*Identity, error) {
	if strings.TrimSpace(remoteID) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE remote_id=?`, remoteID)
	return scanIdentity(row)
}

func (s *identitiesStore) List(ctx context.Context) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIdentities(rows)
}

func (s *identitiesStore) ListUnsynced(ctx context.Context) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE synced_to_remote=0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIdentities(rows)
}

func (s *identitiesStore) Update(ctx context.Context, ident *Identity) error {
	now := time.Now().UTC()
	ident.Email = strings.ToLower(strings.TrimSpace(ident.Email))
	_, err := s.db.ExecContext(ctx, `
		UPDATE identities SET email=?, password_hash=?, password_salt=?, first_name=?, last_name=?, num_etu=?, role=?, remote_id=?, synced_to_remote=?, failed_attempts=?, blocked_until=?, block_source=?, updated_at=?
		WHERE id=?`,
		ident.Email, ident.PasswordHash, ident.PasswordSalt, ident.FirstName, ident.LastName, ident.NumEtu, ident.Role,
		nullableString(ident.RemoteID), boolToInt(ident.SyncedToRemote), ident.FailedAttempts, nullableTime(ident.BlockedUntil), string(ident.BlockSource), now, ident.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	ident.UpdatedAt = now
	return nil
}

func (s *identitiesStore) SetLockout(ctx context.Context, id int64, failedAttempts int, blockedUntil *time.Time, source BlockSource) error {
	if blockedUntil == nil {
		source = BlockNone
	}
	_, err := s.db.ExecContext(ctx, `UPDATE identities SET failed_attempts=?, blocked_until=?, block_source=?, updated_at=? WHERE id=?`,
		failedAttempts, nullableTime(blockedUntil), string(source), time.Now().UTC(), id)
	return err
}

func (s *identitiesStore) MarkSynced(ctx context.Context, id int64, remoteID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE identities SET remote_id=?, synced_to_remote=1, updated_at=? WHERE id=?`,
		nullableString(remoteID), time.Now().UTC(), id)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *identitiesStore) MarkUnsynced(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE identities SET synced_to_remote=0, updated_at=? WHERE id=?`, time.Now().UTC(), id)
	return err
}

func (s *identitiesStore) Counts(ctx context.Context) (int, int, error) {
	var total, unsynced int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM identities`).Scan(&total); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM identities WHERE synced_to_remote=0`).Scan(&unsynced); err != nil {
		return 0, 0, err
	}
	return total, unsynced, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	ident, err := scanIdentityRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ident, err
}

func scanIdentities(rows *sql.Rows) ([]Identity, error) {
	var res []Identity
	for rows.Next() {
		ident, err := scanIdentityRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *ident)
	}
	return res, rows.Err()
}

func scanIdentityRow(row rowScanner) (*Identity, error) {
	var ident Identity
	var remoteID sql.NullString
	var blocked sql.NullTime
	var source string
	if err := row.Scan(&ident.ID, &ident.UID, &ident.Email, &ident.PasswordHash, &ident.PasswordSalt, &ident.FirstName, &ident.LastName,
		&ident.NumEtu, &ident.Role, &remoteID, &ident.SyncedToRemote, &ident.FailedAttempts, &blocked, &source, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		return nil, err
	}
	ident.RemoteID = remoteID.String
	ident.BlockedUntil = timePtr(blocked)
	ident.BlockSource = BlockSource(source)
	return &ident, nil
}
