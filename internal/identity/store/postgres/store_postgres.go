// Package postgres persists contact records in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"conflux/internal/identity/models"
	"conflux/internal/identity/store"
	dErrors "conflux/pkg/domain-errors"
)

// querier is satisfied by *sql.DB and *sql.Tx so the same store methods serve
// both direct and transactional use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL-backed contact store.
type Store struct {
	db *sql.DB
	q  querier
}

// New constructs a PostgreSQL-backed contact store.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

const contactColumns = `id, email, phone, linked_id, precedence, created_at, updated_at, deleted_at`

func (s *Store) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]models.ContactRecord, error) {
	if email == nil && phone == nil {
		return nil, nil
	}
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND ((email = $1 AND $1 IS NOT NULL) OR (phone = $2 AND $2 IS NOT NULL))
	`
	rows, err := s.q.QueryContext(ctx, query, nullString(email), nullString(phone))
	if err != nil {
		return nil, fmt.Errorf("find contacts by email or phone: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *Store) FindComponent(ctx context.Context, primaryID int64) ([]models.ContactRecord, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL AND (id = $1 OR linked_id = $1)
	`
	rows, err := s.q.QueryContext(ctx, query, primaryID)
	if err != nil {
		return nil, fmt.Errorf("find component: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *Store) ResolvePrimary(ctx context.Context, recordID int64) (models.ContactRecord, error) {
	// One hop is enough: linked_id always points directly at a primary.
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND id = (SELECT COALESCE(linked_id, id) FROM contacts WHERE id = $1 AND deleted_at IS NULL)
	`
	rec, err := scanContact(s.q.QueryRowContext(ctx, query, recordID))
	if err == sql.ErrNoRows {
		return models.ContactRecord{}, store.ErrNotFound
	}
	if err != nil {
		return models.ContactRecord{}, fmt.Errorf("resolve primary: %w", err)
	}
	return rec, nil
}

func (s *Store) Create(ctx context.Context, rec models.ContactRecord) (models.ContactRecord, error) {
	query := `
		INSERT INTO contacts (email, phone, linked_id, precedence)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + contactColumns + `
	`
	created, err := scanContact(s.q.QueryRowContext(ctx, query,
		nullString(rec.Email),
		nullString(rec.Phone),
		nullInt(rec.LinkedID),
		string(rec.Precedence),
	))
	if err != nil {
		return models.ContactRecord{}, fmt.Errorf("create contact: %w", err)
	}
	return created, nil
}

func (s *Store) Update(ctx context.Context, id int64, fields store.UpdateFields, expectedUpdatedAt *time.Time) (models.ContactRecord, error) {
	query := `
		UPDATE contacts
		SET precedence = COALESCE($2, precedence),
		    linked_id = COALESCE($3, linked_id),
		    updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND ($4::timestamptz IS NULL OR updated_at = $4)
		RETURNING ` + contactColumns + `
	`
	var precedence *string
	if fields.Precedence != nil {
		p := string(*fields.Precedence)
		precedence = &p
	}
	updated, err := scanContact(s.q.QueryRowContext(ctx, query,
		id, nullString(precedence), nullInt(fields.LinkedID), nullTime(expectedUpdatedAt)))
	if err == sql.ErrNoRows {
		return models.ContactRecord{}, s.classifyUpdateMiss(ctx, id)
	}
	if err != nil {
		return models.ContactRecord{}, fmt.Errorf("update contact: %w", err)
	}
	return updated, nil
}

// classifyUpdateMiss distinguishes a vanished record from a failed optimistic
// precondition.
func (s *Store) classifyUpdateMiss(ctx context.Context, id int64) error {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM contacts WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check contact existence: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// RelinkSecondaries repoints a batch of secondaries at a new primary in one
// statement.
func (s *Store) RelinkSecondaries(ctx context.Context, ids []int64, primaryID int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE contacts
		SET linked_id = $1, updated_at = now()
		WHERE id = ANY($2::bigint[]) AND deleted_at IS NULL
	`
	res, err := s.q.ExecContext(ctx, query, primaryID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("relink secondaries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("relink secondaries rows affected: %w", err)
	}
	if affected != int64(len(ids)) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("relinked %d of %d secondaries", affected, len(ids)))
	}
	return nil
}

// RunInTx runs fn inside a database transaction. The transactional store
// shares the receiver's behavior but routes every statement through the tx.
func (s *Store) RunInTx(ctx context.Context, fn func(store.ContactStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanContacts(rows *sql.Rows) ([]models.ContactRecord, error) {
	var out []models.ContactRecord
	for rows.Next() {
		rec, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanContact(row scannable) (models.ContactRecord, error) {
	var (
		rec       models.ContactRecord
		email     sql.NullString
		phone     sql.NullString
		linkedID  sql.NullInt64
		prec      string
		deletedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &email, &phone, &linkedID, &prec, &rec.CreatedAt, &rec.UpdatedAt, &deletedAt)
	if err != nil {
		return models.ContactRecord{}, err
	}
	if email.Valid {
		rec.Email = &email.String
	}
	if phone.Valid {
		rec.Phone = &phone.String
	}
	if linkedID.Valid {
		rec.LinkedID = &linkedID.Int64
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}
	rec.Precedence = models.Precedence(prec)
	return rec, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullInt(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
