package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"sante/internal/identity/models"
	id "sante/pkg/domain"
	"sante/pkg/platform/sentinel"
	"sante/pkg/platform/tx"
)

// PostgresStore persists identity records in PostgreSQL. Writes join a
// transaction carried in context when one is present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) exec(ctx context.Context) execer {
	if dbtx, ok := tx.From(ctx); ok {
		return dbtx
	}
	return s.db
}

const recordColumns = `
	id, user_id, realm_id, kind,
	first_name, last_name, email, phone, date_of_birth, gender, specialty, secondary_id,
	correlation_hash, is_active, soft_deleted_at, anonymized_at, deletion_reason,
	under_investigation, investigation_notes, created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, record *models.Record) error {
	query := `
		INSERT INTO identity_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err := s.exec(ctx).ExecContext(ctx, query,
		record.ID.String(), record.UserID.String(), record.RealmID, record.Kind,
		record.FirstName, record.LastName, record.Email, record.Phone,
		record.DateOfBirth, record.Gender, record.Specialty, record.SecondaryID,
		nullString(record.CorrelationHash), record.IsActive,
		record.SoftDeletedAt, record.AnonymizedAt, nullString(string(record.DeletionReason)),
		record.UnderInvestigation, nullString(record.InvestigationNotes),
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert identity record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM identity_records WHERE id = $1`
	record, err := scanRecord(s.exec(ctx).QueryRowContext(ctx, query, recordID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get identity record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) GetByUser(ctx context.Context, userID id.UserID) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM identity_records WHERE user_id = $1 ORDER BY created_at`
	rows, err := s.exec(ctx).QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list records by user: %w", err)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) GetByUserAndKind(ctx context.Context, userID id.UserID, kind models.Kind) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM identity_records WHERE user_id = $1 AND kind = $2`
	record, err := scanRecord(s.exec(ctx).QueryRowContext(ctx, query, userID.String(), kind))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get record by user and kind: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Update(ctx context.Context, record *models.Record) error {
	query := `
		UPDATE identity_records SET
			first_name = $2, last_name = $3, email = $4, phone = $5,
			date_of_birth = $6, gender = $7, specialty = $8, secondary_id = $9,
			correlation_hash = $10, is_active = $11, soft_deleted_at = $12,
			anonymized_at = $13, deletion_reason = $14, under_investigation = $15,
			investigation_notes = $16, updated_at = $17
		WHERE id = $1
	`
	res, err := s.exec(ctx).ExecContext(ctx, query,
		record.ID.String(),
		record.FirstName, record.LastName, record.Email, record.Phone,
		record.DateOfBirth, record.Gender, record.Specialty, record.SecondaryID,
		nullString(record.CorrelationHash), record.IsActive, record.SoftDeletedAt,
		record.AnonymizedAt, nullString(string(record.DeletionReason)), record.UnderInvestigation,
		nullString(record.InvestigationNotes), record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update identity record: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Delete(ctx context.Context, recordID id.RecordID) error {
	res, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM identity_records WHERE id = $1`, recordID.String())
	if err != nil {
		return fmt.Errorf("delete identity record: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListAnonymizeDue(ctx context.Context, cutoff time.Time, grace time.Duration, limit int) ([]*models.Record, error) {
	// Grace expiry expressed as a deletion deadline so the index on
	// soft_deleted_at can serve the scan.
	deadline := cutoff.Add(-grace)
	query := `
		SELECT ` + recordColumns + `
		FROM identity_records
		WHERE soft_deleted_at IS NOT NULL
		  AND anonymized_at IS NULL
		  AND soft_deleted_at <= $1
		ORDER BY soft_deleted_at
		LIMIT $2
	`
	rows, err := s.exec(ctx).QueryContext(ctx, query, deadline, limit)
	if err != nil {
		return nil, fmt.Errorf("list anonymize due: %w", err)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) FindByCorrelationHash(ctx context.Context, hash string) ([]*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM identity_records
		WHERE anonymized_at IS NOT NULL AND correlation_hash = $1
	`
	rows, err := s.exec(ctx).QueryContext(ctx, query, hash)
	if err != nil {
		return nil, fmt.Errorf("find by correlation hash: %w", err)
	}
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		record             models.Record
		recordID, userID   string
		correlationHash    sql.NullString
		deletionReason     sql.NullString
		investigationNotes sql.NullString
	)
	err := row.Scan(
		&recordID, &userID, &record.RealmID, &record.Kind,
		&record.FirstName, &record.LastName, &record.Email, &record.Phone,
		&record.DateOfBirth, &record.Gender, &record.Specialty, &record.SecondaryID,
		&correlationHash, &record.IsActive, &record.SoftDeletedAt, &record.AnonymizedAt,
		&deletionReason, &record.UnderInvestigation, &investigationNotes,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if record.ID, err = id.ParseRecordID(recordID); err != nil {
		return nil, fmt.Errorf("stored record id: %w", err)
	}
	if record.UserID, err = id.ParseUserID(userID); err != nil {
		return nil, fmt.Errorf("stored user id: %w", err)
	}
	record.CorrelationHash = correlationHash.String
	record.DeletionReason = models.DeletionReason(deletionReason.String)
	record.InvestigationNotes = investigationNotes.String
	return &record, nil
}

func collectRecords(rows *sql.Rows) ([]*models.Record, error) {
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity records: %w", err)
	}
	return records, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
