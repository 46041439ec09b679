package stream

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresDeadLetterStore archives dead letters in PostgreSQL for operator
// queries that a raw stream cannot answer.
type PostgresDeadLetterStore struct {
	db *sql.DB
}

func NewPostgresDeadLetterStore(db *sql.DB) *PostgresDeadLetterStore {
	return &PostgresDeadLetterStore{db: db}
}

func (s *PostgresDeadLetterStore) Add(ctx context.Context, dl DeadLetter) error {
	values, err := encodeValues(dl.Values)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO dead_letters (message_id, field_values, attempts, reason, failed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, dl.MessageID, values, dl.Attempts, dl.Reason, dl.FailedAt); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *PostgresDeadLetterStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	query := `
		SELECT message_id, field_values, attempts, reason, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var raw []byte
		if err := rows.Scan(&dl.MessageID, &raw, &dl.Attempts, &dl.Reason, &dl.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if dl.Values, err = decodeValues(raw); err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return letters, nil
}
