package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps one JSONB document per execution in the executions
// table, next to the columns needed for compare-and-swap and listing.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, e *Execution) error {
	e.Version = 1
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode execution: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO executions (id, status, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Status), e.Version, doc, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert %s: %w", e.ID, ErrExists)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Execution, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT document FROM executions WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return decode(doc)
}

func (s *PostgresStore) Update(ctx context.Context, e *Execution, expected int64) error {
	e.Version = expected + 1
	doc, err := json.Marshal(e)
	if err != nil {
		e.Version = expected
		return fmt.Errorf("encode execution: %w", err)
	}
	var tag pgconn.CommandTag
	tag, err = s.db.Exec(ctx, `
		UPDATE executions
		SET status = $3, version = $4, document = $5, updated_at = $6
		WHERE id = $1 AND version = $2
	`, e.ID, expected, string(e.Status), e.Version, doc, e.UpdatedAt)
	if err != nil {
		e.Version = expected
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		e.Version = expected
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Execution, error) {
	rows, err := s.db.Query(ctx, `
		SELECT document FROM executions
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	out := make([]*Execution, 0, len(docs))
	for _, doc := range docs {
		e, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
