package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ammscope/internal/model"
)

// Schema creates the pool program registry.
const Schema = `
CREATE TABLE IF NOT EXISTS pool_programs (
	program_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	endpoint   TEXT NOT NULL,
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Options tunes the connection attempt.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Store provides Postgres persistence for the pool program registry.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	err = withRetry(ctx, opts, pool.Ping)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the registry table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// UpsertPoolPrograms inserts or updates pool programs and enables them.
func (s *Store) UpsertPoolPrograms(ctx context.Context, programs []model.PoolProgram) error {
	if len(programs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range programs {
		batch.Queue(`
			INSERT INTO pool_programs (program_id, name, endpoint, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, now(), now())
			ON CONFLICT (program_id)
			DO UPDATE SET
				name = EXCLUDED.name,
				endpoint = EXCLUDED.endpoint,
				enabled = TRUE,
				updated_at = now()
		`,
			p.ID,
			p.Name,
			p.Endpoint,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, p := range programs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert %s: %w", p.ID, err)
		}
	}
	return nil
}

// ListPoolPrograms returns the enabled programs ordered by id.
func (s *Store) ListPoolPrograms(ctx context.Context) ([]model.PoolProgram, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT program_id, name, endpoint
		FROM pool_programs
		WHERE enabled
		ORDER BY program_id
	`)
	if err != nil {
		return nil, err
	}
	programs, err := pgx.CollectRows(rows, scanPoolProgram)
	if err != nil {
		return nil, fmt.Errorf("scan pool programs: %w", err)
	}
	return programs, nil
}

// DisablePoolPrograms marks programs as not to be streamed.
func (s *Store) DisablePoolPrograms(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pool_programs SET enabled = FALSE, updated_at = now()
		WHERE program_id = ANY($1)
	`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPoolProgram(row pgx.CollectableRow) (model.PoolProgram, error) {
	var p model.PoolProgram
	if err := row.Scan(&p.ID, &p.Name, &p.Endpoint); err != nil {
		return model.PoolProgram{}, err
	}
	p.Endpoint = strings.TrimSpace(p.Endpoint)
	return p, nil
}
