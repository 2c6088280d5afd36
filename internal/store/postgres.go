package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/flag"
)

// PostgresDurable is the Postgres implementation of the Durable interface.
// The version column on the flags row is the storage-level CAS: the
// conditional UPDATE/INSERT and the change-log append run in one
// transaction, so a committed row and its feed entry are inseparable.
type PostgresDurable struct {
	pool *pgxpool.Pool
}

// NewPostgresDurable creates a Postgres-backed store on an existing pool.
func NewPostgresDurable(pool *pgxpool.Pool) *PostgresDurable {
	return &PostgresDurable{pool: pool}
}

// EnsureSchema creates the flags and flag_changes tables if absent. Real
// deployments run migrations externally; this is a dev convenience.
func (p *PostgresDurable) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS flags (
    id         UUID        NOT NULL,
    name       TEXT        NOT NULL,
    env        TEXT        NOT NULL,
    enabled    BOOLEAN     NOT NULL DEFAULT FALSE,
    rollout    INT         NOT NULL DEFAULT 100,
    version    BIGINT      NOT NULL,
    deleted    BOOLEAN     NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (name, env)
);
CREATE TABLE IF NOT EXISTS flag_changes (
    seq          BIGSERIAL   PRIMARY KEY,
    id           UUID        NOT NULL,
    name         TEXT        NOT NULL,
    env          TEXT        NOT NULL,
    enabled      BOOLEAN     NOT NULL,
    rollout      INT         NOT NULL,
    version      BIGINT      NOT NULL,
    deleted      BOOLEAN     NOT NULL,
    committed_at TIMESTAMPTZ NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Read returns the current row for the key, tombstones included.
func (p *PostgresDurable) Read(ctx context.Context, key flag.Key) (flag.Record, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, env, enabled, rollout, version, deleted, updated_at
		 FROM flags WHERE name = $1 AND env = $2`,
		key.Name, key.Env)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return flag.Record{}, ErrNotFound
		}
		return flag.Record{}, fmt.Errorf("read flag %s: %w", key, err)
	}
	return rec, nil
}

// CompareAndSwap performs the storage-level conditional write. The row
// update (or insert for expectedVersion=0) and the change-log insert commit
// atomically; zero rows affected on the conditional statement means another
// writer won the race.
func (p *PostgresDurable) CompareAndSwap(ctx context.Context, expectedVersion int64, rec flag.Record) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin cas: %w", err)
	}
	defer tx.Rollback(ctx)

	id := pgtype.UUID{Bytes: rec.ID, Valid: true}

	var tag string
	if expectedVersion == 0 {
		tag = "INSERT"
		ct, err := tx.Exec(ctx,
			`INSERT INTO flags (id, name, env, enabled, rollout, version, deleted, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (name, env) DO NOTHING`,
			id, rec.Key.Name, rec.Key.Env, rec.Enabled, rec.Rollout, rec.Version, rec.Deleted, rec.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("cas insert: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return 0, ErrVersionConflict
		}
	} else {
		tag = "UPDATE"
		ct, err := tx.Exec(ctx,
			`UPDATE flags
			 SET id = $1, enabled = $2, rollout = $3, version = $4, deleted = $5, updated_at = $6
			 WHERE name = $7 AND env = $8 AND version = $9`,
			id, rec.Enabled, rec.Rollout, rec.Version, rec.Deleted, rec.UpdatedAt,
			rec.Key.Name, rec.Key.Env, expectedVersion)
		if err != nil {
			return 0, fmt.Errorf("cas update: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return 0, ErrVersionConflict
		}
	}

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO flag_changes (id, name, env, enabled, rollout, version, deleted, committed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING seq`,
		id, rec.Key.Name, rec.Key.Env, rec.Enabled, rec.Rollout, rec.Version, rec.Deleted, rec.UpdatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("cas %s log append: %w", tag, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit cas: %w", err)
	}
	return seq, nil
}

// LoadAll returns every live record.
func (p *PostgresDurable) LoadAll(ctx context.Context) ([]flag.Record, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, env, enabled, rollout, version, deleted, updated_at
		 FROM flags WHERE NOT deleted ORDER BY env, name`)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	defer rows.Close()

	var records []flag.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ReadLog returns up to limit committed entries with Seq > afterSeq.
func (p *PostgresDurable) ReadLog(ctx context.Context, afterSeq int64, limit int) ([]changelog.Entry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT seq, id, name, env, enabled, rollout, version, deleted, committed_at
		 FROM flag_changes WHERE seq > $1 ORDER BY seq LIMIT $2`,
		afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	defer rows.Close()

	var entries []changelog.Entry
	for rows.Next() {
		var (
			e  changelog.Entry
			id pgtype.UUID
		)
		if err := rows.Scan(&e.Seq, &id, &e.Record.Key.Name, &e.Record.Key.Env,
			&e.Record.Enabled, &e.Record.Rollout, &e.Record.Version,
			&e.Record.Deleted, &e.CommitTime); err != nil {
			return nil, fmt.Errorf("scan change entry: %w", err)
		}
		e.Record.ID = id.Bytes
		e.Record.UpdatedAt = e.CommitTime
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastSeq returns the newest durable log sequence, or 0 for an empty log.
func (p *PostgresDurable) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM flag_changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq, nil
}

// Close closes the underlying connection pool.
func (p *PostgresDurable) Close() error {
	p.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (flag.Record, error) {
	var (
		rec flag.Record
		id  pgtype.UUID
	)
	err := row.Scan(&id, &rec.Key.Name, &rec.Key.Env, &rec.Enabled, &rec.Rollout,
		&rec.Version, &rec.Deleted, &rec.UpdatedAt)
	if err != nil {
		return flag.Record{}, err
	}
	rec.ID = id.Bytes
	return rec, nil
}
