package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const callRecordsSchema = `
CREATE TABLE IF NOT EXISTS call_records (
	id               uuid PRIMARY KEY,
	call_id          text NOT NULL UNIQUE,
	ts               timestamptz NOT NULL,
	name             text NOT NULL DEFAULT '',
	phone            text NOT NULL DEFAULT '',
	duration_sec     integer NOT NULL,
	tag              text NOT NULL,
	score            integer NOT NULL,
	summary          text NOT NULL DEFAULT '',
	transcript_trust integer NOT NULL,
	analysis_trust   integer NOT NULL,
	overall_trust    integer NOT NULL,
	accepted         boolean NOT NULL,
	analysis         jsonb NOT NULL
)`

// Mirror keeps a Postgres copy of call records for ad hoc querying.
// The JSON-lines log stays the source of truth.
type Mirror struct {
	pool *pgxpool.Pool
}

func NewMirror(ctx context.Context, databaseURL string) (*Mirror, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Mirror{pool: pool}, nil
}

func (m *Mirror) Close() {
	m.pool.Close()
}

func (m *Mirror) EnsureSchema(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, callRecordsSchema); err != nil {
		return fmt.Errorf("create call_records: %w", err)
	}
	return nil
}

// Insert stores rec unless a row for the same call id exists. It reports whether a row was written.
func (m *Mirror) Insert(ctx context.Context, rec Record) (bool, error) {
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return false, fmt.Errorf("marshal analysis: %w", err)
	}

	tag, err := m.pool.Exec(ctx, `
		INSERT INTO call_records (id, call_id, ts, name, phone, duration_sec, tag, score, summary,
			transcript_trust, analysis_trust, overall_trust, accepted, analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (call_id) DO NOTHING`,
		rec.ID, rec.CallID, rec.TS, rec.Name, rec.Phone, rec.Duration, rec.Tag, rec.Score, rec.Summary,
		rec.Trust.Transcript, rec.Trust.Analysis, rec.Trust.Overall, rec.Accepted, analysis,
	)
	if err != nil {
		return false, fmt.Errorf("insert call record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
