package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger appends immutable rows describing a single consolidation or mining
// run. Absence of a configured DSN disables it entirely; every call is a
// no-op on a nil *Ledger.
type Ledger struct {
	pool *pgxpool.Pool
}

// New wraps an already-opened pool. Passing a nil pool yields a no-op Ledger.
func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) ensureTable(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mining_runs (
			id BIGSERIAL PRIMARY KEY,
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			summary JSONB NOT NULL,
			ran_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL
		)
	`)
	return err
}

// RecordConsolidation appends a consolidation-run summary row.
func (l *Ledger) RecordConsolidation(ctx context.Context, agentID string, flagged, merged, promoted, demoted int, dur time.Duration) error {
	if l == nil || l.pool == nil {
		return nil
	}
	if err := l.ensureTable(ctx); err != nil {
		return err
	}
	summary := map[string]any{
		"contradictions_flagged": flagged,
		"merged":                 merged,
		"promoted":               promoted,
		"demoted":                demoted,
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO mining_runs (agent_id, kind, summary, ran_at, duration_ms) VALUES ($1,$2,$3,$4,$5)`,
		agentID, "consolidation", summary, time.Now().UTC(), dur.Milliseconds())
	return err
}

// RecordMining appends a pattern-mining-run summary row.
func (l *Ledger) RecordMining(ctx context.Context, agentID string, patternCount int, dur time.Duration) error {
	if l == nil || l.pool == nil {
		return nil
	}
	if err := l.ensureTable(ctx); err != nil {
		return err
	}
	summary := map[string]any{"pattern_count": patternCount}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO mining_runs (agent_id, kind, summary, ran_at, duration_ms) VALUES ($1,$2,$3,$4,$5)`,
		agentID, "pattern_mining", summary, time.Now().UTC(), dur.Milliseconds())
	return err
}

// Close closes the underlying pool, if any.
func (l *Ledger) Close() {
	if l != nil && l.pool != nil {
		l.pool.Close()
	}
}
