package database

import (
	"context"
	"encoding/json"
	"fmt"

	"narrative-server/internal/interfaces"
	"narrative-server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check to ensure pgRunArchive implements RunArchiveRepository
var _ interfaces.RunArchiveRepository = (*pgRunArchive)(nil)

type pgRunArchive struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresPool connects a pgx pool and verifies the connection.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresRunArchive creates the postgres-backed run archive.
func NewPostgresRunArchive(pool *pgxpool.Pool, logger *zap.Logger) interfaces.RunArchiveRepository {
	return &pgRunArchive{
		pool:   pool,
		logger: logger.Named("RunArchive"),
	}
}

func (r *pgRunArchive) SaveRun(ctx context.Context, runID string, status string, turns int, summary models.StorySummary, narrative string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	const query = `
		INSERT INTO narrative_runs (id, status, turns, summary, narrative, finished_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    turns = EXCLUDED.turns,
		    summary = EXCLUDED.summary,
		    narrative = EXCLUDED.narrative,
		    finished_at = EXCLUDED.finished_at`
	if _, err := r.pool.Exec(ctx, query, runID, status, turns, summaryJSON, narrative); err != nil {
		r.logger.Error("Failed to archive run", zap.String("runID", runID), zap.Error(err))
		return fmt.Errorf("failed to archive run %s: %w", runID, err)
	}
	r.logger.Info("Run archived", zap.String("runID", runID), zap.String("status", status), zap.Int("turns", turns))
	return nil
}

func (r *pgRunArchive) SaveActions(ctx context.Context, runID string, actions []models.ActionRecord) error {
	if len(actions) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []interface{}{runID, a.Seq, a.ID, a.ActorID, a.Kind, a.Text, a.TensionDelta, a.Turn, a.CreatedAt})
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"narrative_run_actions"},
		[]string{"run_id", "seq", "id", "actor_id", "kind", "text", "tension_delta", "turn", "created_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to archive actions for run %s: %w", runID, err)
	}
	return nil
}

func (r *pgRunArchive) SaveEvents(ctx context.Context, runID string, events []models.DramaticEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []interface{}{runID, ev.Seq, ev.ID, string(ev.Kind), ev.Description, ev.Affected, ev.Intensity, ev.TensionDelta, ev.Turn, ev.CreatedAt})
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"narrative_run_events"},
		[]string{"run_id", "seq", "id", "kind", "description", "affected_actors", "intensity", "tension_delta", "turn", "created_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to archive events for run %s: %w", runID, err)
	}
	return nil
}
