package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoadRecord is one plugin outcome of a recorded load pass.
type LoadRecord struct {
	PassID   string    `json:"passId"`
	PluginID string    `json:"pluginId"`
	Folder   string    `json:"folder"`
	Version  string    `json:"version,omitempty"`
	Status   string    `json:"status"`
	Stage    string    `json:"stage,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	LoadedAt time.Time `json:"loadedAt"`
}

const (
	statusLoaded  = "loaded"
	statusSkipped = "skipped"
)

// Store keeps the history of load passes in the plugin_loads table.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RecordPass writes every loaded and skipped plugin of report in one
// transaction.
func (s *Store) RecordPass(ctx context.Context, report *LoadReport) error {
	passID := uuid.New().String()

	batch := &pgx.Batch{}
	for _, reg := range report.Registrations {
		batch.Queue(
			`INSERT INTO plugin_loads (pass_id, plugin_id, folder, version, status, loaded_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			passID, reg.Manifest.ID, reg.Folder, reg.Manifest.Version, statusLoaded, report.StartedAt,
		)
	}
	for _, sk := range report.Skipped {
		batch.Queue(
			`INSERT INTO plugin_loads (pass_id, plugin_id, folder, status, stage, reason, loaded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			passID, sk.PluginID, sk.Folder, statusSkipped, string(sk.Stage), sk.Reason, report.StartedAt,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to record load pass: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit load pass: %w", err)
	}
	return nil
}

// ListRecent returns the most recent load outcomes, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]LoadRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT pass_id, plugin_id, folder, COALESCE(version, ''), status,
		        COALESCE(stage, ''), COALESCE(reason, ''), loaded_at
		 FROM plugin_loads ORDER BY loaded_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugin loads: %w", err)
	}
	defer rows.Close()

	records := []LoadRecord{}
	for rows.Next() {
		var r LoadRecord
		if err := rows.Scan(&r.PassID, &r.PluginID, &r.Folder, &r.Version, &r.Status,
			&r.Stage, &r.Reason, &r.LoadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plugin load: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
