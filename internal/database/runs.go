package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/shop-image-collector/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunRepository stores collection runs. Each run is written together with an
// outbox event so downstream consumers see exactly the runs that were committed.
type RunRepository struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

func NewRunRepository(db *DB, stream string) *RunRepository {
	if stream == "" {
		stream = DefaultRunStream
	}
	return &RunRepository{db: db, outbox: NewOutboxRepository(db), stream: stream}
}

// RecordRun inserts the run and its outbox event in one transaction.
func (r *RunRepository) RecordRun(ctx context.Context, run *models.CollectionRun) error {
	event, err := runEvent(run, r.stream)
	if err != nil {
		return err
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var errMsg *string
		if run.Error != "" {
			errMsg = &run.Error
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO collection_run (
				id, url, resolved_url, platform, strategy, success,
				image_count, timing_ms, error_message, is_error_page, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			run.ID, run.URL, run.ResolvedURL, string(run.Platform), run.Strategy, run.Success,
			run.ImageCount, run.TimingMS, errMsg, run.IsErrorPage, run.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert collection run: %w", err)
		}

		return r.outbox.InsertWithTx(ctx, tx, event)
	})
}

// ListRecent returns the newest runs first, optionally for one platform.
func (r *RunRepository) ListRecent(ctx context.Context, platform models.Platform, limit int) ([]*models.CollectionRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT id, url, resolved_url, platform, strategy, success,
			image_count, timing_ms, COALESCE(error_message, ''), is_error_page, created_at
		FROM collection_run
		WHERE ($1 = '' OR platform = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.pool.Query(ctx, query, string(platform), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.CollectionRun, 0)
	for rows.Next() {
		run := &models.CollectionRun{}
		var p string
		if err := rows.Scan(
			&run.ID, &run.URL, &run.ResolvedURL, &p, &run.Strategy, &run.Success,
			&run.ImageCount, &run.TimingMS, &run.Error, &run.IsErrorPage, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Platform = models.Platform(p)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// Stats aggregates all recorded runs per platform.
func (r *RunRepository) Stats(ctx context.Context) ([]models.PlatformStats, error) {
	query := `
		WITH top AS (
			SELECT DISTINCT ON (platform) platform, strategy
			FROM collection_run
			WHERE success
			GROUP BY platform, strategy
			ORDER BY platform, COUNT(*) DESC, strategy
		)
		SELECT r.platform,
			COUNT(*),
			COUNT(*) FILTER (WHERE r.success),
			COUNT(*) FILTER (WHERE r.is_error_page),
			COALESCE(AVG(r.timing_ms), 0)::float8,
			COALESCE(MAX(top.strategy), '')
		FROM collection_run r
		LEFT JOIN top ON top.platform = r.platform
		GROUP BY r.platform
		ORDER BY r.platform`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make([]models.PlatformStats, 0)
	for rows.Next() {
		var s models.PlatformStats
		var p string
		if err := rows.Scan(&p, &s.Total, &s.Succeeded, &s.ErrorPages, &s.AvgTimingMS, &s.TopStrategy); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		s.Platform = models.Platform(p)
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}
