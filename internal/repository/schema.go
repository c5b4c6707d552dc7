package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// 建表语句在启动时执行，幂等
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notification_jobs (
		id            TEXT PRIMARY KEY,
		job_type      TEXT NOT NULL,
		recipient     TEXT NOT NULL,
		tenant_id     TEXT NOT NULL DEFAULT '',
		priority      SMALLINT NOT NULL DEFAULT 1,
		payload       JSONB,
		status        TEXT NOT NULL DEFAULT 'pending',
		attempts      INT NOT NULL DEFAULT 0,
		max_attempts  INT NOT NULL DEFAULT 3,
		scheduled_for TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_error    TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ
	)`,

	// claim 扫描走这个局部索引
	`CREATE INDEX IF NOT EXISTS idx_notification_jobs_claim
		ON notification_jobs (priority, created_at)
		WHERE status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS idx_notification_jobs_status
		ON notification_jobs (status)`,

	`CREATE INDEX IF NOT EXISTS idx_notification_jobs_retention
		ON notification_jobs (completed_at)
		WHERE status = 'completed'`,

	`CREATE INDEX IF NOT EXISTS idx_notification_jobs_stale
		ON notification_jobs (started_at)
		WHERE status = 'processing'`,
}

// EnsureSchema creates the job table and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
