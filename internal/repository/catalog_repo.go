package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"milestone-tracker/config"
	"milestone-tracker/internal/model"
)

// CatalogRepository 读取里程碑和依赖目录。目录只在启动时由 Seed 写入。
type CatalogRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewCatalogRepository(db *pgxpool.Pool, logger *zap.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: logger}
}

func (r *CatalogRepository) Milestones(ctx context.Context) ([]model.Milestone, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, sequence FROM milestones ORDER BY sequence`)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	ms, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.Milestone])
	if err != nil {
		return nil, fmt.Errorf("failed to scan milestones: %w", err)
	}
	return ms, nil
}

func (r *CatalogRepository) Dependencies(ctx context.Context) ([]model.Dependency, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM dependencies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	ds, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.Dependency])
	if err != nil {
		return nil, fmt.Errorf("failed to scan dependencies: %w", err)
	}
	return ds, nil
}

// Seed upserts the configured catalogs in one transaction. Existing names are
// overwritten; rows absent from the configuration are left alone because
// history may still reference them.
func (r *CatalogRepository) Seed(ctx context.Context, cfg config.WorkflowConfig) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, m := range cfg.Milestones {
		batch.Queue(`
			INSERT INTO milestones (id, name, sequence) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, sequence = EXCLUDED.sequence
		`, m.ID, m.Name, m.Sequence)
	}
	for _, d := range cfg.Dependencies {
		batch.Queue(`
			INSERT INTO dependencies (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		`, d.ID, d.Name)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit catalog seed: %w", err)
	}

	r.logger.Info("Catalog seeded",
		zap.Int("milestones", len(cfg.Milestones)),
		zap.Int("dependencies", len(cfg.Dependencies)),
	)
	return nil
}
