package app

import (
	"context"
	"fmt"
	"time"

	"mindlock/internal/config"
	"mindlock/internal/domain"
	"mindlock/internal/repo"
)

// ResolveConfig loads mindlock.yml from the workspace, falling back to the
// built-in defaults when the file is missing, and makes sure the task catalog
// it declares exists in the store.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := EnsureCatalog(ctx, r, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureCatalog inserts missing catalog tasks. Existing rows are left alone;
// use SeedCatalog to push config edits over them.
func EnsureCatalog(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range cfg.Catalog {
		if _, err := r.GetTaskDef(ctx, t.ID); err == nil {
			continue
		}
		if err := r.InsertTaskDef(ctx, catalogTask(t, now)); err != nil {
			return fmt.Errorf("seed task %s: %w", t.ID, err)
		}
	}
	return nil
}

// SeedCatalog upserts every catalog task from config, refreshing rows that
// drifted. Used by `ml seed`.
func SeedCatalog(ctx context.Context, r repo.Repo, cfg *config.Config) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range cfg.Catalog {
		if err := r.UpsertTaskDef(ctx, catalogTask(t, now)); err != nil {
			return 0, fmt.Errorf("seed task %s: %w", t.ID, err)
		}
	}
	return len(cfg.Catalog), nil
}

func catalogTask(t config.CatalogTask, now string) domain.TaskDefinition {
	return domain.TaskDefinition{
		ID:              t.ID,
		Title:           t.Title,
		Description:     t.Description,
		Kind:            t.Kind,
		DurationSeconds: t.DurationSeconds,
		GemReward:       t.GemReward,
		CreatedAt:       now,
	}
}
