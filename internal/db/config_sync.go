package db

import (
	"context"
	"fmt"

	"bronivik/bronivik_schedule/internal/config"
	"bronivik/bronivik_schedule/internal/model"
)

// SyncSchedule applies schedule.yaml to the database: it saves the default
// pattern, upserts the service catalog and writes configured overrides.
// Holidays become non-working overrides. It returns the overrides written so
// callers can merge them without a reload.
func (db *DB) SyncSchedule(ctx context.Context, cfg *config.Schedule) (model.DefaultPattern, []model.WorkingHoursPolicy, error) {
	if cfg == nil {
		return model.DefaultPattern{}, nil, fmt.Errorf("schedule config is nil")
	}

	pattern, err := cfg.Pattern()
	if err != nil {
		return model.DefaultPattern{}, nil, err
	}
	if err := db.SaveDefaultPattern(ctx, pattern); err != nil {
		return model.DefaultPattern{}, nil, err
	}

	for _, svc := range cfg.ServiceList() {
		if err := db.UpsertService(ctx, svc); err != nil {
			return model.DefaultPattern{}, nil, fmt.Errorf("sync service %s: %w", svc.ID, err)
		}
	}

	policies, err := cfg.Policies()
	if err != nil {
		return model.DefaultPattern{}, nil, err
	}
	for _, p := range policies {
		if err := db.UpsertOverride(ctx, p); err != nil {
			return model.DefaultPattern{}, nil, fmt.Errorf("sync override %s: %w", p.Date, err)
		}
	}

	return pattern, policies, nil
}
