package config

import (
	"context"
	"os"
	"time"
)

// WatchSchedule reloads schedule.yaml on change and calls onUpdate with the
// latest config. It performs an initial load before entering the watch loop;
// the loop runs in the background until ctx is done. Invalid edits are
// skipped and reported to onError when set.
func WatchSchedule(ctx context.Context, path string, interval time.Duration, onUpdate func(*Schedule), onError func(error)) error {
	if path == "" {
		path = defaultSchedule
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadSchedule(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				cfg, err := LoadSchedule(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
