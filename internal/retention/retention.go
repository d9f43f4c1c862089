// Package retention purges old message tombstones on a cron schedule.
// Deleted messages keep their record (body replaced by a tombstone) so
// ordering and thread counts stay stable; retention reclaims those
// records once they age past the configured window.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/store"
)

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	ret := cfg.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_age", ret.MaxAge.Duration().String(), "dry_run", ret.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg *config.Config, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}

		if err := RunOnce(ctx, cfg); err != nil {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

// RunOnce scans every conversation and removes tombstoned messages whose
// deletion timestamp is older than the retention window. Exported so admin
// triggers and tests can force a run outside the schedule.
func RunOnce(ctx context.Context, cfg *config.Config) error {
	ret := cfg.Retention
	maxAge := ret.MaxAge.Duration()
	if maxAge <= 0 {
		logger.Warn("retention_skip_no_max_age")
		return nil
	}
	batch := ret.BatchSize
	if batch <= 0 {
		batch = 500
	}
	cutoff := time.Now().Add(-maxAge).UnixNano()

	convs, err := store.ListConversations()
	if err != nil {
		return fmt.Errorf("retention list conversations: %w", err)
	}

	start := time.Now()
	var scanned, purged int
	for _, conv := range convs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := store.ListMessages(conv.ID, 0, 0)
		if err != nil {
			logger.Error("retention_list_failed", "conversation", conv.ID, "error", err)
			continue
		}
		for _, m := range msgs {
			scanned++
			if !m.Deleted {
				continue
			}
			ts := m.DeletedTS
			if ts == 0 {
				// records tombstoned before deletedTs existed
				ts = m.EditedTS
			}
			if ts == 0 {
				ts = m.TS
			}
			if ts >= cutoff {
				continue
			}
			if ret.DryRun {
				logger.Info("retention_dry_run_candidate", "conversation", conv.ID, "msg", m.ID)
				purged++
				continue
			}
			if err := store.DeleteMessageRecord(conv.ID, m.ID); err != nil {
				logger.Error("retention_purge_failed", "conversation", conv.ID, "msg", m.ID, "error", err)
				continue
			}
			purged++
			if purged%batch == 0 {
				// yield between batches so a large purge cannot starve writes
				select {
				case <-time.After(50 * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	logger.Info("retention_run_complete", "scanned", scanned, "purged", purged, "dry_run", ret.DryRun, "took", time.Since(start).String())
	return nil
}
