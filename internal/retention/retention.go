// Package retention prunes old entries from the embedded log replica on a
// cron schedule. It only applies in embedded mode; a hosted backend owns
// its own retention.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatview/pkg/config"
	"chatview/pkg/logger"
	"chatview/pkg/remotelog"
)

// Start launches the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig, log *remotelog.Pebble) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	period, err := config.ParsePeriod(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("retention period: %w", err)
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, period, log)
	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick, prunes, and repeats.
func runScheduler(ctx context.Context, cronExpr string, period time.Duration, log *remotelog.Pebble) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
		}

		select {
		case <-time.After(time.Until(next)):
			RunOnce(period, log)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce prunes entries older than period from the log.
func RunOnce(period time.Duration, log *remotelog.Pebble) {
	cutoff := time.Now().Add(-period).UnixMilli()
	n, err := log.PruneBefore(cutoff)
	if err != nil {
		logger.Error("retention_run_error", "error", err)
		return
	}
	logger.Info("retention_run_complete", "pruned", n, "cutoff", cutoff)
}
