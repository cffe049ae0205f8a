package coordination

import (
	"context"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/metrics"
)

// Alerter receives leak notifications; implemented by the email service.
type Alerter interface {
	SendLockLeakAlert(view string, heldFor time.Duration) error
}

// LeakDetector is the background worker that watches for refresh locks
// held beyond the sanity threshold. It never releases anything itself;
// it raises the alarm and leaves the decision to an operator.
type LeakDetector struct {
	lock      RefreshLock
	views     []string
	threshold time.Duration
	interval  time.Duration
	logger    *logging.ChanneledLogger
	metrics   *metrics.Registry
	alerter   Alerter

	// flagged tracks tokens already reported so a leak alerts once.
	flagged map[string]string
}

// NewLeakDetector creates the watcher. alerter may be nil.
func NewLeakDetector(lock RefreshLock, views []string, threshold, interval time.Duration, logger *logging.ChanneledLogger, m *metrics.Registry, alerter Alerter) *LeakDetector {
	return &LeakDetector{
		lock:      lock,
		views:     views,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		metrics:   m,
		alerter:   alerter,
		flagged:   make(map[string]string),
	}
}

// Start begins the sweep loop and blocks until ctx is cancelled.
func (d *LeakDetector) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Lock().Info("Lock leak detector started",
		"interval", d.interval, "threshold", d.threshold)

	for {
		select {
		case <-ctx.Done():
			d.logger.Lock().Info("Lock leak detector stopping")
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *LeakDetector) sweep(ctx context.Context) {
	now := time.Now().UTC()
	for _, view := range d.views {
		info, err := d.lock.Info(ctx, view)
		if err != nil {
			d.logger.Lock().Error("Lock sweep failed", "view", view, "error", err.Error())
			continue
		}
		if info == nil {
			delete(d.flagged, view)
			continue
		}

		heldFor := info.HeldFor(now)
		if heldFor < d.threshold {
			continue
		}
		if d.flagged[view] == info.Token {
			continue
		}
		d.flagged[view] = info.Token

		d.logger.Alert().Error("Refresh lock held beyond sanity threshold",
			"view", view, "token", info.Token, "heldFor", heldFor, "threshold", d.threshold)
		if d.metrics != nil {
			d.metrics.LockLeak()
		}
		if d.alerter != nil {
			if err := d.alerter.SendLockLeakAlert(view, heldFor); err != nil {
				d.logger.Alert().Error("Failed to send lock leak alert", "view", view, "error", err.Error())
			}
		}
	}
}
