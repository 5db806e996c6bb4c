package bridge

import (
	"context"
	"log/slog"
	"time"
)

// ReclaimerWorker periodically sweeps the bridge. It runs under the
// supervisor like every other background worker and stops with the process
// context, so no reclamation can happen after shutdown.
type ReclaimerWorker struct {
	bridge   *Bridge
	log      *slog.Logger
	interval time.Duration
}

func NewReclaimerWorker(bridge *Bridge, log *slog.Logger, interval time.Duration) *ReclaimerWorker {
	if interval <= 0 {
		interval = DefaultReclaimInterval
	}
	return &ReclaimerWorker{bridge: bridge, log: log, interval: interval}
}

func (w *ReclaimerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping bridge reclaimer")
			return nil
		case <-ticker.C:
			w.bridge.Reclaim()
		}
	}
}
