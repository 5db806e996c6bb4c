package workers

import (
	"context"
	"log/slog"
	"time"

	"upload-lab/bridge"

	"github.com/shirou/gopsutil/disk"
)

// SpoolWatchdogWorker keeps an eye on the volume backing the spool
// directory. Abandoned artifacts accumulate there whenever reclamation
// falls behind the upload rate, and a full spool volume fails every upload
// at once, so we want the warning before the incident.
type SpoolWatchdogWorker struct {
	log              *slog.Logger
	bridge           *bridge.Bridge
	spoolDir         string
	interval         time.Duration
	usedPercentLimit float64
}

func NewSpoolWatchdogWorker(
	log *slog.Logger,
	br *bridge.Bridge,
	spoolDir string,
	interval time.Duration,
	usedPercentLimit float64,
) *SpoolWatchdogWorker {
	if usedPercentLimit <= 0 {
		usedPercentLimit = 90
	}
	return &SpoolWatchdogWorker{
		log:              log,
		bridge:           br,
		spoolDir:         spoolDir,
		interval:         interval,
		usedPercentLimit: usedPercentLimit,
	}
}

func (w *SpoolWatchdogWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping spool watchdog")
			return nil
		case <-ticker.C:
			usage, err := disk.Usage(w.spoolDir)
			if err != nil {
				w.log.Error("Error while reading spool volume usage", "path", w.spoolDir, "err", err)
				continue
			}
			pending := w.bridge.Size()
			if usage.UsedPercent >= w.usedPercentLimit {
				w.log.Warn("Spool volume is filling up",
					"used_percent", usage.UsedPercent,
					"free_bytes", usage.Free,
					"pending_artifacts", pending)
				continue
			}
			w.log.Debug("Spool volume checked",
				"used_percent", usage.UsedPercent, "pending_artifacts", pending)
		}
	}
}
