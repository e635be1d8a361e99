// internal/syncer/scheduler.go
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ipzone.io/internal/logging"
	"ipzone.io/internal/storage"
	"ipzone.io/internal/zonemodel"
)

// ScheduleMode selects when sync cycles run
type ScheduleMode string

const (
	ScheduleManual   ScheduleMode = "manual"
	ScheduleInterval ScheduleMode = "interval"
)

// SchedulerConfig holds scheduler policy
type SchedulerConfig struct {
	Mode     ScheduleMode
	Interval time.Duration

	// BatchSize bounds how many queued updates one tick drains
	BatchSize int
}

// DefaultSchedulerConfig returns scheduler policy with sensible defaults
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Mode:      ScheduleManual,
		Interval:  5 * time.Minute,
		BatchSize: 100,
	}
}

// Scheduler drives sync cycles. Manual mode only syncs on demand;
// interval mode ticks on a timer, draining the pending update queue
// first so zones touched by recent mutations sync promptly, then
// sweeping all zones so drift heals even without local changes.
type Scheduler struct {
	syncer  *Syncer
	builder *zonemodel.Builder
	store   storage.Store
	config  *SchedulerConfig

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewScheduler creates a scheduler over a syncer and zone builder
func NewScheduler(s *Syncer, builder *zonemodel.Builder, store storage.Store, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Scheduler{
		syncer:  s,
		builder: builder,
		store:   store,
		config:  config,
		stopped: make(chan struct{}),
	}
}

// SyncNow rebuilds and syncs one zone on demand
func (sc *Scheduler) SyncNow(ctx context.Context, zoneName string) error {
	if _, err := sc.builder.Rebuild(ctx, zoneName); err != nil {
		return fmt.Errorf("rebuild before sync failed for %s: %w", zoneName, err)
	}
	return sc.syncer.Sync(ctx, zoneName)
}

// SyncAllNow rebuilds and syncs every zone on demand
func (sc *Scheduler) SyncAllNow(ctx context.Context) error {
	if err := sc.builder.RebuildAll(ctx); err != nil {
		logging.Error("syncer", "Rebuild pass had failures", err)
	}
	return sc.syncer.SyncAll(ctx)
}

// Run executes the scheduling loop until the context is cancelled.
// In manual mode it only waits; all syncing goes through SyncNow.
func (sc *Scheduler) Run(ctx context.Context) {
	defer close(sc.stopped)

	if sc.config.Mode != ScheduleInterval {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(sc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.tick(ctx)
		}
	}
}

// Done is closed when Run has exited
func (sc *Scheduler) Done() <-chan struct{} {
	return sc.stopped
}

// tick drains the update queue and syncs what it names; an empty
// queue triggers a full sweep instead
func (sc *Scheduler) tick(ctx context.Context) {
	updates, err := sc.store.DequeueOutputUpdates(ctx, sc.config.BatchSize)
	if err != nil {
		logging.Error("syncer", "Failed to drain update queue", err)
		return
	}

	if len(updates) == 0 {
		if err := sc.SyncAllNow(ctx); err != nil {
			logging.Error("syncer", "Scheduled full sync had failures", err)
		}
		return
	}

	// Dedupe: several mutations to one zone collapse into one sync
	seen := make(map[string]bool, len(updates))
	for _, update := range updates {
		if seen[update.ZoneName] {
			continue
		}
		seen[update.ZoneName] = true

		if update.Op == "deleted" {
			// Zone rows on the outputs are left for operator cleanup;
			// nothing local remains to diff against.
			logging.Info("syncer", "Zone deleted locally, skipping output sync", "zone", update.ZoneName)
			continue
		}

		if err := sc.SyncNow(ctx, update.ZoneName); err != nil {
			logging.Error("syncer", "Scheduled zone sync failed", err, "zone", update.ZoneName)
		}
	}
}
