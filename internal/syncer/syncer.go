// internal/syncer/syncer.go
package syncer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/locking"
	"ipzone.io/internal/logging"
	"ipzone.io/internal/models"
	"ipzone.io/internal/pdnsbackend"
	"ipzone.io/internal/storage"
)

// Phase names the steps of a sync cycle, recorded in logs
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseDiffing   Phase = "diffing"
	PhaseApplying  Phase = "applying"
	PhaseRetrying  Phase = "retrying"
	PhaseCommitted Phase = "committed"
	PhaseFailed    Phase = "failed"
)

// Config holds sync coordinator policy
type Config struct {
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

// DefaultConfig returns sync policy with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		RetryBase:  500 * time.Millisecond,
		RetryMax:   30 * time.Second,
	}
}

// Syncer pushes zone models into nameserver outputs. Each zone/output
// pair walks Idle -> Diffing -> Applying -> Committed, retrying
// transient backend failures with bounded exponential backoff; a
// failure exhausting its retries is terminal for that cycle only and
// never affects other zones. The zone's advisory lock covers the
// whole diff-and-apply window.
type Syncer struct {
	store    storage.Store
	locker   locking.Locker
	backends []pdnsbackend.Backend
	config   *Config
}

// NewSyncer creates a sync coordinator over the given outputs
func NewSyncer(store storage.Store, locker locking.Locker, backends []pdnsbackend.Backend, config *Config) *Syncer {
	if config == nil {
		config = DefaultConfig()
	}
	// MaxRetries counts total apply attempts; every cycle makes at
	// least one.
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	return &Syncer{
		store:    store,
		locker:   locker,
		backends: backends,
		config:   config,
	}
}

// Sync pushes one zone to every output. Per-output failures are
// collected, not propagated mid-way, so one broken output cannot
// starve the others.
func (s *Syncer) Sync(ctx context.Context, zoneName string) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := s.syncOutput(ctx, zoneName, backend); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SyncAll pushes every zone to every output, isolating failures per
// zone
func (s *Syncer) SyncAll(ctx context.Context) error {
	zones, err := s.store.ListZones(ctx)
	if err != nil {
		return fmt.Errorf("failed to list zones: %w", err)
	}

	var firstErr error
	for _, zone := range zones {
		if err := s.Sync(ctx, zone.Name); err != nil {
			logging.Error("syncer", "Zone sync failed", err, "zone", zone.Name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// syncOutput runs one zone/output cycle under the zone lock
func (s *Syncer) syncOutput(ctx context.Context, zoneName string, backend pdnsbackend.Backend) error {
	return s.locker.WithZoneLock(ctx, zoneName, func(ctx context.Context) error {
		started := time.Now()

		zone, err := s.store.GetZone(ctx, zoneName)
		if err != nil {
			return fmt.Errorf("failed to load zone %s: %w", zoneName, err)
		}
		if zone == nil {
			return fmt.Errorf("zone %s: %w", zoneName, iperrors.ErrNotFound)
		}

		records, err := s.store.ListRecords(ctx, zone.ID)
		if err != nil {
			return fmt.Errorf("failed to load records for %s: %w", zoneName, err)
		}

		if err := backend.EnsureDomain(ctx, zone.Name); err != nil {
			return s.fail(ctx, zone, backend, 1, err)
		}

		checkpoint, err := s.store.GetSyncState(ctx, zone.ID, backend.Name())
		if err != nil {
			return fmt.Errorf("failed to load sync state for %s/%s: %w", zoneName, backend.Name(), err)
		}

		backendSerial, err := backend.FetchSerial(ctx, zone.Name)
		if err != nil {
			return s.fail(ctx, zone, backend, 1, err)
		}

		// Drift: the backend moved since our last checkpoint. Local
		// state wins; the conflict is logged with both serials.
		if checkpoint != nil && backendSerial != checkpoint.Serial {
			logging.LogSyncConflict(zone.Name, backend.Name(), zone.Serial, backendSerial)
		}

		current, err := backend.FetchRecords(ctx, zone.Name)
		if err != nil {
			return s.fail(ctx, zone, backend, 1, err)
		}

		desired := pdnsbackend.ExportRecords(zone, records)
		changes := pdnsbackend.Diff(desired, current)

		// Converged: nothing to add or remove and the backend already
		// carries our serial. No backend write happens.
		if changes.Empty() && backendSerial == zone.Serial {
			if err := s.checkpoint(ctx, zone, backend, models.SyncStatusCommitted, ""); err != nil {
				return err
			}
			logging.LogSyncCycle(zone.Name, backend.Name(), string(PhaseCommitted), zone.Serial, 0, time.Since(started))
			return nil
		}

		attempts, err := s.applyWithRetry(ctx, zone, backend, changes)
		if err != nil {
			return s.fail(ctx, zone, backend, attempts, err)
		}

		if err := s.checkpoint(ctx, zone, backend, models.SyncStatusCommitted, ""); err != nil {
			return err
		}

		logging.LogSyncCycle(zone.Name, backend.Name(), string(PhaseCommitted), zone.Serial, changes.Size(), time.Since(started))
		return nil
	})
}

// applyWithRetry applies the change set, retrying transient backend
// failures with exponential backoff and jitter. Cancellation is
// honored between attempts only; a started apply transaction runs to
// completion or failure.
func (s *Syncer) applyWithRetry(ctx context.Context, zone *models.Zone, backend pdnsbackend.Backend, changes *pdnsbackend.ChangeSet) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		lastErr = backend.ApplyChanges(ctx, zone, changes)
		if lastErr == nil {
			return attempt, nil
		}
		if !iperrors.IsRetryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == s.config.MaxRetries {
			break
		}

		logging.Warn("syncer", "Transient backend failure, retrying",
			"zone", zone.Name, "output", backend.Name(), "attempt", attempt, "error", lastErr.Error())

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(s.backoff(attempt)):
		}
	}

	return s.config.MaxRetries, fmt.Errorf("apply to %s exhausted %d attempts: %v: %w",
		backend.Name(), s.config.MaxRetries, lastErr, iperrors.ErrSyncFailed)
}

// backoff computes the delay before the given retry attempt:
// exponential from RetryBase, capped at RetryMax, with up to 25%
// jitter so parallel zones do not thunder
func (s *Syncer) backoff(attempt int) time.Duration {
	delay := s.config.RetryBase << (attempt - 1)
	if delay > s.config.RetryMax || delay <= 0 {
		delay = s.config.RetryMax
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// checkpoint writes the zone/output sync state
func (s *Syncer) checkpoint(ctx context.Context, zone *models.Zone, backend pdnsbackend.Backend, status models.SyncStatus, lastError string) error {
	state := &models.SyncState{
		ZoneID:     zone.ID,
		Output:     backend.Name(),
		Serial:     zone.Serial,
		RecordHash: zone.RecordHash,
		Status:     status,
		LastError:  lastError,
	}
	if err := s.store.PutSyncState(ctx, state); err != nil {
		return fmt.Errorf("failed to write sync state for %s/%s: %w", zone.Name, backend.Name(), err)
	}
	return nil
}

// fail records a failed cycle and returns the error
func (s *Syncer) fail(ctx context.Context, zone *models.Zone, backend pdnsbackend.Backend, attempts int, err error) error {
	logging.LogSyncFailure(zone.Name, backend.Name(), attempts, err)
	if cpErr := s.checkpoint(ctx, zone, backend, models.SyncStatusFailed, err.Error()); cpErr != nil {
		logging.Error("syncer", "Failed to record failed sync state", cpErr,
			"zone", zone.Name, "output", backend.Name())
	}
	return err
}
