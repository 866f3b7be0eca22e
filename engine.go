package shelfsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EngineConfig configures the synchronization engine.
type EngineConfig struct {
	// PollInterval is the cadence of the outbound drain pass.
	// Default: 30s
	PollInterval time.Duration `yaml:"poll_interval"`

	// PullInterval is the coarser cadence of the inbound pull.
	// Default: 5m
	PullInterval time.Duration `yaml:"pull_interval"`

	// MaxAttempts parks a change-set as a dead letter after this many
	// failed transmits; it stays in the queue but is skipped until
	// RequeueDeadLetters. 0 retries forever.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before retrying an errored change-set,
	// doubled per attempt up to MaxBackoff. 0 retries every pass with no
	// backoff.
	// Default: 30s
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the per-entry retry delay.
	// Default: 10m
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier grows the per-entry delay after each failure.
	// Default: 2.0
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PollInterval:      30 * time.Second,
		PullInterval:      5 * time.Minute,
		MaxAttempts:       0,
		InitialBackoff:    30 * time.Second,
		MaxBackoff:        10 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// SyncStats contains synchronization statistics.
type SyncStats struct {
	DrainPasses       int64     `json:"drain_passes"`
	Synced            int64     `json:"synced"`
	Conflicts         int64     `json:"conflicts"`
	TransportFailures int64     `json:"transport_failures"`
	DeadLetters       int64     `json:"dead_letters"`
	Pulls             int64     `json:"pulls"`
	PullFailures      int64     `json:"pull_failures"`
	SnapshotsApplied  int64     `json:"snapshots_applied"`
	LastDrainTime     time.Time `json:"last_drain_time,omitzero"`
	LastPullTime      time.Time `json:"last_pull_time,omitzero"`
	LastPullRev       int64     `json:"last_pull_rev"`
}

// Engine drives two periodic activities against the remote catalog
// service: draining the offline queue outbound and pulling remote changes
// inbound. One dedicated worker runs both; cancellation is observed
// between passes, never mid-call, so no in-flight request is aborted.
type Engine struct {
	config EngineConfig
	queue  *OfflineQueue
	store  CatalogStore
	remote RemoteCatalog

	mu       sync.Mutex
	stats    SyncStats
	lastPull time.Time
	running  bool

	pullNudge chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewEngine creates a synchronization engine over the given queue, local
// store, and remote service.
func NewEngine(config EngineConfig, queue *OfflineQueue, store CatalogStore, remote RemoteCatalog) *Engine {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.PullInterval <= 0 {
		config.PullInterval = 5 * time.Minute
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		config:    config,
		queue:     queue,
		store:     store,
		remote:    remote,
		pullNudge: make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background worker loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrEngineRunning
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run()
	return nil
}

// Stop cancels the worker and waits for its current iteration to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// NudgePull schedules an immediate inbound pull on the worker. Used by the
// change feed when the remote announces a newer catalog revision; safe to
// call from any goroutine and never blocks.
func (e *Engine) NudgePull() {
	select {
	case e.pullNudge <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	// Passes run on a background context, not e.ctx: Stop must wait out
	// the current iteration, never abort an in-flight network call. Each
	// call is bounded by the remote client's own request timeout.
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.pullNudge:
			if err := e.PullOnce(context.Background()); err != nil {
				slog.Warn("nudged pull failed", "err", err)
			}
		case <-ticker.C:
			e.ProcessOnce(context.Background())
			if e.pullDue() {
				if err := e.PullOnce(context.Background()); err != nil {
					slog.Warn("scheduled pull failed", "err", err)
				}
			}
		}
	}
}

func (e *Engine) pullDue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastPull) >= e.config.PullInterval
}

// ProcessOnce runs one outbound drain pass over a fixed-point snapshot of
// the queue. Entries enqueued during the pass wait for the next tick.
// Each entry's outcome is isolated: no failure aborts the rest of the
// pass, and the queue is persisted after every entry, so a crash mid-drain
// loses at most the in-flight network call.
func (e *Engine) ProcessOnce(ctx context.Context) {
	now := time.Now().UTC()
	for _, cs := range e.queue.Snapshot() {
		if cs.Status != ChangeSetPending && cs.Status != ChangeSetError {
			continue
		}
		if e.config.MaxAttempts > 0 && cs.AttemptCount >= e.config.MaxAttempts {
			continue // dead letter, parked until requeued
		}
		if !e.retryDue(cs, now) {
			continue
		}
		e.transmit(ctx, cs)
	}

	e.mu.Lock()
	e.stats.DrainPasses++
	e.stats.LastDrainTime = now
	e.mu.Unlock()
}

// retryDue applies exponential backoff keyed off the attempt count. A
// never-tried entry is always due.
func (e *Engine) retryDue(cs *ChangeSet, now time.Time) bool {
	if cs.AttemptCount == 0 || e.config.InitialBackoff <= 0 {
		return true
	}
	delay := computeBackoff(cs.AttemptCount, e.config.InitialBackoff, e.config.MaxBackoff, e.config.BackoffMultiplier)
	return !now.Before(cs.LastAttempt.Add(delay))
}

func (e *Engine) transmit(ctx context.Context, cs *ChangeSet) {
	req := MutationRequest{
		BaseRev:     cs.BaseRev,
		ChangesetID: cs.ChangesetID,
		Source:      "offline",
		Fields:      cs.Fields,
	}

	resp, err := e.remote.SubmitMutation(ctx, cs.ProductKey, req)
	if err != nil {
		slog.Warn("change-set transmit failed",
			"product", cs.ProductKey,
			"changeset", cs.ChangesetID,
			"attempt", cs.AttemptCount+1,
			"err", err)
		if perr := e.queue.MarkError(cs.ChangesetID, err.Error(), time.Now().UTC()); perr != nil {
			slog.Error("queue persist after transmit failure", "err", perr)
		}
		e.mu.Lock()
		e.stats.TransportFailures++
		if e.config.MaxAttempts > 0 && cs.AttemptCount+1 >= e.config.MaxAttempts {
			e.stats.DeadLetters++
		}
		e.mu.Unlock()
		return
	}

	// Structured response: success or conflict, both terminal.
	if resp.Product != nil {
		if err := e.store.ApplyServerSnapshot(resp.Product, resp.Rev, parseServerTime(resp.LastUpdated)); err != nil {
			slog.Error("apply server snapshot failed",
				"product", cs.ProductKey, "rev", resp.Rev, "err", err)
		} else {
			e.mu.Lock()
			e.stats.SnapshotsApplied++
			e.mu.Unlock()
		}
	}

	if len(resp.Conflicts) > 0 {
		rec := ConflictRecord{
			ProductKey:  cs.ProductKey,
			ChangesetID: cs.ChangesetID,
			Fields:      resp.Conflicts,
			Timestamp:   time.Now().UTC(),
		}
		if err := e.queue.AppendConflict(rec); err != nil {
			slog.Error("queue persist after conflict", "err", err)
		}
		e.mu.Lock()
		e.stats.Conflicts++
		e.mu.Unlock()
		slog.Info("change-set applied with conflicts",
			"product", cs.ProductKey,
			"changeset", cs.ChangesetID,
			"fields", len(resp.Conflicts))
	}

	if err := e.queue.MarkSynced(cs.ChangesetID); err != nil {
		slog.Error("queue persist after sync", "err", err)
	}
	e.mu.Lock()
	e.stats.Synced++
	e.mu.Unlock()
}

// PullOnce requests all remote changes since the last known catalog
// revision, applies each carried snapshot, and advances the cursor to the
// response's high-water mark. A failed pull is logged and retried on the
// next scheduled tick; it never blocks or fails the outbound drain.
func (e *Engine) PullOnce(ctx context.Context) error {
	meta, err := e.store.GetCatalogMeta()
	if err != nil {
		e.recordPullFailure()
		return err
	}

	resp, err := e.remote.PullChanges(ctx, meta.Rev)
	if err != nil {
		e.recordPullFailure()
		return err
	}

	applied := 0
	failed := 0
	for _, ch := range resp.Changes {
		if ch.Product == nil {
			continue
		}
		if err := e.store.ApplyServerSnapshot(ch.Product, ch.Rev, parseServerTime(ch.LastUpdated)); err != nil {
			slog.Error("apply pulled snapshot failed", "rev", ch.Rev, "err", err)
			failed++
			continue
		}
		applied++
	}

	if failed > 0 {
		// Hold the cursor so the failed changes come back on the next pull.
		// Applies are idempotent, so re-applying the successful ones is safe.
		e.recordPullFailure()
		e.mu.Lock()
		e.stats.SnapshotsApplied += int64(applied)
		e.mu.Unlock()
		return fmt.Errorf("pull: %d of %d changes failed to apply", failed, applied+failed)
	}

	if err := e.store.SetCatalogRev(resp.ToRev); err != nil {
		e.recordPullFailure()
		return err
	}

	now := time.Now().UTC()
	e.mu.Lock()
	e.stats.Pulls++
	e.stats.SnapshotsApplied += int64(applied)
	e.stats.LastPullTime = now
	e.stats.LastPullRev = resp.ToRev
	e.lastPull = now
	e.mu.Unlock()

	slog.Debug("pull complete", "since_rev", meta.Rev, "to_rev", resp.ToRev, "applied", applied)
	return nil
}

func (e *Engine) recordPullFailure() {
	e.mu.Lock()
	e.stats.PullFailures++
	e.lastPull = time.Now().UTC()
	e.mu.Unlock()
}

// Stats returns a copy of the current engine statistics.
func (e *Engine) Stats() SyncStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// parseServerTime parses an RFC 3339 server timestamp; malformed or empty
// values yield the zero time rather than an error.
func parseServerTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
