package shelfsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Service is the top-level synchronization handle. It owns the durable
// queue, the local catalog mirror, the remote client, and the background
// engine, and exposes the surface callers interact with.
type Service struct {
	config Config
	queue  *OfflineQueue
	store  CatalogStore
	remote RemoteCatalog
	engine *Engine
	feed   *ChangeFeed

	// ownedStore is non-nil when the service opened the store itself
	// and must close it.
	ownedStore *SQLiteStore
}

// New creates a synchronization service from the configuration. The
// background engine is not started; call Start. When no remote endpoint
// is configured the service comes up disabled: enqueues are dropped and
// the engine never runs.
func New(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Service{config: config}

	switch {
	case config.CatalogStore != nil:
		s.store = config.CatalogStore
	case config.Store != nil:
		sq, err := NewSQLiteStore(*config.Store)
		if err != nil {
			return nil, fmt.Errorf("open catalog store: %w", err)
		}
		s.store = sq
		s.ownedStore = sq
	default:
		s.store = NewMemoryStore()
	}

	queue, err := NewOfflineQueue(QueueConfig{
		Path:       config.QueuePath,
		Compress:   config.CompressQueue,
		Encryption: config.Encryption,
		Disabled:   !config.Enabled(),
	})
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.queue = queue

	if config.RemoteCatalog != nil {
		s.remote = config.RemoteCatalog
	} else if config.Remote.Endpoint != "" {
		s.remote = NewHTTPRemoteCatalog(config.Remote)
	}

	if s.remote != nil {
		s.engine = NewEngine(config.Engine, s.queue, s.store, s.remote)
		if config.Feed.Enabled {
			s.feed = NewChangeFeed(config.Feed, config.Remote.Token, s.engine, s.store)
		}
	}

	return s, nil
}

// Start launches the background sync worker and, if configured, the
// change feed listener. No-op when synchronization is disabled.
func (s *Service) Start() error {
	if s.engine == nil {
		return nil
	}
	if err := s.engine.Start(); err != nil {
		return err
	}
	if s.feed != nil {
		s.feed.Start()
	}
	slog.Info("sync service started", "pending", s.queue.PendingCount())
	return nil
}

// Close stops the background worker, waits for the in-flight pass to
// finish, and closes the catalog store.
func (s *Service) Close() error {
	if s.feed != nil {
		s.feed.Stop()
	}
	if s.engine != nil {
		s.engine.Stop()
	}
	return s.closeStore()
}

func (s *Service) closeStore() error {
	if s.ownedStore == nil {
		return nil
	}
	return s.ownedStore.Close()
}

// Enabled reports whether synchronization is configured.
func (s *Service) Enabled() bool {
	return s.remote != nil
}

// EnqueueUpdate records a local edit for eventual synchronization. The
// changed fields are the delta the caller applied; the product carries
// the full post-edit snapshot and the revision the edit was based on.
// Returns immediately once the queue file is persisted. Silently drops
// the edit when synchronization is disabled.
func (s *Service) EnqueueUpdate(product *Product, changedFields map[string]any) error {
	if product == nil {
		return fmt.Errorf("enqueue: nil product")
	}
	key := product.Key
	if key == "" {
		key = IdentityKey(fieldString(product, "name"), fieldString(product, "description"))
	}
	now := time.Now().UTC()
	author := s.config.Remote.ClientID
	if author == "" {
		author = "local"
	}
	// Stamp the edited fields on the queued snapshot so the change-set
	// records who changed what and against which base revision.
	snapshot := product.Clone()
	for field := range changedFields {
		UpdateFieldMeta(snapshot, field, now, author, snapshot.Rev, snapshot.Rev, "")
	}
	return s.queue.Enqueue(key, product.Rev, changedFields, snapshot, now)
}

// Conflicts returns the accumulated conflict records without clearing
// them.
func (s *Service) Conflicts() []ConflictRecord {
	return s.queue.Conflicts()
}

// ConsumeConflicts returns the accumulated conflict records and clears
// them. Each conflict is delivered exactly once.
func (s *Service) ConsumeConflicts() []ConflictRecord {
	return s.queue.ConsumeConflicts()
}

// PendingCount returns the number of changesets not yet accepted by the
// server, including ones in error state awaiting retry.
func (s *Service) PendingCount() int {
	return s.queue.PendingCount()
}

// Stats returns a snapshot of engine counters. Zero value when
// synchronization is disabled.
func (s *Service) Stats() SyncStats {
	if s.engine == nil {
		return SyncStats{}
	}
	return s.engine.Stats()
}

// RequeueDeadLetters resets changesets parked at the dead-letter
// threshold so the engine retries them. Returns the number requeued.
func (s *Service) RequeueDeadLetters() int {
	return s.queue.RequeueDeadLetters()
}

// Store exposes the local catalog mirror for reads.
func (s *Service) Store() CatalogStore {
	return s.store
}

// SyncNow runs one drain pass followed by one pull synchronously,
// bypassing the background cadence. Useful after connectivity returns.
func (s *Service) SyncNow(ctx context.Context) error {
	if s.engine == nil {
		return ErrSyncDisabled
	}
	s.engine.ProcessOnce(ctx)
	return s.engine.PullOnce(ctx)
}
