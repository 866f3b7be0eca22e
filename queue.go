package shelfsync

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// QueueConfig configures the durable offline queue.
type QueueConfig struct {
	// Path is the queue file location. Empty keeps the queue in memory
	// only (used by tests; production always persists).
	Path string

	// Compress enables snappy block compression of the persisted file.
	Compress bool

	// Encryption configures encryption at rest. Nil or disabled stores
	// the file in plaintext.
	Encryption *EncryptionConfig

	// Disabled makes Enqueue a silent no-op. Set when no remote endpoint
	// is configured.
	Disabled bool
}

// queueFile is the persisted representation: all change-sets plus any
// outstanding conflict records, written as one atomic unit.
type queueFile struct {
	Queue     []*ChangeSet     `json:"queue"`
	Conflicts []ConflictRecord `json:"conflicts"`
}

// OfflineQueue is an ordered, persisted list of not-yet-acknowledged local
// mutations. Order is FIFO by enqueue time; entries leave the queue only on
// a confirmed server acknowledgment. The queue file is single-writer and
// always replaced atomically, so a crash-recovering restart never observes
// a half-written file.
type OfflineQueue struct {
	mu        sync.Mutex
	path      string
	compress  bool
	enc       *Encryptor
	disabled  bool
	entries   []*ChangeSet
	conflicts []ConflictRecord
}

// NewOfflineQueue creates a queue and loads any persisted state. A missing
// or unreadable queue file is treated as an empty queue, never an error.
func NewOfflineQueue(cfg QueueConfig) (*OfflineQueue, error) {
	enc, err := NewEncryptor(valueOrDisabled(cfg.Encryption))
	if err != nil {
		return nil, err
	}
	q := &OfflineQueue{
		path:     cfg.Path,
		compress: cfg.Compress,
		enc:      enc,
		disabled: cfg.Disabled,
	}
	q.load()
	return q, nil
}

func valueOrDisabled(cfg *EncryptionConfig) EncryptionConfig {
	if cfg == nil {
		return EncryptionConfig{}
	}
	return *cfg
}

// Enqueue appends a new pending change-set and persists the queue. The
// changeset ID is generated here, exactly once; retries reuse it so the
// server can deduplicate. A zero timestamp defaults to the current time.
//
// Enqueue silently returns when synchronization is disabled.
func (q *OfflineQueue) Enqueue(productKey string, baseRev int64, fields map[string]any, snapshot *Product, ts time.Time) error {
	if q.disabled {
		return nil
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	cs := &ChangeSet{
		ProductKey:  productKey,
		BaseRev:     baseRev,
		Fields:      fields,
		Snapshot:    snapshot.Clone(),
		Timestamp:   ts,
		ChangesetID: uuid.New().String(),
		Status:      ChangeSetPending,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, cs)
	return q.persistLocked()
}

// Snapshot returns a fixed-point copy of the current queue entries in FIFO
// order. Entries enqueued after the snapshot wait for the next drain pass.
func (q *OfflineQueue) Snapshot() []*ChangeSet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*ChangeSet, len(q.entries))
	for i, e := range q.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// MarkSynced removes a change-set from the queue (terminal outcome) and
// persists. Removing an ID that is no longer queued is a no-op.
func (q *OfflineQueue) MarkSynced(changesetID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ChangesetID == changesetID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return q.persistLocked()
		}
	}
	return nil
}

// MarkError records a failed transmit attempt: status error, attempt count
// incremented, last error and attempt time recorded. The entry stays queued
// for the next pass.
func (q *OfflineQueue) MarkError(changesetID, errMsg string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ChangesetID == changesetID {
			e.Status = ChangeSetError
			e.AttemptCount++
			e.LastError = errMsg
			e.LastAttempt = at
			return q.persistLocked()
		}
	}
	return nil
}

// AppendConflict records a conflict reported by the server and persists.
func (q *OfflineQueue) AppendConflict(rec ConflictRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.conflicts = append(q.conflicts, rec)
	return q.persistLocked()
}

// Conflicts returns a copy of the outstanding conflict records.
func (q *OfflineQueue) Conflicts() []ConflictRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ConflictRecord, len(q.conflicts))
	copy(out, q.conflicts)
	return out
}

// ConsumeConflicts returns the outstanding conflict records and clears
// them. Consumption is the only way a conflict record is destroyed.
func (q *OfflineQueue) ConsumeConflicts() []ConflictRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.conflicts
	q.conflicts = nil
	if err := q.persistLocked(); err != nil {
		slog.Error("queue persist after conflict consume", "err", err)
	}
	return out
}

// PendingCount returns the number of change-sets still awaiting a server
// acknowledgment (status pending or error).
func (q *OfflineQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Status == ChangeSetPending || e.Status == ChangeSetError {
			n++
		}
	}
	return n
}

// RequeueDeadLetters resets the attempt count of every errored entry so
// entries parked past the MaxAttempts threshold drain again. Returns the
// number of entries reset.
func (q *OfflineQueue) RequeueDeadLetters() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Status == ChangeSetError && e.AttemptCount > 0 {
			e.AttemptCount = 0
			e.LastError = ""
			n++
		}
	}
	if n > 0 {
		if err := q.persistLocked(); err != nil {
			slog.Error("queue persist after requeue", "err", err)
		}
	}
	return n
}

// load reads the persisted queue state. Any failure degrades to an empty
// queue: offline durability must never become a startup failure.
func (q *OfflineQueue) load() {
	if q.path == "" {
		return
	}

	data, err := os.ReadFile(q.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("queue file unreadable, starting empty", "path", q.path, "err", err)
		}
		return
	}

	data, err = q.enc.Open(data)
	if err != nil {
		slog.Warn("queue file undecryptable, starting empty", "path", q.path, "err", err)
		return
	}

	var qf queueFile
	if err := json.Unmarshal(data, &qf); err != nil {
		// Not plain JSON; try snappy before giving up.
		decoded, derr := snappy.Decode(nil, data)
		if derr != nil || json.Unmarshal(decoded, &qf) != nil {
			slog.Warn("queue file corrupt, starting empty", "path", q.path, "err", err)
			return
		}
	}

	q.entries = qf.Queue
	q.conflicts = qf.Conflicts
}

// persistLocked writes the whole queue atomically: marshal, optionally
// compress and encrypt, write to a temp file in the same directory, then
// rename over the target.
func (q *OfflineQueue) persistLocked() error {
	if q.path == "" {
		return nil
	}

	data, err := json.Marshal(queueFile{Queue: q.entries, Conflicts: q.conflicts})
	if err != nil {
		return err
	}
	if q.compress {
		data = snappy.Encode(nil, data)
	}
	if data, err = q.enc.Seal(data); err != nil {
		return err
	}

	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, q.path)
}
