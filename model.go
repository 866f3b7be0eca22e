package shelfsync

import (
	"time"
)

// Product is a catalog entity as mirrored from the remote catalog service.
// The identity key, not the display name, identifies an entity; duplicate
// display names are expected and must not collide.
type Product struct {
	// Key is the canonical identity key derived from name and description.
	Key string `json:"key"`

	// Rev is the entity revision, advanced only by the remote service.
	Rev int64 `json:"rev"`

	// Fields holds the mutable catalog fields ("name", "description",
	// "price", ...). Values round-trip through JSON.
	Fields map[string]any `json:"fields"`

	// Meta carries per-field modification metadata, keyed by field name.
	Meta map[string]FieldMeta `json:"meta,omitempty"`

	// LastUpdated is the server-reported modification time.
	LastUpdated time.Time `json:"last_updated,omitzero"`

	// Version is an opaque server version string, if reported.
	Version string `json:"version,omitempty"`
}

// Clone returns a deep copy of the product.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Fields != nil {
		cp.Fields = make(map[string]any, len(p.Fields))
		for k, v := range p.Fields {
			cp.Fields[k] = v
		}
	}
	if p.Meta != nil {
		cp.Meta = make(map[string]FieldMeta, len(p.Meta))
		for k, v := range p.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

// FieldMeta records who changed a field, when, and against which revisions.
// It is the unit of conflict detection: two writers changing different
// fields on the same entity never conflict.
type FieldMeta struct {
	// TS is the modification timestamp. The zero sentinel (Unix epoch)
	// marks metadata that was defaulted rather than observed.
	TS time.Time `json:"ts"`

	// By identifies the author of the change.
	By string `json:"by"`

	// Rev is the entity revision the field was last applied at.
	Rev int64 `json:"rev"`

	// BaseRev is the entity revision the change was based on.
	BaseRev int64 `json:"base_rev"`

	// ChangesetID links the field to the change-set that produced it.
	ChangesetID string `json:"changeset_id,omitempty"`
}

// CatalogMeta describes the catalog as a whole.
type CatalogMeta struct {
	// Rev is the last known server catalog revision, used as the cursor
	// for incremental pull.
	Rev int64 `json:"rev"`

	// LastUpdated is when the local mirror last changed.
	LastUpdated time.Time `json:"last_updated,omitzero"`

	// ProductCount is the number of locally mirrored entities.
	ProductCount int `json:"product_count"`
}

// ChangeSetStatus tracks a change-set through its lifecycle.
type ChangeSetStatus string

const (
	// ChangeSetPending marks a change-set awaiting its first transmit.
	ChangeSetPending ChangeSetStatus = "pending"
	// ChangeSetError marks a change-set whose last transmit failed at the
	// transport level; it stays in the queue and is retried.
	ChangeSetError ChangeSetStatus = "error"
	// ChangeSetSynced is terminal; synced change-sets are removed from the
	// queue, never retained.
	ChangeSetSynced ChangeSetStatus = "synced"
)

// ChangeSet is one durable local mutation attempt.
//
// The ChangesetID is generated once at enqueue time and never regenerated
// on retry; it is what makes at-least-once delivery safe to apply
// at-most-once server-side.
type ChangeSet struct {
	ProductKey   string          `json:"product_id"`
	BaseRev      int64           `json:"base_rev"`
	Fields       map[string]any  `json:"changed_fields"`
	Snapshot     *Product        `json:"full_snapshot,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	ChangesetID  string          `json:"changeset_id"`
	Status       ChangeSetStatus `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	LastAttempt  time.Time       `json:"last_attempt_timestamp,omitzero"`
	LastError    string          `json:"last_error,omitempty"`
}

// FieldConflict reports a single field the server could not apply as-is.
type FieldConflict struct {
	Field       string `json:"field"`
	ServerValue any    `json:"server_value"`
	ClientValue any    `json:"client_value"`
	Reason      string `json:"reason"`
}

// ConflictRecord is created when the remote service reports that one or
// more fields in a change-set could not be applied as submitted. Records
// live until explicitly consumed via ConsumeConflicts.
type ConflictRecord struct {
	ProductKey  string          `json:"product_id"`
	ChangesetID string          `json:"changeset_id"`
	Fields      []FieldConflict `json:"fields"`
	Timestamp   time.Time       `json:"timestamp"`
}

// MutationRequest is the outbound wire form of a change-set, logically a
// PATCH addressed by identity key.
type MutationRequest struct {
	BaseRev     int64          `json:"base_rev"`
	ChangesetID string         `json:"changeset_id"`
	Source      string         `json:"source"`
	Fields      map[string]any `json:"fields"`
}

// MutationResponse is the remote service's structured reply to a mutation.
// A 409/412 with a parsed conflict payload arrives through the same type;
// it is an outcome, not a transport failure.
type MutationResponse struct {
	Rev         int64           `json:"rev"`
	Product     *Product        `json:"product,omitempty"`
	LastUpdated string          `json:"last_updated,omitempty"`
	Version     string          `json:"version,omitempty"`
	Conflicts   []FieldConflict `json:"conflicts,omitempty"`
}

// ChangeEntry is one remote change reported by the incremental pull API.
type ChangeEntry struct {
	Product     *Product `json:"product_snapshot,omitempty"`
	Rev         int64    `json:"rev"`
	LastUpdated string   `json:"last_updated,omitempty"`
	Version     string   `json:"version,omitempty"`
}

// PullResponse is the reply to GET changes?since_rev=N.
type PullResponse struct {
	Changes []ChangeEntry `json:"changes"`
	ToRev   int64         `json:"to_rev"`
}
