package shelfsync

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreApplyAndGet(t *testing.T) {
	s := NewMemoryStore()

	p := &Product{
		Key:    "widget::a box",
		Fields: map[string]any{"name": "Widget", "description": "a box", "price": 1200},
	}
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.ApplyServerSnapshot(p, 4, ts); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	got, err := s.GetProduct("widget::a box")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Rev != 4 {
		t.Errorf("expected rev 4, got %d", got.Rev)
	}
	if !got.LastUpdated.Equal(ts) {
		t.Errorf("expected last updated %v, got %v", ts, got.LastUpdated)
	}

	// The returned copy is isolated from the store.
	got.Fields["price"] = 1
	again, _ := s.GetProduct("widget::a box")
	if again.Fields["price"] != 1200 {
		t.Errorf("expected store isolation, got price %v", again.Fields["price"])
	}
}

func TestMemoryStoreApplyIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	p := &Product{Key: "a::x", Fields: map[string]any{"price": 7}}

	s.ApplyServerSnapshot(p, 5, time.Time{})
	s.ApplyServerSnapshot(p, 5, time.Time{})

	got, err := s.GetProduct("a::x")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Rev != 5 {
		t.Errorf("expected rev 5 after replay, got %d", got.Rev)
	}
	meta, _ := s.GetCatalogMeta()
	if meta.ProductCount != 1 {
		t.Errorf("expected 1 product after replay, got %d", meta.ProductCount)
	}
}

func TestMemoryStoreDefaultsFieldMetadata(t *testing.T) {
	s := NewMemoryStore()
	p := &Product{Key: "a::x", Fields: map[string]any{"price": 7}}

	if err := s.ApplyServerSnapshot(p, 3, time.Time{}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	got, err := s.GetProduct("a::x")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	m, ok := got.Meta["price"]
	if !ok {
		t.Fatal("expected metadata for bare field")
	}
	if !m.TS.Equal(metaEpoch) || m.By != systemAuthor || m.Rev != 3 {
		t.Errorf("unexpected defaulted metadata: %+v", m)
	}

	// Metadata supplied by the server is kept as is.
	p2 := &Product{
		Key:    "a::x",
		Fields: map[string]any{"price": 8},
		Meta:   map[string]FieldMeta{"price": {By: "alice", Rev: 4}},
	}
	if err := s.ApplyServerSnapshot(p2, 4, time.Time{}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	got, _ = s.GetProduct("a::x")
	if got.Meta["price"].By != "alice" {
		t.Errorf("expected server metadata kept, got %+v", got.Meta["price"])
	}
}

func TestMemoryStoreDerivesKeyFromFields(t *testing.T) {
	s := NewMemoryStore()
	p := &Product{Fields: map[string]any{"name": "Widget", "description": "A Box"}}

	if err := s.ApplyServerSnapshot(p, 1, time.Time{}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	got, err := s.GetProduct("widget::a box")
	if err != nil {
		t.Fatalf("expected product addressable by derived key: %v", err)
	}
	if got.Key != "widget::a box" {
		t.Errorf("expected derived key stored on product, got %q", got.Key)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetProduct("nope::nothing")
	if !errors.Is(err, ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got %v", err)
	}
}

func TestMemoryStoreRevCursorForwardOnly(t *testing.T) {
	s := NewMemoryStore()

	s.SetCatalogRev(10)
	s.SetCatalogRev(7)

	meta, err := s.GetCatalogMeta()
	if err != nil {
		t.Fatalf("meta failed: %v", err)
	}
	if meta.Rev != 10 {
		t.Errorf("expected cursor held at 10, got %d", meta.Rev)
	}

	s.SetCatalogRev(12)
	meta, _ = s.GetCatalogMeta()
	if meta.Rev != 12 {
		t.Errorf("expected cursor advanced to 12, got %d", meta.Rev)
	}
}
