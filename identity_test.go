package shelfsync

import (
	"testing"
	"time"
)

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		description string
		want        string
	}{
		{"simple", "Widget", "A Box", "widget::a box"},
		{"whitespace collapse", "  Widget  ", "A\t Box ", "widget::a box"},
		{"case folding", "WIDGET", "A BOX", "widget::a box"},
		{"empty description", "Widget", "", "widget::"},
		{"both empty", "", "", "::"},
		{"internal runs", "Big   Widget", "still  a   box", "big widget::still a box"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IdentityKey(tt.displayName, tt.description)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIdentityKeyDistinguishesByDescription(t *testing.T) {
	a := IdentityKey("Widget", "a box")
	b := IdentityKey("Widget", "a crate")
	if a == b {
		t.Errorf("expected distinct keys for same name with different descriptions, both %q", a)
	}
}

func TestEnsureFieldMeta(t *testing.T) {
	p := &Product{Rev: 7}

	m := EnsureFieldMeta(p, "price")
	if !m.TS.Equal(metaEpoch) {
		t.Errorf("expected epoch sentinel timestamp, got %v", m.TS)
	}
	if m.By != systemAuthor {
		t.Errorf("expected author %q, got %q", systemAuthor, m.By)
	}
	if m.Rev != 7 {
		t.Errorf("expected rev 7, got %d", m.Rev)
	}
	if m.BaseRev != 0 {
		t.Errorf("expected base rev 0, got %d", m.BaseRev)
	}

	// A second call returns the stored record, not a fresh default.
	p.Meta["price"] = FieldMeta{By: "alice", Rev: 9}
	m = EnsureFieldMeta(p, "price")
	if m.By != "alice" || m.Rev != 9 {
		t.Errorf("expected stored metadata, got %+v", m)
	}
}

func TestUpdateFieldMeta(t *testing.T) {
	p := &Product{Rev: 3}
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	UpdateFieldMeta(p, "price", ts, "alice", 4, 3, "cs-1")
	m := p.Meta["price"]
	if !m.TS.Equal(ts) || m.By != "alice" || m.Rev != 4 || m.BaseRev != 3 || m.ChangesetID != "cs-1" {
		t.Fatalf("unexpected metadata after update: %+v", m)
	}

	// An empty changeset ID keeps the previous link.
	UpdateFieldMeta(p, "price", ts.Add(time.Minute), "bob", 5, 4, "")
	m = p.Meta["price"]
	if m.By != "bob" || m.Rev != 5 {
		t.Errorf("expected overwrite of author and rev, got %+v", m)
	}
	if m.ChangesetID != "cs-1" {
		t.Errorf("expected changeset link preserved, got %q", m.ChangesetID)
	}
}

func TestProductClone(t *testing.T) {
	p := &Product{
		Key:    "widget::a box",
		Rev:    3,
		Fields: map[string]any{"name": "Widget", "price": 1200},
		Meta:   map[string]FieldMeta{"price": {By: "alice"}},
	}

	cp := p.Clone()
	cp.Fields["price"] = 9999
	cp.Meta["price"] = FieldMeta{By: "mallory"}

	if p.Fields["price"] != 1200 {
		t.Errorf("clone mutation leaked into original fields: %v", p.Fields["price"])
	}
	if p.Meta["price"].By != "alice" {
		t.Errorf("clone mutation leaked into original meta: %+v", p.Meta["price"])
	}

	var nilP *Product
	if nilP.Clone() != nil {
		t.Error("expected nil clone of nil product")
	}
}
