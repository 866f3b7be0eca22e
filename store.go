package shelfsync

import (
	"sync"
	"time"
)

// CatalogStore is the narrow contract the sync engine uses to read and
// write local catalog state. Implementations must key entities by identity
// key, never by mutable display name, and ApplyServerSnapshot must be
// idempotent: applying the same snapshot and revision twice leaves the
// entity identical after the second call.
type CatalogStore interface {
	// GetCatalogMeta returns catalog-wide state, including the last known
	// server catalog revision used as the incremental pull cursor.
	GetCatalogMeta() (CatalogMeta, error)

	// SetCatalogRev advances the locally tracked catalog revision to the
	// pull response's reported high-water mark.
	SetCatalogRev(rev int64) error

	// ApplyServerSnapshot overwrites the local entity wholesale with a
	// server-provided snapshot at the given entity revision. The server is
	// the sole writer of authoritative fields and always wins.
	ApplyServerSnapshot(p *Product, rev int64, lastUpdated time.Time) error

	// GetProduct returns the entity for an identity key, or
	// ErrProductNotFound.
	GetProduct(key string) (*Product, error)
}

// MemoryStore is an in-memory CatalogStore. It backs tests and callers
// that keep their own authoritative local persistence.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*Product
	rev      int64
	updated  time.Time
}

// NewMemoryStore creates an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[string]*Product)}
}

// GetCatalogMeta returns the catalog revision cursor and entity count.
func (s *MemoryStore) GetCatalogMeta() (CatalogMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CatalogMeta{
		Rev:          s.rev,
		LastUpdated:  s.updated,
		ProductCount: len(s.products),
	}, nil
}

// SetCatalogRev advances the catalog revision cursor. A lower revision is
// ignored; the cursor only moves forward.
func (s *MemoryStore) SetCatalogRev(rev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev > s.rev {
		s.rev = rev
		s.updated = time.Now().UTC()
	}
	return nil
}

// ApplyServerSnapshot stores the snapshot wholesale under its identity key.
func (s *MemoryStore) ApplyServerSnapshot(p *Product, rev int64, lastUpdated time.Time) error {
	if p == nil {
		return nil
	}
	cp := p.Clone()
	cp.Rev = rev
	if !lastUpdated.IsZero() {
		cp.LastUpdated = lastUpdated
	}
	key := cp.Key
	if key == "" {
		key = IdentityKey(fieldString(cp, "name"), fieldString(cp, "description"))
		cp.Key = key
	}
	for field := range cp.Fields {
		EnsureFieldMeta(cp, field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[key] = cp
	s.updated = time.Now().UTC()
	return nil
}

// GetProduct returns a copy of the stored entity.
func (s *MemoryStore) GetProduct(key string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[key]
	if !ok {
		return nil, ErrProductNotFound
	}
	return p.Clone(), nil
}

func fieldString(p *Product, field string) string {
	if p == nil || p.Fields == nil {
		return ""
	}
	v, _ := p.Fields[field].(string)
	return v
}
