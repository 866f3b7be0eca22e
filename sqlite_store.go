package shelfsync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures the SQLite catalog store.
type SQLiteStoreConfig struct {
	// Path to the SQLite database file.
	Path string `yaml:"path"`

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string `yaml:"journal_mode,omitempty"`

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA).
	Synchronous string `yaml:"synchronous,omitempty"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds.
	BusyTimeout int `yaml:"busy_timeout,omitempty"`

	// MaxConnections is the max number of database connections.
	MaxConnections int `yaml:"max_connections,omitempty"`
}

// DefaultSQLiteStoreConfig returns default configuration.
func DefaultSQLiteStoreConfig(path string) SQLiteStoreConfig {
	return SQLiteStoreConfig{
		Path:           path,
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 4,
	}
}

// SQLiteStore implements CatalogStore on a local SQLite file. Entities are
// stored as JSON documents keyed by identity key; the catalog revision
// cursor lives in a single-row meta table.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteStoreConfig
	mu     sync.RWMutex
	closed bool

	upsertStmt *sql.Stmt
	selectStmt *sql.Stmt
	countStmt  *sql.Stmt
}

// NewSQLiteStore opens (creating if needed) a SQLite catalog store.
func NewSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 4
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	s := &SQLiteStore{db: db, config: config}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS products (
			key TEXT PRIMARY KEY,
			rev INTEGER NOT NULL,
			data TEXT NOT NULL,
			last_updated TEXT
		);

		CREATE TABLE IF NOT EXISTS catalog_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			rev INTEGER NOT NULL,
			last_updated TEXT
		);

		INSERT OR IGNORE INTO catalog_meta (id, rev) VALUES (1, 0);

		CREATE INDEX IF NOT EXISTS idx_products_rev ON products(rev);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.upsertStmt, err = s.db.Prepare(`
		INSERT INTO products (key, rev, data, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			rev = excluded.rev,
			data = excluded.data,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return err
	}

	s.selectStmt, err = s.db.Prepare(`SELECT data FROM products WHERE key = ?`)
	if err != nil {
		return err
	}

	s.countStmt, err = s.db.Prepare(`SELECT COUNT(*) FROM products`)
	return err
}

// GetCatalogMeta returns the pull cursor and entity count.
func (s *SQLiteStore) GetCatalogMeta() (CatalogMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return CatalogMeta{}, ErrStoreClosed
	}

	var meta CatalogMeta
	var lastUpdated sql.NullString
	err := s.db.QueryRow(`SELECT rev, last_updated FROM catalog_meta WHERE id = 1`).
		Scan(&meta.Rev, &lastUpdated)
	if err != nil {
		return CatalogMeta{}, newStoreError("meta", "", err)
	}
	if lastUpdated.Valid {
		meta.LastUpdated = parseServerTime(lastUpdated.String)
	}

	if err := s.countStmt.QueryRow().Scan(&meta.ProductCount); err != nil {
		return CatalogMeta{}, newStoreError("meta", "", err)
	}
	return meta, nil
}

// SetCatalogRev advances the catalog revision cursor; it never moves
// backward.
func (s *SQLiteStore) SetCatalogRev(rev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(
		`UPDATE catalog_meta SET rev = ?, last_updated = ? WHERE id = 1 AND rev < ?`,
		rev, time.Now().UTC().Format(time.RFC3339), rev)
	if err != nil {
		return newStoreError("meta", "", err)
	}
	return nil
}

// ApplyServerSnapshot upserts the entity wholesale under its identity key.
// Replaying the same snapshot and revision is a no-op by construction:
// the row contents come entirely from the snapshot.
func (s *SQLiteStore) ApplyServerSnapshot(p *Product, rev int64, lastUpdated time.Time) error {
	if p == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	cp := p.Clone()
	cp.Rev = rev
	if !lastUpdated.IsZero() {
		cp.LastUpdated = lastUpdated
	}
	if cp.Key == "" {
		cp.Key = IdentityKey(fieldString(cp, "name"), fieldString(cp, "description"))
	}
	for field := range cp.Fields {
		EnsureFieldMeta(cp, field)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return newStoreError("apply", cp.Key, err)
	}

	var lu string
	if !cp.LastUpdated.IsZero() {
		lu = cp.LastUpdated.UTC().Format(time.RFC3339)
	}
	if _, err := s.upsertStmt.Exec(cp.Key, rev, string(data), lu); err != nil {
		return newStoreError("apply", cp.Key, err)
	}
	return nil
}

// GetProduct loads an entity by identity key.
func (s *SQLiteStore) GetProduct(key string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data string
	err := s.selectStmt.QueryRow(key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, newStoreError("get", key, err)
	}

	var p Product
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, newStoreError("get", key, err)
	}
	return &p, nil
}

// Close releases the database handle. Further operations return
// ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{s.upsertStmt, s.selectStmt, s.countStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
