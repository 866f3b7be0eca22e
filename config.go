package shelfsync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the synchronization layer configuration.
type Config struct {
	// Remote configures the connection to the authoritative catalog
	// service. An empty endpoint disables synchronization: all engine
	// operations become no-ops.
	Remote RemoteConfig `yaml:"remote"`

	// Engine configures drain and pull cadence, backoff, and the
	// dead-letter threshold.
	Engine EngineConfig `yaml:"engine"`

	// Feed configures the optional WebSocket change feed.
	Feed FeedConfig `yaml:"feed"`

	// QueuePath is the durable queue file location.
	QueuePath string `yaml:"queue_path"`

	// CompressQueue enables snappy compression of the queue file.
	CompressQueue bool `yaml:"compress_queue"`

	// Encryption configures encryption at rest for the queue file.
	Encryption *EncryptionConfig `yaml:"encryption,omitempty"`

	// Store configures the SQLite catalog store. Nil keeps the catalog
	// mirror in memory only.
	Store *SQLiteStoreConfig `yaml:"store,omitempty"`

	// CatalogStore overrides the local store with a caller-provided
	// implementation. Takes precedence over Store.
	CatalogStore CatalogStore `yaml:"-"`

	// RemoteCatalog overrides the remote client (tests).
	RemoteCatalog RemoteCatalog `yaml:"-"`
}

// DefaultConfig returns a configuration rooted at dir: the queue file at
// dir/queue.json and the catalog mirror at dir/catalog.db. The remote
// endpoint is left empty; synchronization stays disabled until one is
// configured.
func DefaultConfig(dir string) Config {
	store := DefaultSQLiteStoreConfig(filepath.Join(dir, "catalog.db"))
	return Config{
		Engine:    DefaultEngineConfig(),
		Feed:      DefaultFeedConfig(),
		QueuePath: filepath.Join(dir, "queue.json"),
		Store:     &store,
	}
}

// Enabled reports whether synchronization is configured. False when no
// remote endpoint is set.
func (c Config) Enabled() bool {
	return c.Remote.Endpoint != "" || c.RemoteCatalog != nil
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	if c.Enabled() && c.QueuePath == "" {
		return fmt.Errorf("config: queue_path is required when a remote endpoint is configured")
	}
	if c.Encryption != nil && c.Encryption.Enabled &&
		len(c.Encryption.Key) == 0 && c.Encryption.KeyPassword == "" {
		return fmt.Errorf("config: encryption enabled but no key or password provided")
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("config: feed enabled but no url configured")
	}
	return nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{
		Engine: DefaultEngineConfig(),
		Feed:   DefaultFeedConfig(),
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// setDuration parses a Go duration string into dst, leaving dst untouched
// when the field was absent from the document.
func setDuration(dst *time.Duration, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*dst = d
	return nil
}

// UnmarshalYAML accepts Go duration strings ("30s", "5m") for the interval
// fields. Fields absent from the document keep their prior values, so
// defaults survive a partial config.
func (c *EngineConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PollInterval      string   `yaml:"poll_interval"`
		PullInterval      string   `yaml:"pull_interval"`
		MaxAttempts       *int     `yaml:"max_attempts"`
		InitialBackoff    string   `yaml:"initial_backoff"`
		MaxBackoff        string   `yaml:"max_backoff"`
		BackoffMultiplier *float64 `yaml:"backoff_multiplier"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := setDuration(&c.PollInterval, raw.PollInterval); err != nil {
		return err
	}
	if err := setDuration(&c.PullInterval, raw.PullInterval); err != nil {
		return err
	}
	if err := setDuration(&c.InitialBackoff, raw.InitialBackoff); err != nil {
		return err
	}
	if err := setDuration(&c.MaxBackoff, raw.MaxBackoff); err != nil {
		return err
	}
	if raw.MaxAttempts != nil {
		c.MaxAttempts = *raw.MaxAttempts
	}
	if raw.BackoffMultiplier != nil {
		c.BackoffMultiplier = *raw.BackoffMultiplier
	}
	return nil
}

// MarshalYAML emits durations as strings so a saved config loads back.
func (c EngineConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"poll_interval":      c.PollInterval.String(),
		"pull_interval":      c.PullInterval.String(),
		"max_attempts":       c.MaxAttempts,
		"initial_backoff":    c.InitialBackoff.String(),
		"max_backoff":        c.MaxBackoff.String(),
		"backoff_multiplier": c.BackoffMultiplier,
	}, nil
}

func (c *RemoteConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Endpoint       string `yaml:"endpoint"`
		Token          string `yaml:"token"`
		ClientID       string `yaml:"client_id"`
		RequestTimeout string `yaml:"request_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Endpoint = raw.Endpoint
	c.Token = raw.Token
	c.ClientID = raw.ClientID
	return setDuration(&c.RequestTimeout, raw.RequestTimeout)
}

func (c RemoteConfig) MarshalYAML() (any, error) {
	out := map[string]any{"endpoint": c.Endpoint}
	if c.Token != "" {
		out["token"] = c.Token
	}
	if c.ClientID != "" {
		out["client_id"] = c.ClientID
	}
	if c.RequestTimeout > 0 {
		out["request_timeout"] = c.RequestTimeout.String()
	}
	return out, nil
}

func (c *FeedConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled        bool   `yaml:"enabled"`
		URL            string `yaml:"url"`
		ReconnectDelay string `yaml:"reconnect_delay"`
		ReconnectMax   string `yaml:"reconnect_max"`
		ReadTimeout    string `yaml:"read_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Enabled = raw.Enabled
	c.URL = raw.URL
	if err := setDuration(&c.ReconnectDelay, raw.ReconnectDelay); err != nil {
		return err
	}
	if err := setDuration(&c.ReconnectMax, raw.ReconnectMax); err != nil {
		return err
	}
	return setDuration(&c.ReadTimeout, raw.ReadTimeout)
}

func (c FeedConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"enabled":         c.Enabled,
		"url":             c.URL,
		"reconnect_delay": c.ReconnectDelay.String(),
		"reconnect_max":   c.ReconnectMax.String(),
		"read_timeout":    c.ReadTimeout.String(),
	}, nil
}
