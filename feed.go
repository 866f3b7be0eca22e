package shelfsync

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FeedConfig configures the catalog change feed.
type FeedConfig struct {
	// Enabled turns on the WebSocket change feed.
	Enabled bool `yaml:"enabled"`

	// URL is the feed endpoint (ws:// or wss://). Empty derives nothing;
	// the feed stays off.
	URL string `yaml:"url,omitempty"`

	// ReconnectDelay is the initial delay before reconnecting after a
	// dropped connection, doubled up to ReconnectMax.
	// Default: 5s
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// ReconnectMax caps the reconnect delay.
	// Default: 2m
	ReconnectMax time.Duration `yaml:"reconnect_max"`

	// ReadTimeout bounds each read from the feed.
	// Default: 90s
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay: 5 * time.Second,
		ReconnectMax:   2 * time.Minute,
		ReadTimeout:    90 * time.Second,
	}
}

// feedAnnouncement is one message from the remote change feed.
type feedAnnouncement struct {
	Rev int64 `json:"rev"`
}

// ChangeFeed subscribes to the remote service's change announcements over
// WebSocket and nudges the engine to pull when a newer catalog revision is
// announced. It is purely an accelerator: polling pull remains the source
// of truth, and a broken or disabled feed changes nothing semantically.
type ChangeFeed struct {
	config FeedConfig
	token  string
	engine *Engine
	store  CatalogStore

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewChangeFeed creates a change feed for the given engine. The store is
// consulted for the current pull cursor so stale announcements are
// ignored.
func NewChangeFeed(config FeedConfig, token string, engine *Engine, store CatalogStore) *ChangeFeed {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.ReconnectMax <= 0 {
		config.ReconnectMax = 2 * time.Minute
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 90 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChangeFeed{
		config: config,
		token:  token,
		engine: engine,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the feed listener. A no-op when the feed is disabled or
// has no URL.
func (f *ChangeFeed) Start() {
	if !f.config.Enabled || f.config.URL == "" {
		return
	}

	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	f.wg.Add(1)
	go f.listen()
}

// Stop disconnects the feed and waits for the listener to exit.
func (f *ChangeFeed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()
}

func (f *ChangeFeed) listen() {
	defer f.wg.Done()

	delay := f.config.ReconnectDelay
	for {
		if f.ctx.Err() != nil {
			return
		}

		if err := f.connectAndRead(); err != nil {
			slog.Warn("change feed disconnected", "url", f.config.URL, "err", err)
		}

		select {
		case <-f.ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.config.ReconnectMax {
			delay = f.config.ReconnectMax
		}
	}
}

func (f *ChangeFeed) connectAndRead() error {
	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(f.ctx, f.config.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the pending read when Stop is called.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-f.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	slog.Info("change feed connected", "url", f.config.URL)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout)); err != nil {
			return err
		}
		var ann feedAnnouncement
		if err := conn.ReadJSON(&ann); err != nil {
			return err
		}
		f.handleAnnouncement(ann)
	}
}

func (f *ChangeFeed) handleAnnouncement(ann feedAnnouncement) {
	if ann.Rev <= 0 {
		return
	}
	meta, err := f.store.GetCatalogMeta()
	if err == nil && ann.Rev <= meta.Rev {
		return // stale announcement, nothing new to pull
	}
	slog.Debug("change feed announcement", "rev", ann.Rev)
	f.engine.NudgePull()
}
