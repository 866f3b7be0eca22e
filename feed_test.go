package shelfsync

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFeedHandleAnnouncement(t *testing.T) {
	store := NewMemoryStore()
	store.SetCatalogRev(5)
	engine := NewEngine(EngineConfig{}, nil, store, &fakeRemote{})
	feed := NewChangeFeed(DefaultFeedConfig(), "", engine, store)

	t.Run("newer rev nudges", func(t *testing.T) {
		feed.handleAnnouncement(feedAnnouncement{Rev: 6})
		if len(engine.pullNudge) != 1 {
			t.Error("expected pull nudge for newer revision")
		}
		<-engine.pullNudge
	})

	t.Run("stale rev ignored", func(t *testing.T) {
		feed.handleAnnouncement(feedAnnouncement{Rev: 5})
		feed.handleAnnouncement(feedAnnouncement{Rev: 3})
		if len(engine.pullNudge) != 0 {
			t.Error("expected no nudge for stale revisions")
		}
	})

	t.Run("non-positive rev ignored", func(t *testing.T) {
		feed.handleAnnouncement(feedAnnouncement{Rev: 0})
		feed.handleAnnouncement(feedAnnouncement{Rev: -1})
		if len(engine.pullNudge) != 0 {
			t.Error("expected no nudge for invalid revisions")
		}
	})
}

func TestFeedTriggersPull(t *testing.T) {
	var upgrader websocket.Upgrader
	gotAuth := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(feedAnnouncement{Rev: 42})
		// Hold the connection open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	pulled := make(chan int64, 1)
	remote := &fakeRemote{
		pullFn: func(sinceRev int64) (*PullResponse, error) {
			select {
			case pulled <- sinceRev:
			default:
			}
			return &PullResponse{ToRev: 42}, nil
		},
	}

	q, err := NewOfflineQueue(QueueConfig{})
	if err != nil {
		t.Fatal(err)
	}
	store := NewMemoryStore()
	engine := NewEngine(EngineConfig{PollInterval: time.Hour, PullInterval: time.Hour}, q, store, remote)
	if err := engine.Start(); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	defer engine.Stop()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed := NewChangeFeed(FeedConfig{Enabled: true, URL: wsURL}, "secret", engine, store)
	feed.Start()
	defer feed.Stop()

	select {
	case auth := <-gotAuth:
		if auth != "Bearer secret" {
			t.Errorf("expected bearer token on feed handshake, got %q", auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed never connected")
	}

	select {
	case <-pulled:
	case <-time.After(2 * time.Second):
		t.Fatal("announcement never triggered a pull")
	}
}

func TestFeedStartDisabled(t *testing.T) {
	engine := NewEngine(EngineConfig{}, nil, NewMemoryStore(), &fakeRemote{})

	feed := NewChangeFeed(FeedConfig{}, "", engine, NewMemoryStore())
	feed.Start()
	feed.Stop()

	feed = NewChangeFeed(FeedConfig{Enabled: true}, "", engine, NewMemoryStore())
	feed.Start()
	feed.Stop()
}
