package shelfsync

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		err  *TransportError
		want string
	}{
		{"status and cause", &TransportError{Op: "mutate", Status: 502, Cause: cause}, "mutate: status 502: connection refused"},
		{"status only", &TransportError{Op: "pull", Status: 503}, "pull: unexpected status 503"},
		{"cause only", &TransportError{Op: "mutate", Cause: cause}, "mutate: connection refused"},
		{"bare", &TransportError{Op: "pull"}, "pull: transport error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	wrapped := fmt.Errorf("drain: %w", &TransportError{Op: "mutate", Temporary: true, Cause: cause})
	if !IsTemporary(wrapped) {
		t.Error("expected IsTemporary to see through wrapping")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("expected cause reachable via errors.Is")
	}
	if IsTemporary(errors.New("nope")) {
		t.Error("expected plain error not temporary")
	}
}

func TestStoreError(t *testing.T) {
	cause := errors.New("disk full")
	err := newStoreError("apply", "widget::a box", cause)

	if !strings.Contains(err.Error(), "widget::a box") {
		t.Errorf("expected key in message, got %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause reachable via errors.Is")
	}

	noKey := newStoreError("meta", "", cause)
	if strings.Contains(noKey.Error(), "[]") {
		t.Errorf("expected no empty key brackets, got %q", noKey.Error())
	}
}
