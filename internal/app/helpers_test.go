package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/pushtalk/internal/observe"
	"github.com/MrWong99/pushtalk/internal/realtime"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startSessionServer accepts websocket connections and publishes the raw
// messages of every committed push-to-talk session, commit included.
func startSessionServer(t *testing.T) (*httptest.Server, <-chan [][]byte) {
	t.Helper()
	sessions := make(chan [][]byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		var msgs [][]byte
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			msgs = append(msgs, data)
			if realtime.MessageType(data) == realtime.TypeCommit {
				sessions <- msgs
				msgs = nil
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, sessions
}

// nextSession waits for one committed session.
func nextSession(t *testing.T, sessions <-chan [][]byte) [][]byte {
	t.Helper()
	select {
	case s := <-sessions:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for a committed session")
		return nil
	}
}

// newMetrics returns metrics backed by a no-op provider.
func newMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// constBlock returns a mono block of n samples holding v.
func constBlock(n int, v float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = v
	}
	return b
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
