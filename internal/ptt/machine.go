// Package ptt implements the push-to-talk state machine that gates captured
// audio frames onto the realtime connection.
//
// A [Machine] is Idle until a key-down edge moves it to Capturing. While
// Capturing every frame is encoded as an append event and enqueued; on the
// key-up edge exactly one commit is enqueued and the machine returns to Idle.
// The state change and the enqueue happen under the same short lock as frame
// handling, so no append of a session can follow its commit.
package ptt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/pushtalk/internal/observe"
	"github.com/MrWong99/pushtalk/internal/realtime"
	"github.com/MrWong99/pushtalk/pkg/audio"
)

// State is the push-to-talk state.
type State int

const (
	// Idle discards frames.
	Idle State = iota

	// Capturing streams frames.
	Capturing
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// Conn is the part of [realtime.Client] the machine drives.
type Conn interface {
	EnsureConnected(ctx context.Context) error
	Enqueue(msg []byte) bool
}

// Session describes one Capturing interval.
type Session struct {
	ID       string
	Started  time.Time
	Frames   int
	Samples  int
	Accepted int // frames the connection took
}

// Option configures a [Machine].
type Option func(*Machine)

// WithMetrics records sessions on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mc *Machine) {
		if m != nil {
			mc.metrics = m
		}
	}
}

// WithContext bounds background connection attempts by ctx. Key-down
// contexts only carry values; their cancellation is ignored so a short-lived
// request context cannot abort the dial it triggered.
func WithContext(ctx context.Context) Option {
	return func(mc *Machine) {
		if ctx != nil {
			mc.base = ctx
		}
	}
}

// Machine is the push-to-talk state machine. All methods are safe for
// concurrent use; key edges typically arrive from input goroutines while
// frames arrive from the capture goroutine.
type Machine struct {
	conn    Conn
	metrics *observe.Metrics
	base    context.Context

	mu      sync.Mutex
	state   State
	session Session

	errs     chan error
	inflight sync.WaitGroup
}

// New returns an Idle machine sending through conn.
func New(conn Conn, opts ...Option) *Machine {
	m := &Machine{
		conn:    conn,
		metrics: observe.DefaultMetrics(),
		base:    context.Background(),
		errs:    make(chan error, 8),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the active session and true while Capturing.
func (m *Machine) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.state == Capturing
}

// Errors delivers connection failures triggered by key-down. The channel is
// buffered; errors arriving while it is full are dropped after logging.
func (m *Machine) Errors() <-chan error { return m.errs }

// KeyDown handles a key-down edge. From Idle it starts a session and makes
// sure the connection is up on a separate goroutine so the caller never
// waits on the network. It reports whether the state changed; a key-down
// while Capturing is ignored.
func (m *Machine) KeyDown(ctx context.Context) bool {
	m.mu.Lock()
	if m.state == Capturing {
		m.mu.Unlock()
		return false
	}
	m.state = Capturing
	m.session = Session{ID: uuid.NewString(), Started: time.Now()}
	id := m.session.ID
	m.mu.Unlock()

	m.metrics.PTTSessions.Add(ctx, 1)
	slog.Info("push-to-talk started", "session", id)

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(m.base, cancel)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer cancel()
		defer stop()
		if err := m.conn.EnsureConnected(cctx); err != nil {
			slog.Error("push-to-talk could not connect", "session", id, "err", err)
			select {
			case m.errs <- err:
			default:
			}
		}
	}()
	return true
}

// KeyUp handles a key-up edge. From Capturing it enqueues the session's
// single commit and returns to Idle. It reports whether the state changed;
// a key-up while Idle is ignored.
func (m *Machine) KeyUp() bool {
	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		return false
	}
	m.state = Idle
	sent := m.conn.Enqueue(realtime.CommitMessage())
	s := m.session
	m.mu.Unlock()

	slog.Info("push-to-talk released",
		"session", s.ID,
		"duration", time.Since(s.Started).Round(time.Millisecond),
		"frames", s.Frames,
		"frames_sent", s.Accepted,
		"commit_sent", sent,
	)
	return true
}

// Toggle flips the state and reports the new one.
func (m *Machine) Toggle(ctx context.Context) State {
	if m.State() == Capturing {
		m.KeyUp()
	} else {
		m.KeyDown(ctx)
	}
	return m.State()
}

// HandleFrame encodes and enqueues f while Capturing and discards it while
// Idle. It reports whether the frame was handed to the connection.
func (m *Machine) HandleFrame(f audio.AudioFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Capturing {
		return false
	}
	m.session.Frames++
	m.session.Samples += len(f.Samples)
	if !m.conn.Enqueue(realtime.AppendMessage(f.Samples)) {
		return false
	}
	m.session.Accepted++
	return true
}

// Wait blocks until connection attempts started by KeyDown have returned.
func (m *Machine) Wait() { m.inflight.Wait() }
