package ptt_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/pushtalk/internal/observe"
	"github.com/MrWong99/pushtalk/internal/ptt"
	"github.com/MrWong99/pushtalk/internal/realtime"
	"github.com/MrWong99/pushtalk/pkg/audio"
)

// fakeConn records calls made by the machine.
type fakeConn struct {
	mu sync.Mutex

	// ConnectErr is returned by EnsureConnected.
	ConnectErr error

	// Gate, when non-nil, blocks EnsureConnected until closed.
	Gate chan struct{}

	// Reject makes Enqueue refuse every message.
	Reject bool

	Connects int
	Sent     []string
}

func (c *fakeConn) EnsureConnected(ctx context.Context) error {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Connects++
	return c.ConnectErr
}

func (c *fakeConn) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Reject {
		return false
	}
	c.Sent = append(c.Sent, realtime.MessageType(msg))
	return true
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Sent...)
}

func (c *fakeConn) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Connects
}

func newMachine(t *testing.T, conn ptt.Conn) *ptt.Machine {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return ptt.New(conn, ptt.WithMetrics(m))
}

func frame(seq uint64) audio.AudioFrame {
	return audio.AudioFrame{Samples: make([]int16, 960), SampleRate: 24000, Seq: seq}
}

func TestMachine_IdleDiscardsFrames(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	m := newMachine(t, conn)

	if m.State() != ptt.Idle {
		t.Fatalf("initial state = %v, want idle", m.State())
	}
	for i := range 5 {
		if m.HandleFrame(frame(uint64(i))) {
			t.Fatal("frame accepted while idle")
		}
	}
	if got := conn.sent(); len(got) != 0 {
		t.Errorf("sent %v while idle, want nothing", got)
	}
}

func TestMachine_SessionSendsAppendsThenOneCommit(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	m := newMachine(t, conn)
	ctx := context.Background()

	if !m.KeyDown(ctx) {
		t.Fatal("KeyDown from idle reported no transition")
	}
	if m.KeyDown(ctx) {
		t.Error("repeated KeyDown reported a transition")
	}
	s, ok := m.Current()
	if !ok || s.ID == "" {
		t.Fatalf("Current() = %+v, %v; want an active session with an id", s, ok)
	}

	for i := range 3 {
		if !m.HandleFrame(frame(uint64(i))) {
			t.Fatalf("frame %d not sent while capturing", i)
		}
	}
	if !m.KeyUp() {
		t.Fatal("KeyUp from capturing reported no transition")
	}
	if m.KeyUp() {
		t.Error("repeated KeyUp reported a transition")
	}
	m.HandleFrame(frame(3))
	m.Wait()

	want := []string{realtime.TypeAppend, realtime.TypeAppend, realtime.TypeAppend, realtime.TypeCommit}
	got := conn.sent()
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent %v, want %v", got, want)
		}
	}
	if conn.connects() != 1 {
		t.Errorf("EnsureConnected called %d times, want 1", conn.connects())
	}
	if _, ok := m.Current(); ok {
		t.Error("session still active after KeyUp")
	}
}

func TestMachine_KeyUpWhileIdleSendsNothing(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	m := newMachine(t, conn)
	if m.KeyUp() {
		t.Error("KeyUp while idle reported a transition")
	}
	if got := conn.sent(); len(got) != 0 {
		t.Errorf("sent %v, want nothing", got)
	}
}

func TestMachine_NoAppendAfterCommit(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	m := newMachine(t, conn)
	ctx := context.Background()

	const sessions = 20
	for n := range sessions {
		m.KeyDown(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				m.HandleFrame(frame(uint64(i)))
			}
		}()
		time.Sleep(time.Millisecond)
		m.KeyUp()
		wg.Wait()

		got := conn.sent()
		if last := got[len(got)-1]; last != realtime.TypeCommit {
			t.Fatalf("session %d: last message = %q after release, want commit", n, last)
		}
	}
	m.Wait()

	commits := 0
	for _, typ := range conn.sent() {
		if typ == realtime.TypeCommit {
			commits++
		}
	}
	if commits != sessions {
		t.Errorf("commits = %d, want %d", commits, sessions)
	}
}

func TestMachine_KeyDownDoesNotWaitForConnect(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{Gate: make(chan struct{})}
	m := newMachine(t, conn)

	done := make(chan struct{})
	go func() {
		m.KeyDown(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("KeyDown blocked on EnsureConnected")
	}
	if m.State() != ptt.Capturing {
		t.Errorf("state = %v, want capturing", m.State())
	}
	close(conn.Gate)
	m.Wait()
	if conn.connects() != 1 {
		t.Errorf("connects = %d, want 1", conn.connects())
	}
}

func TestMachine_ConnectIgnoresKeyDownCancellation(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{Gate: make(chan struct{})}
	m := newMachine(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	m.KeyDown(ctx)
	cancel()
	close(conn.Gate)
	m.Wait()

	select {
	case err := <-m.Errors():
		t.Fatalf("connect failed after caller cancellation: %v", err)
	default:
	}
	if conn.connects() != 1 {
		t.Errorf("connects = %d, want 1", conn.connects())
	}
}

func TestMachine_BaseContextAbortsConnect(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{Gate: make(chan struct{})}
	base, cancel := context.WithCancel(context.Background())
	m := ptt.New(conn, ptt.WithContext(base))

	m.KeyDown(context.Background())
	cancel()
	m.Wait()

	select {
	case err := <-m.Errors():
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error after base context cancellation")
	}
}

func TestMachine_ConnectErrorReported(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("dial refused")
	conn := &fakeConn{ConnectErr: wantErr}
	m := newMachine(t, conn)

	m.KeyDown(context.Background())
	select {
	case err := <-m.Errors():
		if !errors.Is(err, wantErr) {
			t.Errorf("err = %v, want %v", err, wantErr)
		}
	case <-time.After(time.Second):
		t.Fatal("connect error not delivered")
	}
	if m.State() != ptt.Capturing {
		t.Errorf("state = %v, want capturing despite connect failure", m.State())
	}
}

func TestMachine_RejectedFramesCounted(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{Reject: true}
	m := newMachine(t, conn)
	m.KeyDown(context.Background())
	if m.HandleFrame(frame(0)) {
		t.Error("HandleFrame reported success for a rejected enqueue")
	}
	s, _ := m.Current()
	if s.Frames != 1 || s.Accepted != 0 || s.Samples != 960 {
		t.Errorf("session = %+v, want 1 frame, 960 samples, 0 accepted", s)
	}
	m.Wait()
}

func TestMachine_Toggle(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	m := newMachine(t, conn)
	ctx := context.Background()
	if got := m.Toggle(ctx); got != ptt.Capturing {
		t.Errorf("first toggle = %v, want capturing", got)
	}
	if got := m.Toggle(ctx); got != ptt.Idle {
		t.Errorf("second toggle = %v, want idle", got)
	}
	m.Wait()
	if got := conn.sent(); len(got) != 1 || got[0] != realtime.TypeCommit {
		t.Errorf("sent %v, want one commit", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	if ptt.Idle.String() != "idle" || ptt.Capturing.String() != "capturing" || ptt.State(9).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}
