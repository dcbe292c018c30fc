package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/pushtalk/internal/observe"
	"github.com/MrWong99/pushtalk/internal/resilience"
)

// Sentinel errors. Returned errors wrap one of these; test with [errors.Is].
var (
	// ErrConnect is returned by [Client.EnsureConnected] when the dial fails
	// or the circuit breaker rejects the attempt.
	ErrConnect = errors.New("realtime: connect failed")

	// ErrClosed is returned by [Client.EnsureConnected] after [Client.Close].
	ErrClosed = errors.New("realtime: client closed")

	// ErrSend marks a failed socket write. It is logged and counted; the
	// affected generation is retired.
	ErrSend = errors.New("realtime: send failed")

	// ErrReceive marks a failed socket read.
	ErrReceive = errors.New("realtime: receive failed")
)

const (
	defaultKeepAlive = 20 * time.Second
	defaultReadLimit = 1 << 20

	// readChunk is the size of a single read from an inbound message.
	readChunk = 64 << 10

	pingTimeout = 10 * time.Second
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithKeepAlive sets the websocket ping interval. Zero disables pings.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.keepAlive = d
		}
	}
}

// WithConnectTimeout bounds each dial. Zero (the default) leaves the dial
// bounded only by the caller's context.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.connectTimeout = d
		}
	}
}

// WithReadLimit sets the maximum inbound message size in bytes.
func WithReadLimit(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithMetrics records client activity on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTranscriptHandler sets the callback for recognised text.
func WithTranscriptHandler(h TranscriptHandler) Option {
	return func(c *Client) { c.onTranscript = h }
}

// WithBreaker guards dials with b. A nil breaker disables the guard.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithDialOptions passes opts to [websocket.Dial], e.g. to set headers or an
// HTTP client.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) { c.dialOpts = opts }
}

// Client owns the websocket to the transcription endpoint.
//
// A Client has at most one live generation: one connection, one outbound
// [Queue], one context, one send loop and one receive loop (plus an optional
// keepalive pinger). Connection attempts are serialized and a new generation
// is started only after the previous generation's goroutines have exited.
// There is no automatic reconnect: the next [Client.EnsureConnected] call
// dials again.
//
// All methods are safe for concurrent use.
type Client struct {
	url            string
	keepAlive      time.Duration
	connectTimeout time.Duration
	readLimit      int64
	metrics        *observe.Metrics
	onTranscript   TranscriptHandler
	breaker        *resilience.Breaker
	dialOpts       *websocket.DialOptions

	// root is cancelled by Close and aborts any dial in flight.
	root       context.Context
	cancelRoot context.CancelFunc

	connectMu sync.Mutex
	state     atomic.Int32
	gen       atomic.Pointer[generation]
	lastGenID atomic.Uint64
	closed    atomic.Bool
}

// generation is one live connection and the goroutines serving it.
type generation struct {
	id     uint64
	conn   *websocket.Conn
	queue  *Queue
	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
	once   sync.Once
}

// New returns a disconnected client for the websocket endpoint at rawURL.
func New(rawURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("realtime: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("realtime: url %q has no host", rawURL)
	}

	c := &Client{
		url:       rawURL,
		keepAlive: defaultKeepAlive,
		readLimit: defaultReadLimit,
		metrics:   observe.DefaultMetrics(),
	}
	c.root, c.cancelRoot = context.WithCancel(context.Background())
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// URL returns the endpoint URL.
func (c *Client) URL() string { return c.url }

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Generation returns the id of the most recent generation, or 0 if none has
// been started. Ids increase by one per successful connect.
func (c *Client) Generation() uint64 {
	if g := c.gen.Load(); g != nil {
		return g.id
	}
	return 0
}

// EnsureConnected makes sure a generation is open. It returns nil at once
// when the client is already open. Otherwise it tears down whatever is left
// of the previous generation, waits for its goroutines, and dials.
//
// A failed dial leaves the client disconnected and returns an error wrapping
// [ErrConnect]; it is not retried.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.State() == StateOpen {
		return nil
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.State() == StateOpen {
		return nil
	}

	if old := c.gen.Load(); old != nil {
		c.retire(old)
		old.loops.Wait()
	}

	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}
	}

	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil && c.closed.Load() {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if c.breaker != nil {
		c.breaker.Record(err)
	}
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	if c.closed.Load() {
		_ = conn.CloseNow()
		c.setState(StateDisconnected)
		return ErrClosed
	}

	c.start(conn)
	return nil
}

// dial opens the websocket, recording a span and metrics for the attempt.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := observe.StartSpan(ctx, "realtime.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("realtime.url", c.url)),
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.root, cancel)
	defer stop()
	if c.connectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, c.connectTimeout)
		defer cancelTimeout()
	}

	start := time.Now()
	conn, _, err := websocket.Dial(ctx, c.url, c.dialOpts)
	elapsed := time.Since(start)
	if err != nil {
		err = fmt.Errorf("%w: dial %s: %w", ErrConnect, c.url, err)
		c.metrics.RecordConnect(ctx, observe.StatusError, elapsed)
		observe.EndSpan(span, err)
		observe.Logger(ctx).Error("realtime connect failed", "url", c.url, "err", err)
		return nil, err
	}
	c.metrics.RecordConnect(ctx, observe.StatusOK, elapsed)
	observe.EndSpan(span, nil)
	observe.Logger(ctx).Info("realtime connected", "url", c.url, "elapsed", elapsed)
	return conn, nil
}

// start publishes a new generation around conn and launches its goroutines.
// Must be called with connectMu held.
func (c *Client) start(conn *websocket.Conn) {
	conn.SetReadLimit(c.readLimit)

	ctx, cancel := context.WithCancel(context.Background())
	g := &generation{
		id:     c.lastGenID.Add(1),
		conn:   conn,
		queue:  NewQueue(),
		ctx:    ctx,
		cancel: cancel,
	}

	// Publish before the loops run so a loop that fails at once retires the
	// current generation.
	c.gen.Store(g)
	c.setState(StateOpen)
	c.metrics.ActiveGenerations.Add(ctx, 1)

	g.loops.Add(2)
	go c.sendLoop(g)
	go c.receiveLoop(g)
	if c.keepAlive > 0 {
		g.loops.Add(1)
		go c.pingLoop(g)
	}
	slog.Debug("realtime generation started", "generation", g.id)
}

// retire cancels g, aborts its socket and, if g is still the current
// generation, moves an open client to disconnected. Safe to call more than
// once and from any goroutine.
func (c *Client) retire(g *generation) {
	g.once.Do(func() {
		g.cancel()
		_ = g.conn.CloseNow()
		c.metrics.ActiveGenerations.Add(context.Background(), -1)
		if n := g.queue.Len(); n > 0 {
			c.metrics.RecordDropped(context.Background(), "retired", n)
			slog.Debug("realtime generation retired with queued messages",
				"generation", g.id, "dropped", n)
		}
	})
	if c.gen.Load() == g {
		c.state.CompareAndSwap(int32(StateOpen), int32(StateDisconnected))
	}
}

// Enqueue hands msg to the current generation's send loop. It never blocks.
// When the client is not open the message is dropped and false is returned.
func (c *Client) Enqueue(msg []byte) bool {
	g := c.gen.Load()
	if g == nil || c.State() != StateOpen {
		c.metrics.RecordDropped(context.Background(), "not_open", 1)
		slog.Debug("realtime message dropped, not connected",
			"type", MessageType(msg), "state", c.State().String())
		return false
	}
	g.queue.Push(msg)
	return true
}

// Close aborts a dial in flight, tears down the active generation, waits for
// its goroutines and leaves the client disconnected. Later EnsureConnected
// calls return [ErrClosed]. Close is idempotent and always returns nil.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.cancelRoot()

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if g := c.gen.Load(); g != nil {
		if c.State() == StateOpen {
			c.setState(StateClosing)
		}
		c.retire(g)
		g.loops.Wait()
	}
	c.setState(StateDisconnected)
	return nil
}

// sendLoop is the single consumer of g's queue.
func (c *Client) sendLoop(g *generation) {
	defer g.loops.Done()

	var batch [][]byte
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.queue.Ready():
		}

		batch = g.queue.Drain(batch[:0])
		for i, msg := range batch {
			if err := g.conn.Write(g.ctx, websocket.MessageText, msg); err != nil {
				if g.ctx.Err() != nil {
					return
				}
				err = fmt.Errorf("%w: %w", ErrSend, err)
				slog.Error("realtime send failed, retiring connection",
					"generation", g.id, "type", MessageType(msg), "err", err)
				c.metrics.SendErrors.Add(g.ctx, 1)
				c.metrics.RecordDropped(context.Background(), "send_failed", len(batch)-i-1)
				c.retire(g)
				return
			}
			c.metrics.RecordSent(g.ctx, MessageType(msg))
		}
		clear(batch)
	}
}

// receiveLoop reads whole messages from g's socket until it fails or g is
// cancelled.
func (c *Client) receiveLoop(g *generation) {
	defer g.loops.Done()

	chunk := make([]byte, readChunk)
	var msg bytes.Buffer
	for {
		typ, r, err := g.conn.Reader(g.ctx)
		if err != nil {
			c.receiveFailed(g, err)
			return
		}
		msg.Reset()
		if err := readMessage(&msg, r, chunk); err != nil {
			c.receiveFailed(g, err)
			return
		}
		if typ != websocket.MessageText {
			slog.Debug("realtime ignoring binary message", "generation", g.id, "bytes", msg.Len())
			continue
		}
		c.handleMessage(g, msg.Bytes())
	}
}

// readMessage copies r into dst in chunk-sized reads until end of message.
func readMessage(dst *bytes.Buffer, r io.Reader, chunk []byte) error {
	for {
		n, err := r.Read(chunk)
		dst.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// receiveFailed classifies a read error, logs it and retires g.
func (c *Client) receiveFailed(g *generation, err error) {
	if g.ctx.Err() != nil {
		return
	}
	if status := websocket.CloseStatus(err); status != -1 {
		var ce websocket.CloseError
		reason := ""
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		slog.Info("realtime connection closed by server",
			"generation", g.id, "status", status.String(), "reason", reason)
	} else {
		slog.Warn("realtime receive failed, retiring connection",
			"generation", g.id, "err", fmt.Errorf("%w: %w", ErrReceive, err))
		c.metrics.ReceiveErrors.Add(context.Background(), 1)
	}
	c.retire(g)
}

// handleMessage dispatches one complete inbound text message.
func (c *Client) handleMessage(g *generation, data []byte) {
	ev, ok := ParseEvent(data)
	if !ok {
		slog.Debug("realtime ignoring malformed event", "generation", g.id, "bytes", len(data))
		return
	}
	if ev.Type == EventError {
		slog.Warn("realtime server error", "generation", g.id, "message", ev.ErrorMessage)
		return
	}
	if ev.Transcript == "" {
		slog.Debug("realtime event", "generation", g.id, "type", ev.Type)
		return
	}

	c.metrics.Transcripts.Add(context.Background(), 1)
	slog.Info("transcript", "generation", g.id, "type", ev.Type, "text", ev.Transcript)
	if c.onTranscript != nil {
		c.onTranscript(Transcript{
			Text:       ev.Transcript,
			EventType:  ev.Type,
			Generation: g.id,
			ReceivedAt: time.Now(),
		})
	}
}

// pingLoop pings the server every keepAlive interval. A failed ping retires
// the generation.
func (c *Client) pingLoop(g *generation) {
	defer g.loops.Done()

	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(g.ctx, pingTimeout)
		err := g.conn.Ping(ctx)
		cancel()
		if err != nil {
			if g.ctx.Err() != nil {
				return
			}
			slog.Warn("realtime keepalive failed, retiring connection", "generation", g.id, "err", err)
			c.retire(g)
			return
		}
	}
}
