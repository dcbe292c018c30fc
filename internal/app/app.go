// Package app wires all pushtalk subsystems together and manages their
// lifecycle. New builds the capture pipeline, realtime client, push-to-talk
// machine and control surface; Run serves the inputs until the context ends
// or the operator quits; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSource,
// WithMetrics, WithStdin). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pushtalk/internal/config"
	"github.com/MrWong99/pushtalk/internal/control"
	"github.com/MrWong99/pushtalk/internal/health"
	"github.com/MrWong99/pushtalk/internal/observe"
	"github.com/MrWong99/pushtalk/internal/ptt"
	"github.com/MrWong99/pushtalk/internal/realtime"
	"github.com/MrWong99/pushtalk/internal/resilience"
	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/audio/capture"
)

// readHeaderTimeout bounds request header reads on the control server.
const readHeaderTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics

	// metricsHandler serves /metrics.
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	source   capture.Source
	client   *realtime.Client
	machine  *ptt.Machine
	pipeline *Pipeline
	handler  http.Handler
	server   *http.Server

	// Inputs served by Run.
	stdin        io.Reader
	watcher      *config.Watcher
	onTranscript realtime.TranscriptHandler

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry resolves audio.source through reg.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithSource injects a capture source instead of creating one from config.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of
// [promhttp.Handler] over the default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithStdin reads push-to-talk lines from r when ptt.stdin is enabled.
func WithStdin(r io.Reader) Option {
	return func(a *App) { a.stdin = r }
}

// WithWatcher makes Run poll w for config changes.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithTranscriptHandler receives every non-empty transcript.
func WithTranscriptHandler(h realtime.TranscriptHandler) Option {
	return func(a *App) { a.onTranscript = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. ctx bounds the
// connection attempts started by key-down edges. Nothing touches the network
// or the audio device until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Capture source ────────────────────────────────────────────────
	if err := a.initSource(); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 2. Realtime client ───────────────────────────────────────────────
	if err := a.initClient(); err != nil {
		return nil, fmt.Errorf("app: init realtime client: %w", err)
	}

	// ── 3. Push-to-talk machine + pipeline ───────────────────────────────
	a.machine = ptt.New(a.client, ptt.WithMetrics(a.metrics), ptt.WithContext(ctx))
	pipeline, err := NewPipeline(a.source, a.machine, a.client, PipelineConfig{
		TargetSampleRate: cfg.Realtime.TargetSampleRate,
		Chunk:            cfg.Realtime.ChunkDuration(),
		SilenceRMS:       cfg.Audio.SilenceRMS,
		ConnectOnStart:   cfg.Realtime.ConnectOnStart,
		Metrics:          a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.pipeline = pipeline
	a.closers = append(a.closers, func(context.Context) error { return a.pipeline.Stop() })

	// ── 4. Control surface ───────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSource creates the capture source from the registry unless one was
// injected. An unavailable input does not fail New: the app still serves
// push-to-talk and health, and the failure surfaces when Run starts capture.
func (a *App) initSource() error {
	if a.source != nil {
		return nil
	}
	if a.registry == nil {
		return errors.New("no capture source injected and no registry configured")
	}
	src, err := a.registry.CreateSource(a.cfg.Audio)
	switch {
	case err == nil:
		a.source = src
	case errors.Is(err, capture.ErrUnavailable):
		format := audio.Format{SampleRate: a.cfg.Audio.SampleRate, Channels: a.cfg.Audio.Channels}
		if format.SampleRate <= 0 || format.Channels <= 0 {
			format = audio.Format{SampleRate: config.DefaultSampleRate, Channels: config.DefaultChannels}
		}
		a.source = &unavailableSource{format: format, err: err}
	default:
		return err
	}
	return nil
}

// initClient builds the realtime client, guarded by a breaker when
// realtime.breaker.max_failures is set.
func (a *App) initClient() error {
	rc := a.cfg.Realtime
	opts := []realtime.Option{
		realtime.WithKeepAlive(rc.KeepAliveInterval),
		realtime.WithConnectTimeout(rc.ConnectTimeout),
		realtime.WithReadLimit(rc.ReadLimit),
		realtime.WithMetrics(a.metrics),
	}
	if a.onTranscript != nil {
		opts = append(opts, realtime.WithTranscriptHandler(a.onTranscript))
	}
	if rc.Breaker.MaxFailures > 0 {
		opts = append(opts, realtime.WithBreaker(resilience.New(resilience.Config{
			Name:         "realtime",
			MaxFailures:  rc.Breaker.MaxFailures,
			ResetTimeout: rc.Breaker.ResetTimeout,
		})))
	}
	client, err := realtime.New(rc.URL, opts...)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// initHTTP builds the health, metrics and PTT control routes. The listener
// is only opened when server.listen_addr is set.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	health.New(
		health.StateChecker("realtime", a.client.State, realtime.StateOpen),
	).Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	if a.cfg.PTT.HTTP {
		control.NewHandler(a.machine, a.client).Register(mux)
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	if a.cfg.Server.ListenAddr == "" {
		return
	}
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	a.closers = append(a.closers, a.server.Shutdown)
}

// Handler returns the HTTP handler served on server.listen_addr.
func (a *App) Handler() http.Handler { return a.handler }

// Machine returns the push-to-talk machine.
func (a *App) Machine() *ptt.Machine { return a.machine }

// Client returns the realtime client.
func (a *App) Client() *realtime.Client { return a.client }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture and the configured inputs, then blocks until ctx is
// cancelled or an input fails. It returns [control.ErrQuit] when the operator
// quits from stdin and ctx.Err() after cancellation.
//
// An unavailable capture input is logged and Run keeps serving; every other
// startup failure is returned.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// ── Control server ───────────────────────────────────────────────────
	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		serveErr := make(chan error, 1)
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		g.Go(func() error {
			select {
			case err := <-serveErr:
				return fmt.Errorf("app: http server: %w", err)
			case <-gctx.Done():
				return nil
			}
		})
		slog.Info("control server listening", "addr", ln.Addr().String(), "ptt_http", a.cfg.PTT.HTTP)
	}

	// ── Capture ──────────────────────────────────────────────────────────
	if err := a.pipeline.Start(gctx); err != nil {
		if !errors.Is(err, capture.ErrUnavailable) {
			return err
		}
		slog.Error("audio capture unavailable, no audio will be streamed", "err", err)
	}

	// ── Inputs ───────────────────────────────────────────────────────────
	if a.cfg.PTT.Stdin && a.stdin != nil {
		g.Go(func() error { return control.ReadLines(gctx, a.stdin, a.machine) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-a.machine.Errors():
				slog.Warn("push-to-talk session has no connection", "err", err, "state", a.client.State().String())
			}
		}
	})

	slog.Info("pushtalk running", "url", a.client.URL(), "source", a.source.Format().String())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, closes the realtime client and shuts down the
// control server, in that order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// unavailableSource stands in for an input that could not be opened. Start
// reports the original failure.
type unavailableSource struct {
	format audio.Format
	err    error
}

func (s *unavailableSource) Format() audio.Format { return s.format }

func (s *unavailableSource) Start(context.Context, capture.BlockFunc) error { return s.err }

func (s *unavailableSource) Close() error { return nil }
