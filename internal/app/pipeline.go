package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pushtalk/internal/observe"
	"github.com/MrWong99/pushtalk/internal/ptt"
	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/audio/capture"
)

// Connector is the part of [realtime.Client] the pipeline owns.
type Connector interface {
	EnsureConnected(ctx context.Context) error
	Close() error
}

// PipelineConfig parameterises a [Pipeline].
type PipelineConfig struct {
	// TargetSampleRate is the PCM16 rate sent to the endpoint.
	TargetSampleRate int

	// Chunk is the duration of one append event.
	Chunk time.Duration

	// SilenceRMS is the level below which input is reported as silent. Zero
	// disables silence reporting. It never gates audio.
	SilenceRMS float64

	// ConnectOnStart dials in Start instead of on the first key-down.
	ConnectOnStart bool

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Pipeline carries captured blocks through downmix, resampling and framing
// into the push-to-talk machine:
//
//	capture.Source → StreamResampler → FrameChunker → ptt.Machine → realtime.Client
//
// [Pipeline.OnAudioBlock] runs on the capture goroutine and never blocks on
// the network. Resampling and framing continue while the machine is Idle so
// the sample stream stays continuous; the machine discards those frames.
type Pipeline struct {
	src       capture.Source
	machine   *ptt.Machine
	conn      Connector
	metrics   *observe.Metrics
	resampler *audio.StreamResampler
	chunker   *audio.FrameChunker

	silenceRMS     float64
	connectOnStart bool

	// Owned by the capture goroutine.
	buf    []int16
	silent bool

	badBlocks atomic.Int64
	stopped   atomic.Bool
}

// NewPipeline wires src to machine. conn is the connection machine sends on;
// the pipeline connects it on Start when configured and closes it on Stop.
func NewPipeline(src capture.Source, machine *ptt.Machine, conn Connector, cfg PipelineConfig) (*Pipeline, error) {
	if src == nil || machine == nil || conn == nil {
		return nil, errors.New("app: pipeline needs a source, a machine and a connection")
	}
	format := src.Format()
	resampler, err := audio.NewStreamResampler(format, cfg.TargetSampleRate)
	if err != nil {
		return nil, fmt.Errorf("app: pipeline: %w", err)
	}
	chunker, err := audio.NewFrameChunker(audio.FrameSize(cfg.TargetSampleRate, cfg.Chunk), cfg.TargetSampleRate)
	if err != nil {
		return nil, fmt.Errorf("app: pipeline: %w", err)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	slog.Info("audio pipeline configured",
		"input", format.String(),
		"target_rate", cfg.TargetSampleRate,
		"frame_samples", chunker.FrameSize(),
	)
	return &Pipeline{
		src:            src,
		machine:        machine,
		conn:           conn,
		metrics:        metrics,
		resampler:      resampler,
		chunker:        chunker,
		silenceRMS:     cfg.SilenceRMS,
		connectOnStart: cfg.ConnectOnStart,
	}, nil
}

// Start optionally connects, then starts capture. A failed connection is
// logged and left to the next key-down. A capture failure is returned; it
// wraps [capture.ErrUnavailable] when no input could be opened.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.connectOnStart {
		if err := p.conn.EnsureConnected(ctx); err != nil {
			slog.Warn("initial connection failed, retrying on next push-to-talk", "err", err)
		}
	}
	if err := p.src.Start(ctx, p.OnAudioBlock); err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}
	return nil
}

// OnAudioBlock handles one interleaved capture block.
func (p *Pipeline) OnAudioBlock(block []float32) {
	if p.stopped.Load() {
		return
	}
	channels := p.resampler.Source().Channels
	if err := audio.CheckBlock(block, channels); err != nil {
		if p.badBlocks.Add(1) == 1 {
			slog.Warn("malformed capture block, trailing samples ignored", "len", len(block), "err", err)
		}
	}

	rms := audio.RMS(block, channels)
	p.metrics.InputLevel.Record(context.Background(), rms)
	if p.silenceRMS > 0 {
		if silent := rms < p.silenceRMS; silent != p.silent {
			p.silent = silent
			slog.Debug("input level crossed silence threshold", "silent", silent, "rms", rms)
		}
	}

	p.buf = p.resampler.Process(p.buf[:0], block)
	p.chunker.Write(p.buf, func(f audio.AudioFrame) { p.machine.HandleFrame(f) })
}

// Stop closes the source, then the connection, and waits for connection
// attempts started by the machine. It is safe to call more than once.
func (p *Pipeline) Stop() error {
	if p.stopped.Swap(true) {
		return nil
	}
	var errs []error
	if err := p.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close capture: %w", err))
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	p.machine.Wait()
	if bad := p.badBlocks.Load(); bad > 0 {
		slog.Warn("capture delivered malformed blocks", "count", bad)
	}
	return errors.Join(errs...)
}
