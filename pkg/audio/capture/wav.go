package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/go-audio/wav"
)

// Compile-time assertion that WAVSource satisfies Source.
var _ Source = (*WAVSource)(nil)

// WAVOption configures a [WAVSource].
type WAVOption func(*WAVSource)

// WithLoop makes the source restart from the beginning at end of file instead
// of stopping.
func WithLoop(loop bool) WAVOption {
	return func(s *WAVSource) { s.loop = loop }
}

// WithWAVFramesPerBuffer sets the number of frames per delivered block.
func WithWAVFramesPerBuffer(n int) WAVOption {
	return func(s *WAVSource) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// WAVSource replays a PCM WAV file as if it were a microphone: one block of
// framesPerBuffer frames is delivered every framesPerBuffer/sampleRate
// seconds on a dedicated goroutine.
type WAVSource struct {
	path            string
	loop            bool
	framesPerBuffer int

	format  audio.Format
	samples []float32 // interleaved, normalised to [-1, 1)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWAV decodes the file at path into memory. The capture format is taken
// from the file header. Errors wrap [ErrUnavailable].
func NewWAV(path string, opts ...WAVOption) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %q is not a valid WAV file", ErrUnavailable, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: decode %q: %w", ErrUnavailable, path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %q has no usable format", ErrUnavailable, path)
	}
	depth := int(dec.BitDepth)
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("%w: %q has unsupported bit depth %d", ErrUnavailable, path, depth)
	}

	scale := float32(int64(1) << (depth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}

	s := &WAVSource{
		path:            path,
		framesPerBuffer: defaultFramesPerBuffer,
		format: audio.Format{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
		samples: samples,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Format returns the format read from the file header.
func (s *WAVSource) Format() audio.Format { return s.format }

// Start begins paced playback.
func (s *WAVSource) Start(ctx context.Context, fn BlockFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("capture: wav source already started")
	}
	if len(s.samples) < s.format.Channels {
		return fmt.Errorf("%w: %q contains no audio", ErrUnavailable, s.path)
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.play(ctx, fn)

	slog.Info("wav capture started", "path", s.path, "format", s.format.String(), "loop", s.loop)
	return nil
}

func (s *WAVSource) play(ctx context.Context, fn BlockFunc) {
	defer close(s.done)

	blockLen := s.framesPerBuffer * s.format.Channels
	interval := time.Duration(s.framesPerBuffer) * time.Second / time.Duration(s.format.SampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	block := make([]float32, blockLen)
	pos := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := copy(block, s.samples[pos:])
		pos += n
		if n < blockLen && s.loop {
			for n < blockLen {
				m := copy(block[n:], s.samples)
				n += m
				pos = m
			}
		}
		// Whole frames only.
		n -= n % s.format.Channels
		if n > 0 {
			fn(block[:n])
		}
		if pos >= len(s.samples) && !s.loop {
			slog.Info("wav capture reached end of file", "path", s.path)
			return
		}
	}
}

// Close stops playback and waits for the playback goroutine to exit.
func (s *WAVSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
