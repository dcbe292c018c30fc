package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// Compile-time assertion that PortAudioSource satisfies Source.
var _ Source = (*PortAudioSource)(nil)

const defaultFramesPerBuffer = 1024

// PortAudioOption configures a [PortAudioSource].
type PortAudioOption func(*PortAudioSource)

// WithDevice selects the input device by name. An empty name selects the
// host's default input device.
func WithDevice(name string) PortAudioOption {
	return func(s *PortAudioSource) { s.device = name }
}

// WithFramesPerBuffer sets the number of frames per callback block.
func WithFramesPerBuffer(n int) PortAudioOption {
	return func(s *PortAudioSource) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// PortAudioSource captures a microphone through PortAudio. Blocks are
// delivered on PortAudio's callback thread.
type PortAudioSource struct {
	format          audio.Format
	device          string
	framesPerBuffer int

	mu      sync.Mutex
	stream  *portaudio.Stream
	started bool
	closed  bool
	stop    func() bool
}

// NewPortAudio returns a source capturing format from the selected device.
// The device is not opened until Start.
func NewPortAudio(format audio.Format, opts ...PortAudioOption) *PortAudioSource {
	s := &PortAudioSource{
		format:          format,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format returns the capture format.
func (s *PortAudioSource) Format() audio.Format { return s.format }

// Start opens the device and starts the callback stream.
func (s *PortAudioSource) Start(ctx context.Context, fn BlockFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return fmt.Errorf("capture: portaudio source already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: portaudio init: %w", ErrUnavailable, err)
	}

	dev, err := s.inputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if dev.MaxInputChannels < s.format.Channels {
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: device %q has %d input channels, need %d",
			ErrUnavailable, dev.Name, dev.MaxInputChannels, s.format.Channels)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: s.format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.format.SampleRate),
		FramesPerBuffer: s.framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, func(in []float32) { fn(in) })
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: open stream on %q: %w", ErrUnavailable, dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: start stream on %q: %w", ErrUnavailable, dev.Name, err)
	}

	s.stream = stream
	s.started = true
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })

	slog.Info("portaudio capture started",
		"device", dev.Name,
		"format", s.format.String(),
		"frames_per_buffer", s.framesPerBuffer,
	)
	return nil
}

// inputDevice resolves the configured device name.
func (s *PortAudioSource) inputDevice() (*portaudio.DeviceInfo, error) {
	if s.device == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return dev, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for _, d := range devs {
		if d.Name == s.device && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", s.device)
}

// Close stops the stream and terminates PortAudio.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	if s.stream == nil {
		return nil
	}

	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = err
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.stream = nil
	if firstErr != nil {
		return fmt.Errorf("capture: close portaudio: %w", firstErr)
	}
	return nil
}
