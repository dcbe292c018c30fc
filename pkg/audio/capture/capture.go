// Package capture defines the boundary between pushtalk and whatever delivers
// microphone audio.
//
// A [Source] pushes periodic blocks of interleaved float32 samples into a
// callback. The callback runs on the source's own goroutine (for PortAudio a
// real-time audio thread), so it must return quickly and must not block.
//
// Two implementations ship with the package: [PortAudioSource] for live
// microphones and [WAVSource], which replays a WAV file at real-time pace for
// headless runs and demos.
package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/pushtalk/pkg/audio"
)

// ErrUnavailable is returned by [Source.Start] when no audio input can be
// opened (no device, driver failure, missing file). It is fatal for the
// capture session; the caller stays inert until a source appears.
var ErrUnavailable = errors.New("capture: audio source unavailable")

// BlockFunc receives one block of interleaved float32 samples in the source's
// [audio.Format]. The slice is only valid for the duration of the call; the
// source may reuse it for the next block.
type BlockFunc func(block []float32)

// Source is an audio input delivering blocks to a [BlockFunc].
//
// Implementations must be safe for a Close concurrent with block delivery.
type Source interface {
	// Format returns the sample rate and channel count of delivered blocks.
	Format() audio.Format

	// Start begins delivering blocks to fn and returns immediately. Delivery
	// stops when ctx is cancelled or Close is called. Start may be called at
	// most once. Errors wrap [ErrUnavailable] when the input cannot be opened.
	Start(ctx context.Context, fn BlockFunc) error

	// Close stops delivery and releases the device. After Close returns, fn is
	// not invoked again. Calling Close more than once is safe.
	Close() error
}
