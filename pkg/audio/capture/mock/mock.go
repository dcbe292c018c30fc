// Package mock provides an in-memory [capture.Source] for unit tests.
//
// The mock records Start and Close calls and lets the test push blocks into
// the registered callback synchronously with [Source.Emit]:
//
//	src := &mock.Source{FormatResult: audio.Format{SampleRate: 48000, Channels: 1}}
//	_ = src.Start(ctx, pipeline.OnAudioBlock)
//	src.Emit(block)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/audio/capture"
)

var _ capture.Source = (*Source)(nil)

// Source is a mock implementation of [capture.Source].
// Set the exported Result fields before use; inspect the Call* fields after.
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by [Source.Format].
	FormatResult audio.Format

	// StartError is returned by [Source.Start]. When non-nil the callback is
	// not registered.
	StartError error

	// CloseError is returned by [Source.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	fn     capture.BlockFunc
	closed bool
}

// Format returns FormatResult.
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Start records the call and stores fn for [Source.Emit].
func (s *Source) Start(_ context.Context, fn capture.BlockFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.fn = fn
	return nil
}

// Close records the call; Emit becomes a no-op afterwards.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return s.CloseError
}

// Emit delivers block to the registered callback on the caller's goroutine.
// It reports whether a callback received the block.
func (s *Source) Emit(block []float32) bool {
	s.mu.Lock()
	fn, closed := s.fn, s.closed
	s.mu.Unlock()
	if fn == nil || closed {
		return false
	}
	fn(block)
	return true
}
