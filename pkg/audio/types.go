// Package audio holds the sample-level building blocks of the pushtalk capture
// path: downmixing and resampling of captured float blocks, fixed-size PCM16
// framing, and little-endian PCM encoding.
//
// The types here are deliberately free of I/O. The capture callback calls into
// them on a real-time thread, so every operation is bounded by its input length
// and never waits on a lock or a channel.
package audio

import (
	"encoding/binary"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize returns the number of mono samples in a frame of the given
// duration at rate. 24000 Hz and 40 ms give 960.
func FrameSize(rate int, chunk time.Duration) int {
	return int(int64(rate) * chunk.Milliseconds() / 1000)
}

// AudioFrame is one fixed-length block of mono PCM16 samples, the unit that is
// transmitted to the speech endpoint. A frame is immutable once produced: the
// producer never touches Samples again after handing the frame out.
type AudioFrame struct {
	// Samples holds exactly FrameSize samples.
	Samples []int16

	// SampleRate in Hz of Samples (e.g. 24000).
	SampleRate int

	// Seq numbers frames in production order, starting at 0 per chunker.
	Seq uint64
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// PCM16LE appends the little-endian byte encoding of samples to dst and returns
// the extended slice.
func PCM16LE(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
