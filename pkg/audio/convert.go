package audio

import (
	"errors"
	"fmt"
	"math"
)

// pcm16Scale maps a float sample in [-1, 1] onto the int16 range.
const pcm16Scale = 32767

// StreamResampler downmixes interleaved float blocks to mono and resamples
// them to a fixed target rate using linear interpolation. It keeps the absolute
// output position and the few source samples still needed for interpolation
// across calls, so feeding a stream in blocks of any size yields exactly the
// samples a single pass over the whole stream would yield.
//
// For output index i the source position is i·src/dst, split into an integer
// index t0 and a fraction. The position is computed from integers, never
// accumulated in floating point, which keeps block-wise and one-pass output
// bit-identical.
//
// A StreamResampler is owned by one goroutine (the capture callback).
type StreamResampler struct {
	src     Format
	dstRate int

	// next is the absolute index of the next output sample.
	next int64
	// base is the absolute source index of pending[0].
	base    int64
	pending []float64
}

// NewStreamResampler returns a resampler converting blocks in src format to
// mono at dstRate.
func NewStreamResampler(src Format, dstRate int) (*StreamResampler, error) {
	if src.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid source sample rate %d", src.SampleRate)
	}
	if src.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", src.Channels)
	}
	if dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid target sample rate %d", dstRate)
	}
	return &StreamResampler{src: src, dstRate: dstRate}, nil
}

// Source returns the input format.
func (r *StreamResampler) Source() Format { return r.src }

// TargetRate returns the output sample rate.
func (r *StreamResampler) TargetRate() int { return r.dstRate }

// Process downmixes and resamples one interleaved block, appending the produced
// PCM16 samples to dst. A trailing partial frame (fewer samples than channels)
// is ignored. Outputs that need a source sample not yet received are deferred
// to the next call.
func (r *StreamResampler) Process(dst []int16, block []float32) []int16 {
	r.downmix(block)
	dst = r.emit(dst, false)
	r.compact()
	return dst
}

// Flush emits the outputs deferred by Process, clamping interpolation to the
// last received sample as if the stream had ended. Call Reset before reusing
// the resampler for a new stream.
func (r *StreamResampler) Flush(dst []int16) []int16 {
	dst = r.emit(dst, true)
	r.base += int64(len(r.pending))
	r.pending = r.pending[:0]
	return dst
}

// Reset discards all state and starts a new stream.
func (r *StreamResampler) Reset() {
	r.next = 0
	r.base = 0
	r.pending = r.pending[:0]
}

// Pending returns the number of buffered source samples.
func (r *StreamResampler) Pending() int { return len(r.pending) }

func (r *StreamResampler) downmix(block []float32) {
	ch := r.src.Channels
	frames := len(block) / ch
	if ch == 1 {
		for _, s := range block[:frames] {
			r.pending = append(r.pending, float64(s))
		}
		return
	}
	for f := range frames {
		var sum float64
		for _, s := range block[f*ch : f*ch+ch] {
			sum += float64(s)
		}
		r.pending = append(r.pending, sum/float64(ch))
	}
}

func (r *StreamResampler) emit(dst []int16, final bool) []int16 {
	n := int64(len(r.pending))
	if n == 0 {
		return dst
	}
	src, tgt := int64(r.src.SampleRate), int64(r.dstRate)

	// Output i exists once t0 = floor(i·src/tgt) has been received.
	limit := (r.base + n) * tgt
	for {
		pos := r.next * src
		if pos >= limit {
			break
		}
		t0, rem := pos/tgt, pos%tgt
		idx := t0 - r.base
		s0 := r.pending[idx]
		s1 := s0
		if rem != 0 {
			if idx+1 < n {
				s1 = r.pending[idx+1]
			} else if !final {
				break
			}
		}
		frac := float64(rem) / float64(tgt)
		dst = append(dst, toPCM16(s0+(s1-s0)*frac))
		r.next++
	}
	return dst
}

// compact drops source samples that no future output can reference.
func (r *StreamResampler) compact() {
	need := r.next * int64(r.src.SampleRate) / int64(r.dstRate)
	drop := need - r.base
	if drop <= 0 {
		return
	}
	if drop > int64(len(r.pending)) {
		drop = int64(len(r.pending))
	}
	n := copy(r.pending, r.pending[drop:])
	r.pending = r.pending[:n]
	r.base += drop
}

// DownmixResample converts one interleaved float block in src format to mono
// PCM16 at dstRate in a single pass, appending to dst. It has no state of its
// own: the result for N input frames holds floor(N·dstRate/src.SampleRate)
// samples.
func DownmixResample(dst []int16, block []float32, src Format, dstRate int) ([]int16, error) {
	r, err := NewStreamResampler(src, dstRate)
	if err != nil {
		return dst, err
	}
	dst = r.Process(dst, block)
	return r.Flush(dst), nil
}

// ResampledLen returns the number of samples a one-pass conversion of frames
// source frames produces.
func ResampledLen(frames, srcRate, dstRate int) int {
	if srcRate <= 0 {
		return 0
	}
	return int(int64(frames) * int64(dstRate) / int64(srcRate))
}

// toPCM16 scales a float sample by 32767, truncates toward zero and clamps to
// the int16 range.
func toPCM16(s float64) int16 {
	v := s * pcm16Scale
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// RMS returns the root mean square of the first channel of an interleaved
// block. It returns 0 for an empty block.
func RMS(block []float32, channels int) float64 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(block) / channels
	if frames == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < frames*channels; i += channels {
		s := float64(block[i])
		sum += s * s
	}
	return math.Sqrt(sum / float64(frames))
}

// ErrFormat is returned when a block does not fit its declared format.
var ErrFormat = errors.New("audio: block length is not a multiple of the channel count")

// CheckBlock reports ErrFormat when block cannot be split into whole frames.
func CheckBlock(block []float32, channels int) error {
	if channels <= 0 || len(block)%channels != 0 {
		return fmt.Errorf("%w: %d samples, %d channels", ErrFormat, len(block), channels)
	}
	return nil
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	if rate <= 0 {
		return ch
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

// String returns a human-readable description such as "48000Hz stereo".
func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }
