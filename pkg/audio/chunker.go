package audio

import "fmt"

// FrameChunker turns a stream of mono PCM16 samples into fixed-length
// [AudioFrame] values. Samples left over from one Write are carried into the
// next, so frame boundaries never depend on how the input was split.
//
// The pending samples live in a fixed-capacity circular buffer (head index +
// length) that is never reallocated. After every Write, Len is strictly less
// than FrameSize.
//
// A FrameChunker has a single writer and is not safe for concurrent use.
type FrameChunker struct {
	frameSize  int
	sampleRate int

	buf  []int16
	head int
	len  int
	seq  uint64
}

// NewFrameChunker returns a chunker emitting frames of frameSize samples at
// sampleRate.
func NewFrameChunker(frameSize, sampleRate int) (*FrameChunker, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("audio: invalid frame size %d", frameSize)
	}
	return &FrameChunker{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		buf:        make([]int16, 2*frameSize),
	}, nil
}

// FrameSize returns the number of samples per emitted frame.
func (c *FrameChunker) FrameSize() int { return c.frameSize }

// Len returns the number of samples waiting for a full frame.
func (c *FrameChunker) Len() int { return c.len }

// Write appends samples and calls emit once for every complete frame, oldest
// first. emit runs synchronously on the caller's goroutine and receives a
// freshly allocated frame it may retain.
func (c *FrameChunker) Write(samples []int16, emit func(AudioFrame)) {
	for len(samples) > 0 {
		n := c.push(samples)
		samples = samples[n:]
		for c.len >= c.frameSize {
			emit(c.pop())
		}
	}
}

// Reset discards pending samples. Sequence numbers keep counting.
func (c *FrameChunker) Reset() {
	c.head = 0
	c.len = 0
}

// push copies as many samples as fit into the free region and returns how many
// were taken.
func (c *FrameChunker) push(samples []int16) int {
	capacity := len(c.buf)
	taken := 0
	for taken < len(samples) && c.len < capacity {
		tail := (c.head + c.len) % capacity
		end := capacity
		if c.head > tail || (c.head == tail && c.len > 0) {
			end = c.head
		}
		n := copy(c.buf[tail:end], samples[taken:])
		c.len += n
		taken += n
	}
	return taken
}

// pop removes one frame from the head.
func (c *FrameChunker) pop() AudioFrame {
	out := make([]int16, c.frameSize)
	capacity := len(c.buf)
	n := copy(out, c.buf[c.head:min(c.head+c.frameSize, capacity)])
	if n < c.frameSize {
		copy(out[n:], c.buf[:c.frameSize-n])
	}
	c.head = (c.head + c.frameSize) % capacity
	c.len -= c.frameSize

	f := AudioFrame{Samples: out, SampleRate: c.sampleRate, Seq: c.seq}
	c.seq++
	return f
}
