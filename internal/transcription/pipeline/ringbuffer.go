// Package pipeline implements the per-producer streaming DSP chain: RTP
// parse, Opus decode (+PLC), resample 48kHz->16kHz, feeding the VAD.
package pipeline

// RingBuffer is a bounded FIFO of audio frames (each a []float32), used to
// hold the pre-speech padding the VAD state machine drains into the start
// of an utterance. Pushing past capacity evicts the oldest frame first.
type RingBuffer struct {
	frames    [][]float32
	maxFrames int
}

// NewRingBuffer creates a ring buffer holding at most maxFrames frames.
func NewRingBuffer(maxFrames int) *RingBuffer {
	return &RingBuffer{maxFrames: maxFrames}
}

// Push appends frame, evicting the oldest frame first if the buffer is
// already at capacity.
func (r *RingBuffer) Push(frame []float32) {
	if r.maxFrames <= 0 {
		return
	}
	if len(r.frames) >= r.maxFrames {
		r.frames = r.frames[1:]
	}
	r.frames = append(r.frames, frame)
}

// DrainAll concatenates every buffered frame into one slice, in order, and
// clears the buffer.
func (r *RingBuffer) DrainAll() []float32 {
	total := 0
	for _, f := range r.frames {
		total += len(f)
	}
	out := make([]float32, 0, total)
	for _, f := range r.frames {
		out = append(out, f...)
	}
	r.frames = nil
	return out
}

// TotalSamples returns the number of samples currently buffered across all
// frames, without draining.
func (r *RingBuffer) TotalSamples() int {
	total := 0
	for _, f := range r.frames {
		total += len(f)
	}
	return total
}

// Clear discards every buffered frame.
func (r *RingBuffer) Clear() {
	r.frames = nil
}
