package pipeline

import "math"

// Resampler parameters pinned to match the deterministic DSP chain the VAD
// determinism property depends on: sinc length 256, Blackman-Harris
// window, f_cutoff 0.95, fixed 960-sample (20ms) input chunks. See
// DESIGN.md for why this stays on a hand-rolled FIR implementation instead
// of an external resampler package.
const (
	resampleSincLen    = 256
	resampleFCutoff    = 0.95
	resampleInputRate  = 48000
	resampleOutputRate = 16000
)

// Resampler converts 48kHz mono float32 audio to 16kHz via a windowed-sinc
// FIR low-pass filter followed by exact 3:1 decimation (48000/16000 is an
// exact integer ratio, so no fractional-delay interpolation is needed).
// Input is buffered into fixed-size chunks; leftover samples persist
// across calls.
type Resampler struct {
	taps      []float64
	chunkSize int
	history   []float64 // last len(taps)-1 samples of the previous chunk
	pending   []float64
}

// NewResampler builds a resampler that consumes input in chunkSize-sample
// blocks (the ingestion loop uses 960, i.e. 20ms at 48kHz).
func NewResampler(chunkSize int) *Resampler {
	cutoff := resampleFCutoff * (float64(resampleOutputRate) / 2) / float64(resampleInputRate)
	return &Resampler{
		taps:      buildSincLowpass(resampleSincLen, cutoff),
		chunkSize: chunkSize,
		history:   make([]float64, resampleSincLen-1),
	}
}

func buildSincLowpass(numTaps int, cutoff float64) []float64 {
	taps := make([]float64, numTaps)
	m := float64(numTaps - 1)
	var sum float64
	for n := 0; n < numTaps; n++ {
		x := float64(n) - m/2
		var s float64
		if x == 0 {
			s = 2 * cutoff
		} else {
			s = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		taps[n] = s * blackmanHarris(float64(n), m)
		sum += taps[n]
	}
	if sum != 0 {
		for i := range taps {
			taps[i] /= sum
		}
	}
	return taps
}

// blackmanHarris is the 4-term Blackman-Harris window (matches the
// reference resampler's BlackmanHarris2 window choice).
func blackmanHarris(n, m float64) float64 {
	const a0, a1, a2, a3 = 0.35875, 0.48829, 0.14128, 0.01168
	x := 2 * math.Pi * n / m
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x) - a3*math.Cos(3*x)
}

// Process buffers samples and resamples every full chunk accumulated so
// far, returning the 16kHz output produced. Samples that don't fill a full
// chunk remain buffered for the next call — matching the reference
// resampler's "empty vec if not enough buffered" behavior.
func (r *Resampler) Process(samples []float32) []float32 {
	for _, s := range samples {
		r.pending = append(r.pending, float64(s))
	}
	var out []float32
	for len(r.pending) >= r.chunkSize {
		chunk := r.pending[:r.chunkSize]
		r.pending = r.pending[r.chunkSize:]
		out = append(out, r.processChunk(chunk)...)
	}
	return out
}

// Flush zero-pads any remaining buffered samples to a full chunk and
// resamples them.
func (r *Resampler) Flush() []float32 {
	if len(r.pending) == 0 {
		return nil
	}
	padded := make([]float64, r.chunkSize)
	copy(padded, r.pending)
	r.pending = nil
	return r.processChunk(padded)
}

func (r *Resampler) processChunk(chunk []float64) []float32 {
	ratio := resampleInputRate / resampleOutputRate
	extended := make([]float64, 0, len(r.history)+len(chunk))
	extended = append(extended, r.history...)
	extended = append(extended, chunk...)

	histLen := len(r.history)
	numOut := len(chunk) / ratio
	out := make([]float32, numOut)
	half := (len(r.taps) - 1) / 2

	for i := 0; i < numOut; i++ {
		center := histLen + i*ratio
		var acc float64
		for k, tap := range r.taps {
			idx := center - half + k
			if idx >= 0 && idx < len(extended) {
				acc += tap * extended[idx]
			}
		}
		out[i] = float32(acc)
	}

	if len(chunk) >= len(r.taps)-1 {
		r.history = append(r.history[:0], chunk[len(chunk)-(len(r.taps)-1):]...)
	} else {
		keep := len(r.history) - len(chunk)
		r.history = append(append([]float64{}, r.history[len(r.history)-keep:]...), chunk...)
	}
	return out
}
