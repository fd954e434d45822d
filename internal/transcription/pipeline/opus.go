package pipeline

import "layeh.com/gopus"

const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusMaxFrame   = 5760 * 2 // matches the reference decoder's MAX_FRAME_SIZE
)

// OpusDecoder decodes Opus payloads at 48kHz stereo and exposes a mono
// float32 view, downmixing L/R by (L+R)/2 as the reference decoder does.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder builds a 48kHz stereo Opus decoder.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{dec: dec}, nil
}

// DecodeToMono decodes one Opus payload, downmixing to mono.
func (d *OpusDecoder) DecodeToMono(payload []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(payload, opusMaxFrame, false)
	if err != nil {
		return nil, err
	}
	return downmixToMono(pcm), nil
}

// DecodePLC synthesizes a packet-loss-concealment frame in place of a
// missing packet (libopus PLC, invoked by decoding with a nil payload).
func (d *OpusDecoder) DecodePLC() ([]float32, error) {
	pcm, err := d.dec.Decode(nil, opusMaxFrame, false)
	if err != nil {
		return nil, err
	}
	return downmixToMono(pcm), nil
}

func downmixToMono(pcm []int16) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		l := float32(pcm[2*i])
		r := float32(pcm[2*i+1])
		out[i] = (l + r) * 0.5 / 32768.0
	}
	return out
}
