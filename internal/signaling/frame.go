// Package signaling implements the per-connection WebSocket state machine
// that parses client frames and drives the Room Manager.
package signaling

import (
	"encoding/json"

	"github.com/aura-conferencing/core/internal/realtime"
)

// Frame is the wire envelope for every client<->server WS message: a type
// tag and an arbitrary JSON payload. Unknown types are a no-op, never an
// error — the dispatcher must never disconnect a client for a malformed or
// unrecognized frame. It is an alias of realtime.Frame so the dispatcher
// can hand frames directly to the WS Fanout without conversion.
type Frame = realtime.Frame

func newFrame(typ string, data interface{}) Frame {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte("{}")
	}
	return Frame{Type: typ, Data: b}
}

type mediaJoinData struct {
	ConferenceID string `json:"conference_id"`
}

type connectTransportData struct {
	TransportID    string            `json:"transport_id"`
	DTLSParameters dtlsParametersDTO `json:"dtls_parameters"`
}

type dtlsParametersDTO struct {
	Fingerprints []string `json:"fingerprints"`
	Role         string   `json:"role"`
}

type produceData struct {
	TransportID string `json:"transport_id"`
	Kind        string `json:"kind"`
}

type consumeData struct {
	ProducerID      string          `json:"producer_id"`
	RtpCapabilities json.RawMessage `json:"rtp_capabilities"`
}

type resumeConsumerData struct {
	ConsumerID string `json:"consumer_id"`
}

type mediaLeaveData struct {
	ConferenceID string `json:"conference_id"`
}

type typingData struct {
	ChannelID string `json:"channel_id"`
}

type presenceData struct {
	Presence string `json:"presence"`
}
