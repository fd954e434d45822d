package media

import "time"

// ProducerKind is the media kind carried by one producer/consumer.
type ProducerKind string

const (
	KindAudio  ProducerKind = "audio"
	KindVideo  ProducerKind = "video"
	KindScreen ProducerKind = "screen"
)

// RtpCapabilities describes the codecs a Room's router supports, returned
// to the client on create_room so it can negotiate matching producers.
type RtpCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// CodecCapability is one entry of RtpCapabilities.Codecs.
type CodecCapability struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

func defaultRtpCapabilities() RtpCapabilities {
	return RtpCapabilities{
		Codecs: []CodecCapability{
			{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
			{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
			{Kind: "video", MimeType: "video/H264", ClockRate: 90000},
		},
	}
}

// TransportDescriptor is handed to the client so it can drive ICE/DTLS on
// its own peer connection endpoint.
type TransportDescriptor struct {
	ID             string                    `json:"id"`
	ICECandidates  []webrtcICECandidateShape `json:"ice_candidates,omitempty"`
	DTLSParameters *DTLSParameters           `json:"dtls_parameters,omitempty"`
}

type webrtcICECandidateShape struct {
	Foundation string `json:"foundation"`
	Protocol   string `json:"protocol"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// DTLSParameters is a minimal passthrough shape — the actual DTLS handshake
// is performed by pion/webrtc via SDP, this struct exists only so the
// connect_transport signaling frame has something concrete to carry.
type DTLSParameters struct {
	Fingerprints []string `json:"fingerprints"`
	Role         string   `json:"role"`
}

// ProducerInfo describes one outgoing media track from a Peer.
type ProducerInfo struct {
	ID            string
	Kind          ProducerKind
	Paused        bool
	PlainRTPCopy  bool
	OwnerUserID   string
	CreatedAt     time.Time
}

// ConsumerInfo describes one incoming media track attached to another
// Peer's producer.
type ConsumerInfo struct {
	ID         string
	ProducerID string
	Kind       ProducerKind
	Paused     bool
	CreatedAt  time.Time
}

// ConsumerDescriptor is returned to the client from consume().
type ConsumerDescriptor struct {
	ConsumerID string       `json:"consumer_id"`
	ProducerID string       `json:"producer_id"`
	Kind       ProducerKind `json:"kind"`
	Paused     bool         `json:"paused"`
}
