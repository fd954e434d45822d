package pipeline

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

// Packet is a parsed RTP packet: the fixed header (reusing pion/rtp's
// Header shape so downstream code speaks the ecosystem's vocabulary) plus
// the byte offset where the payload begins in the original buffer.
type Packet struct {
	Header        rtp.Header
	PayloadOffset int
	raw           []byte
}

// ParseRTP parses buf as one RTP packet. It validates the fixed 12-byte
// header, CSRC list length, and extension header length explicitly (the
// spec pins these byte offsets exactly, so parsing is done directly here
// rather than deferring entirely to pion/rtp's own Unmarshal).
func ParseRTP(buf []byte) (*Packet, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("rtp: packet too short (%d bytes)", len(buf))
	}

	version := buf[0] >> 6
	if version != 2 {
		return nil, fmt.Errorf("rtp: unsupported version %d", version)
	}
	padding := (buf[0]>>5)&0x1 == 1
	extension := (buf[0]>>4)&0x1 == 1
	csrcCount := int(buf[0] & 0x0F)
	marker := (buf[1]>>7)&0x1 == 1
	payloadType := buf[1] & 0x7F
	sequenceNumber := binary.BigEndian.Uint16(buf[2:4])
	timestamp := binary.BigEndian.Uint32(buf[4:8])
	ssrc := binary.BigEndian.Uint32(buf[8:12])

	offset := 12 + csrcCount*4
	if len(buf) < offset {
		return nil, fmt.Errorf("rtp: truncated CSRC list")
	}

	if extension {
		if len(buf) < offset+4 {
			return nil, fmt.Errorf("rtp: truncated extension header")
		}
		extLengthWords := binary.BigEndian.Uint16(buf[offset+2 : offset+4])
		offset += 4 + int(extLengthWords)*4
		if len(buf) < offset {
			return nil, fmt.Errorf("rtp: truncated extension payload")
		}
	}

	header := rtp.Header{
		Version:        version,
		Padding:        padding,
		Extension:      extension,
		Marker:         marker,
		PayloadType:    payloadType,
		SequenceNumber: sequenceNumber,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}

	return &Packet{Header: header, PayloadOffset: offset, raw: buf}, nil
}

// Payload returns the packet's media payload, stripping any trailing
// padding using the last byte as the pad-length indicator, per RFC 3550.
func (p *Packet) Payload() []byte {
	payload := p.raw[p.PayloadOffset:]
	if p.Header.Padding && len(payload) > 0 {
		padLen := int(payload[len(payload)-1])
		if padLen > 0 && padLen <= len(payload) {
			payload = payload[:len(payload)-padLen]
		}
	}
	return payload
}
