package pipeline

import (
	"encoding/binary"
	"testing"
)

// buildRTP assembles a minimal RTP packet: version 2, no CSRCs, optional
// extension and padding, followed by payload.
func buildRTP(marker bool, seq uint16, ts, ssrc uint32, payload []byte, padLen int) []byte {
	first := byte(2 << 6) // version 2
	if padLen > 0 {
		first |= 1 << 5
	}
	second := byte(0)
	if marker {
		second |= 1 << 7
	}
	second |= 96 // arbitrary payload type

	buf := make([]byte, 12)
	buf[0] = first
	buf[1] = second
	binary.BigEndian.PutUint16(buf[2:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], ts)
	binary.BigEndian.PutUint32(buf[8:12], ssrc)
	buf = append(buf, payload...)
	if padLen > 0 {
		for i := 1; i < padLen; i++ {
			buf = append(buf, 0)
		}
		buf = append(buf, byte(padLen))
	}
	return buf
}

func TestParseRTP_Basic(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	buf := buildRTP(true, 42, 12345, 0xdeadbeef, payload, 0)

	pkt, err := ParseRTP(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.Header.Version != 2 {
		t.Errorf("expected version 2, got %d", pkt.Header.Version)
	}
	if !pkt.Header.Marker {
		t.Error("expected marker bit set")
	}
	if pkt.Header.SequenceNumber != 42 {
		t.Errorf("expected sequence 42, got %d", pkt.Header.SequenceNumber)
	}
	if pkt.Header.Timestamp != 12345 {
		t.Errorf("expected timestamp 12345, got %d", pkt.Header.Timestamp)
	}
	if pkt.Header.SSRC != 0xdeadbeef {
		t.Errorf("expected ssrc 0xdeadbeef, got %x", pkt.Header.SSRC)
	}
	if got := pkt.Payload(); string(got) != string(payload) {
		t.Errorf("expected payload %v, got %v", payload, got)
	}
}

func TestParseRTP_StripsPadding(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	buf := buildRTP(false, 1, 0, 1, payload, 4)

	pkt, err := ParseRTP(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pkt.Header.Padding {
		t.Fatal("expected padding flag set")
	}
	got := pkt.Payload()
	if string(got) != string(payload) {
		t.Errorf("expected padding stripped, got %v want %v", got, payload)
	}
}

func TestParseRTP_TooShort(t *testing.T) {
	_, err := ParseRTP(make([]byte, 4))
	if err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestParseRTP_BadVersion(t *testing.T) {
	buf := buildRTP(false, 1, 0, 1, []byte{1}, 0)
	buf[0] = 0x00 // version 0
	_, err := ParseRTP(buf)
	if err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestParseRTP_CSRCList(t *testing.T) {
	payload := []byte{9, 9}
	csrcCount := 2
	buf := make([]byte, 12)
	buf[0] = byte(2<<6) | byte(csrcCount)
	buf[1] = 96
	binary.BigEndian.PutUint16(buf[2:4], 7)
	binary.BigEndian.PutUint32(buf[4:8], 100)
	binary.BigEndian.PutUint32(buf[8:12], 1)
	for i := 0; i < csrcCount; i++ {
		csrc := make([]byte, 4)
		binary.BigEndian.PutUint32(csrc, uint32(i+1))
		buf = append(buf, csrc...)
	}
	buf = append(buf, payload...)

	pkt, err := ParseRTP(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.PayloadOffset != 12+csrcCount*4 {
		t.Errorf("expected payload offset %d, got %d", 12+csrcCount*4, pkt.PayloadOffset)
	}
	if string(pkt.Payload()) != string(payload) {
		t.Errorf("expected payload %v, got %v", payload, pkt.Payload())
	}
}

func TestParseRTP_TruncatedCSRC(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = byte(2<<6) | 3 // claims 3 CSRCs but none follow
	_, err := ParseRTP(buf)
	if err == nil {
		t.Fatal("expected error for truncated CSRC list")
	}
}

func TestParseRTP_ExtensionHeader(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = (2 << 6) | (1 << 4) // version 2, extension bit set
	buf[1] = 96
	binary.BigEndian.PutUint16(buf[2:4], 1)
	binary.BigEndian.PutUint32(buf[4:8], 0)
	binary.BigEndian.PutUint32(buf[8:12], 0)

	ext := make([]byte, 4)
	binary.BigEndian.PutUint16(ext[0:2], 0xBEDE)
	binary.BigEndian.PutUint16(ext[2:4], 1) // one extension word follows
	buf = append(buf, ext...)
	buf = append(buf, []byte{0, 0, 0, 0}...) // the extension word itself
	payload := []byte{5, 6, 7}
	buf = append(buf, payload...)

	pkt, err := ParseRTP(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pkt.Header.Extension {
		t.Error("expected extension flag set")
	}
	if string(pkt.Payload()) != string(payload) {
		t.Errorf("expected payload %v, got %v", payload, pkt.Payload())
	}
}

func TestParseRTP_TruncatedExtension(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = (2 << 6) | (1 << 4)
	buf[1] = 96
	_, err := ParseRTP(buf)
	if err == nil {
		t.Fatal("expected error for truncated extension header")
	}
}
