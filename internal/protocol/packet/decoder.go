// internal/protocol/packet/decoder.go
package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Decoder reassembles frames from a byte stream. Bytes preceding a start
// marker are discarded as line noise. It is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write appends received bytes
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete packet, or nil when more bytes are needed.
// When noise ends in pipes, every alignment inside the run of pipes is tried
// and the first one that frames a valid packet wins. A framing error drops
// the run so decoding can resume at the next marker.
func (d *Decoder) Next() (*Packet, error) {
	start := bytes.Index(d.buf, []byte(StartMarker))
	if start < 0 {
		// keep a possible partial marker at the tail
		if keep := len(StartMarker) - 1; len(d.buf) > keep {
			d.buf = d.buf[len(d.buf)-keep:]
		}
		return nil, nil
	}
	d.buf = d.buf[start:]

	var lastErr error
	pending := false
	candidates := 0
	for offset := 0; ; offset++ {
		if offset > 0 {
			if offset+len(StartMarker) > len(d.buf) {
				pending = true
				break
			}
			if d.buf[offset+len(StartMarker)-1] != StartMarker[0] {
				break
			}
		}
		candidates++
		p, size, err := decodeFrame(d.buf[offset:])
		switch {
		case err != nil:
			lastErr = err
		case p == nil:
			pending = true
		default:
			d.buf = d.buf[offset+size:]
			return p, nil
		}
	}
	if pending {
		return nil, nil
	}

	d.buf = d.buf[candidates:]
	return nil, lastErr
}

// decodeFrame parses a frame at the head of b. It returns a nil packet and
// no error when b does not yet hold the whole frame.
func decodeFrame(b []byte) (*Packet, int, error) {
	if len(b) < headerSize {
		return nil, 0, nil
	}

	id := binary.BigEndian.Uint16(b[3:5])
	typ := Type(b[5])
	length := int(binary.BigEndian.Uint16(b[6:8]))

	if length > MaxPayload {
		return nil, 0, fmt.Errorf("%w: %w: %d bytes", ErrBadHeader, ErrFrameTooLarge, length)
	}
	if !knownType(typ) {
		return nil, 0, fmt.Errorf("%w: %w: 0x%02x", ErrBadHeader, ErrUnknownType, byte(typ))
	}

	total := headerSize + length + trailerSize
	if len(b) < total {
		return nil, 0, nil
	}

	frame := b[:total]
	want := binary.BigEndian.Uint16(frame[total-trailerSize:])
	got := Checksum(frame[len(StartMarker) : total-trailerSize])
	if want != got {
		return nil, 0, fmt.Errorf("%w: want 0x%04x, got 0x%04x", ErrChecksum, want, got)
	}

	payload := make([]byte, length)
	copy(payload, frame[headerSize:headerSize+length])
	return &Packet{ID: id, Type: typ, Payload: payload}, total, nil
}

// Buffered returns the number of undecoded bytes held
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
