// internal/protocol/packet/packet.go
package packet

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type identifies the kind of packet carried by a frame
type Type byte

const (
	TypeAck        Type = 'a'
	TypeNack       Type = 'n'
	TypeData       Type = 'd'
	TypeIDRequest  Type = 'i'
	TypeIDResponse Type = 'r'
)

const (
	// StartMarker opens every frame
	StartMarker = "|||"

	headerSize  = len(StartMarker) + 2 + 1 + 2
	trailerSize = 2

	// MaxPayload mirrors the node's packet buffer minus framing overhead
	MaxPayload = 1024
)

var (
	ErrChecksum      = errors.New("packet checksum mismatch")
	ErrFrameTooLarge = errors.New("packet payload exceeds maximum size")
	ErrUnknownType   = errors.New("unknown packet type")

	// ErrBadHeader marks a frame header that failed validation before its
	// checksum could be read. The decoder has already resynchronised past it.
	ErrBadHeader = errors.New("invalid packet header")
)

// Packet is a decoded frame
type Packet struct {
	ID      uint16
	Type    Type
	Payload []byte
}

// Encode serialises the packet into a frame
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(p.Payload))
	}

	frame := make([]byte, 0, headerSize+len(p.Payload)+trailerSize)
	frame = append(frame, StartMarker...)
	frame = binary.BigEndian.AppendUint16(frame, p.ID)
	frame = append(frame, byte(p.Type))
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(p.Payload)))
	frame = append(frame, p.Payload...)
	frame = binary.BigEndian.AppendUint16(frame, Checksum(frame[len(StartMarker):]))
	return frame, nil
}

// IDRequest returns the frame asking a node to identify itself
func IDRequest(id uint16) []byte {
	frame, _ := (&Packet{ID: id, Type: TypeIDRequest}).Encode()
	return frame
}

// IDResponse builds the frame a node answers with
func IDResponse(id uint16, name, version string) ([]byte, error) {
	payload, err := json.Marshal(idPayload{Name: name, Version: version})
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}
	return (&Packet{ID: id, Type: TypeIDResponse, Payload: payload}).Encode()
}

type idPayload struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ErrMalformedIdentity is returned when an ID response payload cannot be parsed
var ErrMalformedIdentity = errors.New("malformed identity payload")

// ParseIdentity extracts name and version from an ID response packet
func ParseIdentity(p *Packet) (name, version string, err error) {
	if p.Type != TypeIDResponse {
		return "", "", fmt.Errorf("%w: expected %q, got %q", ErrUnknownType, TypeIDResponse, p.Type)
	}

	var payload idPayload
	if err := json.Unmarshal(p.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	if strings.TrimSpace(payload.Name) == "" {
		return "", "", fmt.Errorf("%w: missing name", ErrMalformedIdentity)
	}
	return payload.Name, payload.Version, nil
}

func knownType(t Type) bool {
	switch t {
	case TypeAck, TypeNack, TypeData, TypeIDRequest, TypeIDResponse:
		return true
	}
	return false
}

// Checksum computes CRC-16/CCITT-FALSE
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
