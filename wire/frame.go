// Package wire implements the length-prefixed frame layer spoken with the
// RLBot bridge: a 2-byte big-endian kind tag, a 2-byte big-endian body
// length, then the body itself. Payload contents are opaque at this layer.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rlbot/go-interface/internal/metrics"
)

// Kind identifies a frame's payload schema.
type Kind uint16

// Frame kinds. Numeric values are fixed by the bridge protocol.
const (
	KindNone Kind = iota
	KindGamePacket
	KindFieldInfo
	KindStartCommand
	KindMatchConfiguration
	KindPlayerInput
	KindDesiredGameState
	KindRenderGroup
	KindRemoveRenderGroup
	KindMatchComm
	KindBallPrediction
	KindConnectionSettings
	KindStopCommand
	KindSetLoadout
	KindInitComplete
	KindControllableTeamInfo
)

var kindNames = [...]string{
	"None", "GamePacket", "FieldInfo", "StartCommand", "MatchConfiguration",
	"PlayerInput", "DesiredGameState", "RenderGroup", "RemoveRenderGroup",
	"MatchComm", "BallPrediction", "ConnectionSettings", "StopCommand",
	"SetLoadout", "InitComplete", "ControllableTeamInfo",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

const (
	// HeaderSize is the fixed frame header length: kind + body length.
	HeaderSize = 4
	// MaxBodySize is the largest body a frame can carry.
	MaxBodySize = 1<<16 - 1
)

// Message is one decoded frame. A zero-length body is valid.
type Message struct {
	Kind Kind
	Body []byte
}

// ErrBodyTooLarge is returned when an outbound body exceeds MaxBodySize.
var ErrBodyTooLarge = errors.New("wire: body too large")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("wire: truncated frame")

// Codec encodes/decodes bridge frames. Stateless and safe for concurrent use.
type Codec struct{}

// Encode packs a single frame into a fresh buffer.
func (c Codec) Encode(kind Kind, body []byte) ([]byte, error) {
	if len(body) > MaxBodySize {
		metrics.IncOversizeSend()
		return nil, fmt.Errorf("wire encode %s: %w (%d bytes)", kind, ErrBodyTooLarge, len(body))
	}
	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(kind))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(body)))
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// EncodeTo writes the wire representation of one frame to w and returns bytes
// written. The header and body go out as a single Write so the frame is never
// interleaved with other writers holding the same lock.
func (c Codec) EncodeTo(w io.Writer, kind Kind, body []byte) (int, error) {
	buf, err := c.Encode(kind, body)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("wire encode %s: %w", kind, err)
	}
	return n, nil
}

// Decode reads exactly one frame from r.
// It returns io.EOF if called at a clean frame boundary and no more data is
// available; an EOF anywhere past the first header byte is ErrTruncatedFrame.
func (c Codec) Decode(r io.Reader) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return Message{}, fmt.Errorf("wire decode header: %w", ErrTruncatedFrame)
		}
		return Message{}, err
	}
	msg := Message{Kind: Kind(binary.BigEndian.Uint16(hdr[0:2]))}
	size := int(binary.BigEndian.Uint16(hdr[2:4]))
	if size == 0 {
		msg.Body = []byte{}
		return msg, nil
	}
	msg.Body = make([]byte, size)
	if _, err := io.ReadFull(r, msg.Body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			metrics.IncMalformed()
			return Message{}, fmt.Errorf("wire decode body (%s, %d bytes): %w", msg.Kind, size, ErrTruncatedFrame)
		}
		return Message{}, fmt.Errorf("wire decode body (%s, %d bytes): %w", msg.Kind, size, err)
	}
	return msg, nil
}
