// Package bus bridges the in-process event bus to an external message
// broker connection. Frames are length-prefixed msgpack envelopes so the
// stream survives partial reads and mixed message sizes.
package bus

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize caps a single frame. Anything larger is a corrupt stream or
// a misbehaving peer.
const MaxFrameSize = 4 << 20

// Envelope is the wire unit exchanged with the broker.
type Envelope struct {
	Topic         string             `msgpack:"topic"`
	CorrelationID string             `msgpack:"correlationId"`
	TenantID      string             `msgpack:"tenantId"`
	Body          msgpack.RawMessage `msgpack:"body"`
}

// NewEnvelope packs body into an envelope for topic.
func NewEnvelope(topic, correlationID, tenantID string, body interface{}) (*Envelope, error) {
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope body: %w", err)
	}
	return &Envelope{Topic: topic, CorrelationID: correlationID, TenantID: tenantID, Body: raw}, nil
}

// Decode unpacks the envelope body into v.
func (e *Envelope) Decode(v interface{}) error {
	if err := msgpack.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("failed to decode envelope body: %w", err)
	}
	return nil
}

// WriteFrame writes one envelope with a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, env *Envelope) error {
	payload, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write frame prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one envelope. io.EOF on a clean end of stream.
func ReadFrame(r io.Reader) (*Envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame prefix: %w", err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &env, nil
}
