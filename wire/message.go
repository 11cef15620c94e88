package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/darkrenaissance/darkfi-net/errs"
)

// Message is the kind/payload pair carried by every envelope on a channel
// (§3). Kind is the human-readable name; callers never deal with the
// numeric KindID directly — that is an implementation detail of the wire
// encoding, resolved against a Registry at encode/decode time.
type Message struct {
	Kind    string
	Payload []byte
}

// Encode writes a Message to w as
// varint(kind_id) || varint(payload_len) || payload, per §6. It fails if
// Kind is not registered (a programmer error — an unregistered outbound
// kind never reaches the wire) or if Payload exceeds MaxPayloadLen.
func Encode(w io.Writer, reg *Registry, msg Message) error {
	id, ok := reg.IDFor(msg.Kind)
	if !ok {
		return fmt.Errorf("wire: kind %q is not registered", msg.Kind)
	}
	if err := checkPayloadLen(uint64(len(msg.Payload))); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(id)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(len(msg.Payload))); err != nil {
		return err
	}
	if len(msg.Payload) == 0 {
		return nil
	}
	_, err := w.Write(msg.Payload)
	return err
}

// Decode reads one envelope from r. If the kind id is not recognized by
// reg, Decode still consumes the full envelope (so framing stays in sync)
// and returns errs.ErrUnknownMessageKind wrapping the raw id — callers
// (the channel reader) log this and continue rather than closing the
// channel, per §4.3/§7. A payload_len exceeding MaxPayloadLen terminates
// the channel: Decode returns errs.ErrMessageTooLarge without attempting
// to read the oversized payload.
func Decode(r io.Reader, reg *Registry) (Message, error) {
	rawID, err := readUvarint(r)
	if err != nil {
		return Message{}, err
	}
	length, err := readUvarint(r)
	if err != nil {
		return Message{}, err
	}
	if err := checkPayloadLen(length); err != nil {
		return Message{}, err
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, err
		}
	}

	kind, ok := reg.KindFor(KindID(rawID))
	if !ok {
		return Message{}, fmt.Errorf("%w: id %d", errs.ErrUnknownMessageKind, rawID)
	}
	return Message{Kind: kind, Payload: payload}, nil
}

// EncodeToBytes is a convenience wrapper for tests and for protocols that
// need the raw envelope bytes (e.g. to compute sizes) rather than writing
// straight to the channel's stream.
func EncodeToBytes(reg *Registry, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, reg, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
