package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/darkrenaissance/darkfi-net/addr"
)

// MaxAddrEntries is the §6 cap on the number of addresses an addr message
// may carry.
const MaxAddrEntries = 1000

// VersionPayload is the body of a "version" message (§6): the handshake
// both sides exchange immediately after connect/accept.
type VersionPayload struct {
	ProtocolVersion uint32
	NodeID          string
	Services        uint64
	ExternalAddrs   []addr.Address
	Timestamp       int64
}

// Marshal encodes the payload in the same varint-prefixed style as the
// envelope header, reusing writeUvarint/readUvarint so the whole wire
// format — envelope and payload alike — is built from one little-endian
// base-128 primitive.
func (v VersionPayload) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeUvarint(&buf, uint64(v.ProtocolVersion)); err != nil {
		return nil, err
	}
	if err := writeString(&buf, v.NodeID); err != nil {
		return nil, err
	}
	if err := writeUvarint(&buf, v.Services); err != nil {
		return nil, err
	}
	if err := writeUvarint(&buf, uint64(len(v.ExternalAddrs))); err != nil {
		return nil, err
	}
	for _, a := range v.ExternalAddrs {
		if err := writeString(&buf, a.String()); err != nil {
			return nil, err
		}
	}
	if err := writeUvarint(&buf, zigzag(v.Timestamp)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalVersionPayload decodes the body produced by Marshal.
func UnmarshalVersionPayload(data []byte) (VersionPayload, error) {
	r := bytes.NewReader(data)
	var v VersionPayload

	pv, err := readUvarint(r)
	if err != nil {
		return v, err
	}
	v.ProtocolVersion = uint32(pv)

	v.NodeID, err = readString(r)
	if err != nil {
		return v, err
	}

	v.Services, err = readUvarint(r)
	if err != nil {
		return v, err
	}

	n, err := readUvarint(r)
	if err != nil {
		return v, err
	}
	v.ExternalAddrs = make([]addr.Address, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return v, err
		}
		a, err := addr.Parse(s)
		if err != nil {
			return v, fmt.Errorf("wire: version external addr: %w", err)
		}
		v.ExternalAddrs = append(v.ExternalAddrs, a)
	}

	ts, err := readUvarint(r)
	if err != nil {
		return v, err
	}
	v.Timestamp = unzigzag(ts)

	return v, nil
}

// PingPayload / PongPayload carry the heartbeat nonce (§6); pong must echo
// the nonce it received.
type PingPayload struct{ Nonce uint64 }
type PongPayload struct{ Nonce uint64 }

func (p PingPayload) Marshal() ([]byte, error) { return marshalNonce(p.Nonce) }
func (p PongPayload) Marshal() ([]byte, error) { return marshalNonce(p.Nonce) }

func UnmarshalPingPayload(data []byte) (PingPayload, error) {
	n, err := unmarshalNonce(data)
	return PingPayload{Nonce: n}, err
}

func UnmarshalPongPayload(data []byte) (PongPayload, error) {
	n, err := unmarshalNonce(data)
	return PongPayload{Nonce: n}, err
}

func marshalNonce(nonce uint64) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeUvarint(&buf, nonce); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalNonce(data []byte) (uint64, error) {
	return readUvarint(bytes.NewReader(data))
}

// AddrPayload is the body of an "addr" message: a capped list of addresses
// offered in response to getaddr.
type AddrPayload struct {
	Addrs []addr.Address
}

func (a AddrPayload) Marshal() ([]byte, error) {
	entries := a.Addrs
	if len(entries) > MaxAddrEntries {
		entries = entries[:MaxAddrEntries]
	}
	var buf bytes.Buffer
	if err := writeUvarint(&buf, uint64(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := writeString(&buf, e.String()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func UnmarshalAddrPayload(data []byte) (AddrPayload, error) {
	r := bytes.NewReader(data)
	n, err := readUvarint(r)
	if err != nil {
		return AddrPayload{}, err
	}
	if n > MaxAddrEntries {
		n = MaxAddrEntries
	}
	out := AddrPayload{Addrs: make([]addr.Address, 0, n)}
	for i := uint64(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return out, err
		}
		a, err := addr.Parse(s)
		if err != nil {
			return out, fmt.Errorf("wire: addr entry: %w", err)
		}
		out.Addrs = append(out.Addrs, a)
	}
	return out, nil
}

// writeString/readString frame a UTF-8 string as a varint length prefix
// followed by its bytes — the same envelope shape as the outer message,
// nested for the variable-length fields of the built-in payloads.
func writeString(w io.Writer, s string) error {
	if err := writeUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// zigzag/unzigzag map a signed timestamp onto the unsigned varint space
// without the sign-extension blowup a naive cast would cause for negative
// values.
func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
