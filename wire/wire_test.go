package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDeterministicIDs(t *testing.T) {
	r1 := NewRegistry()
	r1.Register("darkirc/privmsg")
	r1.Freeze()

	r2 := NewRegistry()
	r2.Register("darkirc/privmsg")
	r2.Freeze()

	id1, ok := r1.IDFor("darkirc/privmsg")
	require.True(t, ok)
	id2, ok := r2.IDFor("darkirc/privmsg")
	require.True(t, ok)
	assert.Equal(t, id1, id2)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Freeze()

	msg := Message{Kind: KindPing, Payload: []byte("hello")}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, reg, msg))

	got, err := Decode(&buf, reg)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDecodeUnknownKindIsNonFatal(t *testing.T) {
	writerReg := NewRegistry()
	writerReg.Register("app/only-on-writer")
	writerReg.Freeze()

	readerReg := NewRegistry() // lacks the app-specific kind
	readerReg.Freeze()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, writerReg, Message{Kind: "app/only-on-writer", Payload: []byte("x")}))

	_, err := Decode(&buf, readerReg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnknownMessageKind))
	assert.Equal(t, 0, buf.Len(), "envelope must be fully consumed even on unknown kind")
}

func TestDecodeMessageTooLarge(t *testing.T) {
	reg := NewRegistry()
	reg.Freeze()

	var buf bytes.Buffer
	require.NoError(t, writeUvarint(&buf, uint64(mustID(t, reg, KindPing))))
	require.NoError(t, writeUvarint(&buf, MaxPayloadLen+1))

	_, err := Decode(&buf, reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrMessageTooLarge))
}

func TestMaxPayloadLenBoundaryAccepted(t *testing.T) {
	reg := NewRegistry()
	reg.Freeze()

	// Don't actually allocate 64MiB of payload in the boundary test; just
	// verify checkPayloadLen's accept/reject edge directly.
	require.NoError(t, checkPayloadLen(MaxPayloadLen))
	err := checkPayloadLen(MaxPayloadLen + 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrMessageTooLarge))
}

func mustID(t *testing.T, reg *Registry, kind string) KindID {
	t.Helper()
	id, ok := reg.IDFor(kind)
	require.True(t, ok)
	return id
}

func TestVersionPayloadRoundTrip(t *testing.T) {
	a1, _ := addr.Parse("tcp+tls://example.com:26661")
	a2, _ := addr.Parse("tor://abcdefghijklmnop.onion:9050")

	in := VersionPayload{
		ProtocolVersion: 7,
		NodeID:          "node-123",
		Services:        0xFF,
		ExternalAddrs:   []addr.Address{a1, a2},
		Timestamp:       -42,
	}
	data, err := in.Marshal()
	require.NoError(t, err)

	out, err := UnmarshalVersionPayload(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPingPongRoundTrip(t *testing.T) {
	data, err := PingPayload{Nonce: 123456789}.Marshal()
	require.NoError(t, err)
	ping, err := UnmarshalPingPayload(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), ping.Nonce)

	data, err = PongPayload{Nonce: ping.Nonce}.Marshal()
	require.NoError(t, err)
	pong, err := UnmarshalPongPayload(data)
	require.NoError(t, err)
	assert.Equal(t, ping.Nonce, pong.Nonce)
}

func TestAddrPayloadCap(t *testing.T) {
	addrs := make([]addr.Address, 0, MaxAddrEntries+50)
	for i := 0; i < MaxAddrEntries+50; i++ {
		a, _ := addr.Parse("tcp://host.example:1234")
		addrs = append(addrs, a)
	}
	data, err := AddrPayload{Addrs: addrs}.Marshal()
	require.NoError(t, err)

	out, err := UnmarshalAddrPayload(data)
	require.NoError(t, err)
	assert.Len(t, out.Addrs, MaxAddrEntries)
}
