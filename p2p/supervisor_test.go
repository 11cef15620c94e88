package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/darkrenaissance/darkfi-net/config"
	"github.com/darkrenaissance/darkfi-net/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() config.Settings {
	s := config.Defaults()
	s.AllowedTransports = []string{"tcp"}
	s.NodeID = "test-node"
	s.OutboundConnections = 1
	s.GoldConnectCount = 1
	s.WhiteConnectPercent = 0.5
	s.SeedQueryTimeout = config.Duration{Duration: 500 * time.Millisecond}
	s.OutboundConnectTimeout = config.Duration{Duration: 500 * time.Millisecond}
	s.ChannelHandshakeTimeout = config.Duration{Duration: 300 * time.Millisecond}
	s.ChannelHeartbeatInterval = config.Duration{Duration: time.Minute}
	s.OutboundPeerDiscoveryCooloff = config.Duration{Duration: 150 * time.Millisecond}
	s.StopDeadline = config.Duration{Duration: time.Second}
	return s
}

// versionPeer plays the other side of the Version handshake on every
// connection it accepts, then keeps reading (discarding pings/addr
// messages) until the connection closes. This stands in for a real remote
// peer so Supervisor-level tests can exercise blocking protocol attach
// without a second Supervisor.
func versionPeer(t *testing.T, protocolVersion uint32) (addrPort string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveVersionHandshake(conn, protocolVersion)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func serveVersionHandshake(conn net.Conn, protocolVersion uint32) {
	defer conn.Close()
	reg := wire.NewRegistry()

	for {
		msg, err := wire.Decode(conn, reg)
		if err != nil {
			return
		}
		switch msg.Kind {
		case wire.KindVersion:
			payload, err := wire.VersionPayload{ProtocolVersion: protocolVersion, NodeID: "peer"}.Marshal()
			if err != nil {
				return
			}
			if err := wire.Encode(conn, reg, wire.Message{Kind: wire.KindVersion, Payload: payload}); err != nil {
				return
			}
		case wire.KindVerack:
			if err := wire.Encode(conn, reg, wire.Message{Kind: wire.KindVerack}); err != nil {
				return
			}
		case wire.KindGetAddr:
			payload, err := wire.AddrPayload{}.Marshal()
			if err != nil {
				return
			}
			if err := wire.Encode(conn, reg, wire.Message{Kind: wire.KindAddr, Payload: payload}); err != nil {
				return
			}
		}
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	s := testSettings()
	s.Peers = []string{"not-an-address"}
	_, err := New(s)
	assert.Error(t, err)
}

func TestLifecycleUninitializedToStopped(t *testing.T) {
	peerAddr, stopPeer := versionPeer(t, 1)
	defer stopPeer()

	s := testSettings()
	s.Seeds = []string{"tcp://" + peerAddr}

	sup, err := New(s)
	require.NoError(t, err)
	assert.Equal(t, Uninitialized, sup.State())

	require.NoError(t, sup.Start())
	assert.Equal(t, Started, sup.State())

	require.NoError(t, sup.Run())
	assert.Equal(t, Running, sup.State())

	sup.Stop()
	assert.Equal(t, Stopped, sup.State())

	// Stop must be idempotent and safe to call again.
	sup.Stop()
	assert.Equal(t, Stopped, sup.State())
}

func TestStartFailsWithNoFallbackWhenSeedsUnreachable(t *testing.T) {
	s := testSettings()
	s.Seeds = []string{"tcp://127.0.0.1:1"}

	sup, err := New(s)
	require.NoError(t, err)

	err = sup.Start()
	assert.Error(t, err)
}

func TestStartProceedsWhenPeersConfiguredDespiteSeedFailure(t *testing.T) {
	peerAddr, stopPeer := versionPeer(t, 1)
	defer stopPeer()

	s := testSettings()
	s.Seeds = []string{"tcp://127.0.0.1:1"}
	s.Peers = []string{"tcp://" + peerAddr}

	sup, err := New(s)
	require.NoError(t, err)

	require.NoError(t, sup.Start())
	assert.Equal(t, Started, sup.State())
	sup.Stop()
}

func TestRunBeforeStartIsRejected(t *testing.T) {
	sup, err := New(testSettings())
	require.NoError(t, err)

	err = sup.Run()
	assert.Error(t, err)
}

func TestStartFailsOnProtocolVersionMismatch(t *testing.T) {
	peerAddr, stopPeer := versionPeer(t, 99)
	defer stopPeer()

	s := testSettings()
	s.Seeds = []string{"tcp://" + peerAddr}

	sup, err := New(s)
	require.NoError(t, err)

	err = sup.Start()
	assert.Error(t, err)
}
