package protocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/hostlist"
	"github.com/darkrenaissance/darkfi-net/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairedChannels(t *testing.T, reg *wire.Registry) (a, b *channel.Channel) {
	t.Helper()
	sideA, sideB := net.Pipe()
	ra, _ := addr.Parse("tcp://10.0.0.1:1")
	rb, _ := addr.Parse("tcp://10.0.0.2:2")
	a = channel.New(sideA, rb, ra, channel.DirectionOutbound, reg, nil)
	b = channel.New(sideB, ra, rb, channel.DirectionInbound, reg, nil)
	a.Start(context.Background())
	b.Start(context.Background())
	return a, b
}

func TestVersionHandshakeSucceedsBothSides(t *testing.T) {
	reg := wire.NewRegistry()
	reg.Freeze()
	chA, chB := pairedChannels(t, reg)
	defer chA.Stop()
	defer chB.Stop()

	var gotA, gotB wire.VersionPayload
	factoryA := NewVersionFactory(VersionConfig{
		ProtocolVersion: 1, NodeID: "a", HandshakeTimeout: time.Second,
		OnComplete: func(r wire.VersionPayload) { gotA = r },
	})
	factoryB := NewVersionFactory(VersionConfig{
		ProtocolVersion: 1, NodeID: "b", HandshakeTimeout: time.Second,
		OnComplete: func(r wire.VersionPayload) { gotB = r },
	})

	errCh := make(chan error, 2)
	go func() { errCh <- factoryA(chA).Run(context.Background()) }()
	go func() { errCh <- factoryB(chB).Run(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("handshake did not complete")
		}
	}
	assert.Equal(t, "b", gotA.NodeID)
	assert.Equal(t, "a", gotB.NodeID)
}

func TestVersionHandshakeMismatchFails(t *testing.T) {
	reg := wire.NewRegistry()
	reg.Freeze()
	chA, chB := pairedChannels(t, reg)
	defer chA.Stop()
	defer chB.Stop()

	factoryA := NewVersionFactory(VersionConfig{ProtocolVersion: 1, NodeID: "a", HandshakeTimeout: time.Second})
	factoryB := NewVersionFactory(VersionConfig{ProtocolVersion: 2, NodeID: "b", HandshakeTimeout: time.Second})

	errCh := make(chan error, 2)
	go func() { errCh <- factoryA(chA).Run(context.Background()) }()
	go func() { errCh <- factoryB(chB).Run(context.Background()) }()

	mismatches := 0
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				mismatches++
			}
		case <-time.After(2 * time.Second):
			t.Fatal("handshake did not complete")
		}
	}
	assert.Greater(t, mismatches, 0)
}

func TestPingRespondsWithPong(t *testing.T) {
	reg := wire.NewRegistry()
	reg.Freeze()
	chA, chB := pairedChannels(t, reg)
	defer chA.Stop()
	defer chB.Stop()

	factory := NewPingFactory(PingConfig{Interval: 50 * time.Millisecond})
	protoB := factory(chB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go protoB.Run(ctx)

	pongSub := chA.Subscribe(wire.KindPong, 4)
	payload, err := wire.PingPayload{Nonce: 42}.Marshal()
	require.NoError(t, err)
	require.NoError(t, chA.Send(wire.Message{Kind: wire.KindPing, Payload: payload}))

	select {
	case d := <-pongSub.C():
		require.Equal(t, channel.DeliveryMessage, d.Kind)
		pong, err := wire.UnmarshalPongPayload(d.Message.Payload)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), pong.Nonce)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive pong")
	}
}

func TestAddrExchangeSeedSendsGetAddrAndInserts(t *testing.T) {
	reg := wire.NewRegistry()
	reg.Freeze()
	chA, chB := pairedChannels(t, reg)
	defer chA.Stop()
	defer chB.Stop()

	hlB := hostlist.New(hostlist.DefaultPolicy(), hostlist.DefaultTimeProvider{})
	peerAddr, _ := addr.Parse("tcp://5.5.5.5:9000")
	hlB.Insert(peerAddr, hostlist.SourceManual)

	responderFactory := NewAddrExchangeFactory(AddrExchangeConfig{HostList: hlB, Interval: time.Minute})

	hlA := hostlist.New(hostlist.DefaultPolicy(), hostlist.DefaultTimeProvider{})
	seedFactory := NewAddrExchangeFactory(AddrExchangeConfig{IsSeed: true, Interval: 2 * time.Second, HostList: hlA})

	errCh := make(chan error, 1)
	go func() { errCh <- seedFactory(chA).Run(context.Background()) }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go responderFactory(chB).Run(ctx)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("seed round did not complete")
	}

	_, ok := hlA.Get(peerAddr)
	assert.True(t, ok, "seed should have inserted the peer address learned via addr")
}
