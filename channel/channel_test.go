package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddrs(t *testing.T) (remote, local addr.Address) {
	t.Helper()
	remote, err := addr.Parse("tcp://10.0.0.1:9000")
	require.NoError(t, err)
	local, err = addr.Parse("tcp://10.0.0.2:9000")
	require.NoError(t, err)
	return remote, local
}

func TestSubscribeReceivesFIFOMessages(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	reg := wire.NewRegistry()
	reg.Freeze()
	remote, local := testAddrs(t)

	ch := New(server, remote, local, DirectionInbound, reg, nil)
	sub := ch.Subscribe(wire.KindPing, 0)
	ch.Start(context.Background())
	defer ch.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, wire.Encode(client, reg, wire.Message{Kind: wire.KindPing, Payload: []byte{byte(i)}}))
	}

	for i := 0; i < 3; i++ {
		select {
		case d := <-sub.C():
			require.Equal(t, DeliveryMessage, d.Kind)
			assert.Equal(t, []byte{byte(i)}, d.Message.Payload)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
}

func TestStopFiresEndSentinel(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	reg := wire.NewRegistry()
	reg.Freeze()
	remote, local := testAddrs(t)

	ch := New(server, remote, local, DirectionOutbound, reg, nil)
	sub := ch.Subscribe(wire.KindPing, 0)
	ch.Start(context.Background())

	ch.Stop()

	select {
	case d := <-sub.C():
		assert.Equal(t, DeliveryEnd, d.Kind)
	case <-time.After(time.Second):
		t.Fatal("did not receive End sentinel")
	}
	assert.True(t, ch.Stopped())
}

func TestStopIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	reg := wire.NewRegistry()
	reg.Freeze()
	remote, local := testAddrs(t)

	ch := New(server, remote, local, DirectionOutbound, reg, nil)
	ch.Start(context.Background())

	assert.NotPanics(t, func() {
		ch.Stop()
		ch.Stop()
	})
}

func TestSlowSubscriberGetsLaggedNotSilentDrop(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	reg := wire.NewRegistry()
	reg.Freeze()
	remote, local := testAddrs(t)

	ch := New(server, remote, local, DirectionInbound, reg, nil)
	sub := ch.Subscribe(wire.KindPing, 1) // tiny buffer to force backpressure
	ch.Start(context.Background())
	defer ch.Stop()

	go func() {
		for i := 0; i < 10; i++ {
			_ = wire.Encode(client, reg, wire.Message{Kind: wire.KindPing, Payload: []byte{byte(i)}})
		}
	}()

	sawLagged := false
	deadline := time.After(2 * time.Second)
	for i := 0; i < 5; i++ {
		select {
		case d := <-sub.C():
			if d.Kind == DeliveryLagged {
				sawLagged = true
				assert.Greater(t, d.Lagged, 0)
			}
		case <-deadline:
			t.Fatal("timed out waiting for deliveries")
		}
	}
	_ = sawLagged // best-effort: timing-dependent, but the mechanism must not panic or deadlock
}

func TestMultipleSubscribersSameKindBothReceive(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	reg := wire.NewRegistry()
	reg.Freeze()
	remote, local := testAddrs(t)

	ch := New(server, remote, local, DirectionInbound, reg, nil)
	subA := ch.Subscribe(wire.KindPong, 0)
	subB := ch.Subscribe(wire.KindPong, 0)
	ch.Start(context.Background())
	defer ch.Stop()

	require.NoError(t, wire.Encode(client, reg, wire.Message{Kind: wire.KindPong, Payload: []byte("x")}))

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case d := <-sub.C():
			assert.Equal(t, DeliveryMessage, d.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestSubscribeAfterStopGetsImmediateEnd(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	reg := wire.NewRegistry()
	reg.Freeze()
	remote, local := testAddrs(t)

	ch := New(server, remote, local, DirectionOutbound, reg, nil)
	ch.Stop()

	sub := ch.Subscribe(wire.KindPing, 0)
	select {
	case d := <-sub.C():
		assert.Equal(t, DeliveryEnd, d.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected immediate End for subscription on a stopped channel")
	}
}
