package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialListenRoundTrip(t *testing.T) {
	listenAddr := addr.Address{Scheme: addr.SchemeTCP, Host: "127.0.0.1", Port: 0}
	acc, err := Listen(listenAddr, nil, 0)
	require.NoError(t, err)
	defer acc.Close()

	tcpAddr := acc.Addr().(*net.TCPAddr)
	target := addr.Address{Scheme: addr.SchemeTCP, Host: "127.0.0.1", Port: uint16(tcpAddr.Port)}

	dialer := NewDialer(Config{
		AllowedTransports: map[addr.Scheme]bool{addr.SchemeTCP: true},
	})

	serverCh := make(chan Stream, 1)
	serverErrCh := make(chan error, 1)
	go func() {
		conn, err := acc.AcceptStream(context.Background())
		if err != nil {
			serverErrCh <- err
			return
		}
		serverCh <- conn
	}()

	clientConn, err := dialer.Dial(context.Background(), target, time.Second)
	require.NoError(t, err)
	defer clientConn.Close()

	select {
	case srvConn := <-serverCh:
		defer srvConn.Close()
		_, err := clientConn.Write([]byte("ping"))
		require.NoError(t, err)
		buf := make([]byte, 4)
		_, err = io.ReadFull(srvConn, buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf))
	case err := <-serverErrCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server connection")
	}
}

func TestListenRejectsNonListenableScheme(t *testing.T) {
	_, err := Listen(addr.Address{Scheme: addr.SchemeSocks5, Host: "0.0.0.0", Port: 1}, nil, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrSchemeNotListenable))
}

func TestDialUnavailableScheme(t *testing.T) {
	dialer := NewDialer(Config{
		AllowedTransports: map[addr.Scheme]bool{addr.SchemeTCP: true},
	})
	target := addr.Address{Scheme: addr.SchemeTor, Host: "abcdefghijklmnop.onion", Port: 9050}
	_, err := dialer.Dial(context.Background(), target, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTransportUnavailable))
}

func TestResolveCarrierMixing(t *testing.T) {
	dialer := NewDialer(Config{
		AllowedTransports: map[addr.Scheme]bool{addr.SchemeTor: true, addr.SchemeSocks5TLS: true},
		MixedTransports:   map[addr.Scheme]addr.Scheme{addr.SchemeTCPTLS: addr.SchemeTor},
	})
	target := addr.Address{Scheme: addr.SchemeTCPTLS, Host: "example.com", Port: 26661}
	carrier, mixed, err := dialer.resolveCarrier(target)
	require.NoError(t, err)
	assert.True(t, mixed)
	assert.Equal(t, addr.SchemeTor, carrier)
}

func TestAcceptStreamCancelable(t *testing.T) {
	listenAddr := addr.Address{Scheme: addr.SchemeTCP, Host: "127.0.0.1", Port: 0}
	acc, err := Listen(listenAddr, nil, 0)
	require.NoError(t, err)
	defer acc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan error, 1)
	go func() {
		_, err := acc.AcceptStream(ctx)
		doneCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-doneCh:
		assert.True(t, errors.Is(err, errs.ErrCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("AcceptStream did not observe cancellation")
	}
}

func TestDialViaProxyNotConfigured(t *testing.T) {
	dialer := NewDialer(Config{
		AllowedTransports: map[addr.Scheme]bool{addr.SchemeTor: true},
	})
	target := addr.Address{Scheme: addr.SchemeTor, Host: "abcdefghijklmnop.onion", Port: 9050}
	_, err := dialer.Dial(context.Background(), target, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrProxyNotConfigured))
}
