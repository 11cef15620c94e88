package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/errs"
)

// wrapTLS performs the TLS handshake bounded by ctx's deadline (set by the
// caller to channel_handshake_timeout, per §4.1) and returns the wrapped
// connection. Out-of-scope cryptographic material (certificates, trust
// roots) is supplied by the caller via Config.TLSConfig — this layer only
// drives the handshake.
func (d *Dialer) wrapTLS(ctx context.Context, raw net.Conn, target addr.Address) (net.Conn, error) {
	cfg := d.cfg.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{ServerName: target.Host}
	} else if cfg.ServerName == "" {
		clone := cfg.Clone()
		clone.ServerName = target.Host
		cfg = clone
	}

	tlsConn := tls.Client(raw, cfg)
	if deadline, ok := ctx.Deadline(); ok {
		tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTLSHandshakeFailed, err)
	}
	tlsConn.SetDeadline(noDeadline)
	return tlsConn, nil
}

// wrapTLSServer performs the server side of the handshake for an accepted
// inbound connection on a "+tls" listener.
func wrapTLSServer(ctx context.Context, raw net.Conn, cfg *tls.Config) (net.Conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no server TLS config", errs.ErrTLSHandshakeFailed)
	}
	tlsConn := tls.Server(raw, cfg)
	if deadline, ok := ctx.Deadline(); ok {
		tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTLSHandshakeFailed, err)
	}
	tlsConn.SetDeadline(noDeadline)
	return tlsConn, nil
}

// noDeadline clears the handshake-only deadline set above once the
// handshake completes, so steady-state reads/writes aren't bounded by it.
var noDeadline = time.Time{}
