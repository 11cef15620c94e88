package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/sirupsen/logrus"
)

const defaultHandshakeTimeout = 10 * time.Second

// Listen opens an Acceptor on listenAddr. Listen always uses the literal
// scheme (§4.1: "listen always uses the literal scheme" — no mixing).
// Pure outbound schemes fail with errs.ErrSchemeNotListenable.
func Listen(listenAddr addr.Address, tlsConfig *tls.Config, handshakeTimeout time.Duration) (*Acceptor, error) {
	if !listenAddr.Scheme.Listenable() {
		return nil, fmt.Errorf("%w: %q", errs.ErrSchemeNotListenable, listenAddr.Scheme)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(listenAddr.Host, portString(listenAddr.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBindFailed, err)
	}

	return &Acceptor{
		ln:               ln,
		scheme:           listenAddr.Scheme,
		tlsConfig:        tlsConfig,
		handshakeTimeout: handshakeTimeout,
		log:              logrus.WithFields(logrus.Fields{"component": "transport.acceptor", "listen_addr": listenAddr.String()}),
	}, nil
}

// AcceptStream blocks until a new Stream arrives or ctx is cancelled.
// net.Listener.Accept has no context support, so cancellation follows the
// pattern the corpus's socket-accepting code generally uses (see the
// teacher's transport/tcp.go acceptConnections): Accept runs in a
// goroutine, raced against ctx.Done(), and the listener is closed to
// unblock a pending Accept on shutdown.
func (a *Acceptor) AcceptStream(ctx context.Context) (Stream, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := a.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		a.ln.Close()
		<-ch // wait for the Accept goroutine to unblock and exit
		return nil, errs.ErrCancelled
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrBindFailed, r.err)
		}
		if a.scheme.IsTLS() {
			timeout := a.handshakeTimeout
			if timeout == 0 {
				timeout = defaultHandshakeTimeout
			}
			hsCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			tlsConn, err := wrapTLSServer(hsCtx, r.conn, a.tlsConfig)
			if err != nil {
				r.conn.Close()
				a.log.WithError(err).Warn("inbound tls handshake failed")
				return nil, err
			}
			return tlsConn, nil
		}
		return r.conn, nil
	}
}

// Addr returns the Acceptor's bound local address.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// Close shuts the Acceptor down, unblocking any in-flight AcceptStream call.
func (a *Acceptor) Close() error { return a.ln.Close() }
