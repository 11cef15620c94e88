package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/errs"
	"golang.org/x/net/proxy"
)

// dialViaProxy tunnels a dial to target through the given SOCKS5 proxy
// endpoint, grounded on the teacher's transport/proxy.go ProxyTransport,
// which builds a golang.org/x/net/proxy.SOCKS5 dialer the same way. A nil
// proxyAddr means the scheme requires a proxy that was never configured.
func (d *Dialer) dialViaProxy(ctx context.Context, proxyAddr *addr.Address, target addr.Address) (net.Conn, error) {
	if proxyAddr == nil {
		return nil, fmt.Errorf("%w: no proxy configured for %q", errs.ErrProxyNotConfigured, target.Scheme)
	}

	dialer, err := proxy.SOCKS5("tcp", net.JoinHostPort(proxyAddr.Host, portString(proxyAddr.Port)), nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("%w: building socks5 dialer: %v", errs.ErrProxyError, err)
	}

	ctxDialer, ok := dialer.(proxy.ContextDialer)
	targetAddr := net.JoinHostPort(target.Host, portString(target.Port))
	if !ok {
		// proxy.SOCKS5 over proxy.Direct always implements ContextDialer in
		// the golang.org/x/net/proxy implementation; this branch exists so
		// a future non-context-aware proxy.Dialer doesn't silently ignore
		// cancellation.
		conn, err := dialer.Dial("tcp", targetAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrProxyError, err)
		}
		return conn, nil
	}

	conn, err := ctxDialer.DialContext(ctx, "tcp", targetAddr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrConnectTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrProxyError, err)
	}
	return conn, nil
}
