package session

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/darkrenaissance/darkfi-net/protocol"
	"github.com/darkrenaissance/darkfi-net/transport"
	"github.com/sirupsen/logrus"
)

// Inbound listens on each configured address and accepts up to a
// configured number of concurrent channels, rejecting overflow with
// InboundFull and duplicate remote addresses with DuplicatePeer (§4.5).
type Inbound struct {
	Base
	addrs   []addr.Address
	maxConn int
	active  int64
	log     *logrus.Entry
}

// NewInbound constructs an Inbound session listening on addrs, accepting
// at most maxConn concurrent channels in total across all of them.
func NewInbound(host HostRef, addrs []addr.Address, maxConn int) *Inbound {
	return &Inbound{Base: newBase(host), addrs: addrs, maxConn: maxConn, log: logrus.WithField("component", "session.inbound")}
}

// Start opens a listener per configured address and launches its accept
// loop. Listeners that fail to bind are logged and skipped; the session
// continues serving whatever addresses did bind, and the bind errors are
// returned to the caller.
func (in *Inbound) Start() []error {
	host, ok := in.resolveHost()
	if !ok {
		return nil
	}

	var errsOut []error
	for _, a := range in.addrs {
		acc, err := host.Listen(a)
		if err != nil {
			in.log.WithError(err).WithField("addr", a.String()).Warn("session.inbound: listen failed")
			errsOut = append(errsOut, err)
			continue
		}
		go in.acceptLoop(host, a, acc)
	}
	return errsOut
}

func (in *Inbound) acceptLoop(host Host, listenAddr addr.Address, acc *transport.Acceptor) {
	go func() {
		<-in.Context().Done()
		acc.Close()
	}()

	for {
		stream, err := acc.AcceptStream(in.Context())
		if err != nil {
			return
		}
		go in.handleAccepted(host, listenAddr, stream)
	}
}

func (in *Inbound) handleAccepted(host Host, listenAddr addr.Address, stream transport.Stream) {
	remoteHost := stream.RemoteAddr().String()
	if h, _, err := net.SplitHostPort(remoteHost); err == nil {
		remoteHost = h
	}
	remoteAddr := addr.Address{Scheme: listenAddr.Scheme, Host: remoteHost, Port: listenAddr.Port}

	if atomic.AddInt64(&in.active, 1) > int64(in.maxConn) {
		atomic.AddInt64(&in.active, -1)
		in.log.WithField("remote", remoteAddr.String()).Warn("session.inbound: InboundFull")
		stream.Close()
		return
	}
	defer atomic.AddInt64(&in.active, -1)

	if host.IsBlacklisted(remoteAddr) {
		in.log.WithError(errs.ErrBlacklisted).WithField("remote", remoteAddr.String()).Warn("session.inbound: rejected blacklisted peer")
		stream.Close()
		return
	}

	ctx, cancel := context.WithCancel(in.Context())
	defer cancel()

	ch, err := establishChannel(ctx, host, stream, remoteAddr, listenAddr, channel.DirectionInbound, protocol.SessionInbound)
	if err != nil {
		// errs.ErrDuplicatePeer is the expected case (§4.5); any other
		// failure from establishChannel already closed the stream.
		in.log.WithError(err).WithField("remote", remoteAddr.String()).Debug("session.inbound: channel rejected")
		return
	}
	defer func() {
		host.RemoveChannel(remoteAddr)
		ch.Stop()
	}()

	select {
	case <-ch.Done():
	case <-in.Context().Done():
	}
}
