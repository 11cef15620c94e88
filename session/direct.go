package session

import (
	"context"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/protocol"
	"github.com/sirupsen/logrus"
)

// Direct makes a single one-shot connection attempt to a supplied address.
// Unlike Manual it never retries: a failed dial or a channel that later
// drops simply ends the session (§4.5).
type Direct struct {
	Base
	target      addr.Address
	dialTimeout time.Duration
	log         *logrus.Entry
}

// NewDirect constructs a Direct session targeting a single address.
func NewDirect(host HostRef, target addr.Address, dialTimeout time.Duration) *Direct {
	return &Direct{
		Base:        newBase(host),
		target:      target,
		dialTimeout: dialTimeout,
		log:         logrus.WithField("component", "session.direct"),
	}
}

// Run dials the target once, waits for the resulting channel to close (or
// for the session to be stopped), and returns. It never reconnects.
func (d *Direct) Run() error {
	host, ok := d.resolveHost()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(d.Context(), d.dialTimeout)
	defer cancel()

	stream, err := host.Dialer().Dial(ctx, d.target, d.dialTimeout)
	if err != nil {
		host.HostList().ObserveFailure(d.target)
		d.log.WithError(err).WithField("addr", d.target.String()).Warn("session.direct: dial failed")
		return err
	}

	local := addr.Address{Scheme: d.target.Scheme, Host: "0.0.0.0", Port: 0}
	ch, err := establishChannel(d.Context(), host, stream, d.target, local, channel.DirectionOutbound, protocol.SessionDirect)
	if err != nil {
		stream.Close()
		return err
	}
	defer func() {
		host.RemoveChannel(d.target)
		ch.Stop()
	}()
	host.HostList().ObserveSuccess(d.target)

	select {
	case <-ch.Done():
	case <-d.Context().Done():
	}
	return nil
}
