package session

import (
	"context"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/darkrenaissance/darkfi-net/protocol"
	"github.com/sirupsen/logrus"
)

// Manual maintains a persistent outbound connection to each configured
// peer address, retrying with exponential-like backoff bounded by a
// timeout and an attempt limit (§4.5).
type Manual struct {
	Base
	addrs        []addr.Address
	dialTimeout  time.Duration
	attemptLimit int // 0 = unlimited
	log          *logrus.Entry
}

// NewManual constructs a Manual session over addrs.
func NewManual(host HostRef, addrs []addr.Address, dialTimeout time.Duration, attemptLimit int) *Manual {
	return &Manual{
		Base:         newBase(host),
		addrs:        addrs,
		dialTimeout:  dialTimeout,
		attemptLimit: attemptLimit,
		log:          logrus.WithField("component", "session.manual"),
	}
}

// Start launches one persistent-connection task per configured address.
func (m *Manual) Start() {
	for _, a := range m.addrs {
		go m.maintain(a)
	}
}

func (m *Manual) maintain(target addr.Address) {
	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for attempt := 0; m.attemptLimit == 0 || attempt < m.attemptLimit; attempt++ {
		select {
		case <-m.Context().Done():
			return
		default:
		}

		host, ok := m.resolveHost()
		if !ok {
			return
		}
		if host.IsBlacklisted(target) {
			m.log.WithError(errs.ErrBlacklisted).WithField("addr", target.String()).Warn("session.manual: target is blacklisted, not dialing")
			return
		}
		if host.IsChannelOpen(target) {
			if !sleepOrDone(m.Context(), backoff) {
				return
			}
			continue
		}

		if m.dialOnce(host, target) {
			attempt = -1 // reset attempt counter on a successful connection that later dropped
			backoff = time.Second
			continue
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if !sleepOrDone(m.Context(), backoff) {
			return
		}
	}
}

func (m *Manual) dialOnce(host Host, target addr.Address) bool {
	ctx, cancel := context.WithTimeout(m.Context(), m.dialTimeout)
	defer cancel()

	stream, err := host.Dialer().Dial(ctx, target, m.dialTimeout)
	if err != nil {
		host.HostList().ObserveFailure(target)
		return false
	}

	local := addr.Address{Scheme: target.Scheme, Host: "0.0.0.0", Port: 0}
	ch, err := establishChannel(m.Context(), host, stream, target, local, channel.DirectionOutbound, protocol.SessionManual)
	if err != nil {
		stream.Close()
		return false
	}
	host.HostList().ObserveSuccess(target)

	select {
	case <-ch.Done():
	case <-m.Context().Done():
	}
	host.RemoveChannel(target)
	ch.Stop()
	return true
}
