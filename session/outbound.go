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

// Outbound maintains a fixed number of outbound connection slots, each
// independently picking an address from the host list, dialing it, and
// reconnecting on failure after a cooloff (§4.5). It also owns the single
// Discovery task (§4.7).
type Outbound struct {
	Base
	slots               int
	goldConnectCount    int
	whiteConnectPercent float64
	dialTimeout         time.Duration
	cooloff             time.Duration
	discovery           *Discovery
	log                 *logrus.Entry
}

// OutboundConfig groups the tunables an Outbound session needs.
type OutboundConfig struct {
	Slots               int
	GoldConnectCount    int
	WhiteConnectPercent float64
	DialTimeout         time.Duration
	Cooloff             time.Duration
	SeedAddrs           []addr.Address
	SeedQueryTimeout    time.Duration
}

// NewOutbound constructs an Outbound session and its attached Discovery
// task.
func NewOutbound(host HostRef, cfg OutboundConfig) *Outbound {
	return &Outbound{
		Base:                newBase(host),
		slots:               cfg.Slots,
		goldConnectCount:    cfg.GoldConnectCount,
		whiteConnectPercent: cfg.WhiteConnectPercent,
		dialTimeout:         cfg.DialTimeout,
		cooloff:             cfg.Cooloff,
		discovery:           NewDiscovery(host, cfg.Cooloff, cfg.SeedAddrs, cfg.SeedQueryTimeout),
		log:                 logrus.WithField("component", "session.outbound"),
	}
}

// Start launches every slot's loop plus the shared discovery task.
func (o *Outbound) Start() {
	go o.discovery.Run()
	for i := 0; i < o.slots; i++ {
		go o.slotLoop(i)
	}
}

func (o *Outbound) slotLoop(slot int) {
	starvedSince := time.Time{}

	for {
		select {
		case <-o.Context().Done():
			return
		default:
		}

		host, ok := o.resolveHost()
		if !ok {
			return
		}

		exclude := make(map[string]bool)
		for _, ch := range host.ChannelSnapshot() {
			exclude[ch.RemoteAddr.Key()] = true
		}

		candidates := host.HostList().Select(1, o.goldConnectCount, o.whiteConnectPercent, exclude)
		target, found := o.pickNonBlacklisted(host, candidates)
		if !found {
			if starvedSince.IsZero() {
				starvedSince = time.Now()
			} else if time.Since(starvedSince) >= o.cooloff {
				o.discovery.RequestRound()
				starvedSince = time.Time{}
			}
			if !sleepOrDone(o.Context(), time.Second) {
				return
			}
			continue
		}
		starvedSince = time.Time{}

		if o.dialOnce(host, target) {
			continue
		}
		if !sleepOrDone(o.Context(), o.cooloff) {
			return
		}
	}
}

func (o *Outbound) pickNonBlacklisted(host Host, candidates []addr.Address) (addr.Address, bool) {
	for _, c := range candidates {
		if host.IsBlacklisted(c) {
			o.log.WithError(errs.ErrBlacklisted).WithField("addr", c.String()).Debug("session.outbound: skipping blacklisted candidate")
			continue
		}
		return c, true
	}
	return addr.Address{}, false
}

func (o *Outbound) dialOnce(host Host, target addr.Address) bool {
	ctx, cancel := context.WithTimeout(o.Context(), o.dialTimeout)
	defer cancel()

	stream, err := host.Dialer().Dial(ctx, target, o.dialTimeout)
	if err != nil {
		host.HostList().ObserveFailure(target)
		return false
	}

	local := addr.Address{Scheme: target.Scheme, Host: "0.0.0.0", Port: 0}
	ch, err := establishChannel(o.Context(), host, stream, target, local, channel.DirectionOutbound, protocol.SessionOutbound)
	if err != nil {
		stream.Close()
		host.HostList().ObserveFailure(target)
		return false
	}
	host.HostList().ObserveSuccess(target)

	select {
	case <-ch.Done():
	case <-o.Context().Done():
	}
	host.RemoveChannel(target)
	ch.Stop()
	return true
}
