package session

import (
	"context"
	"math/rand"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/hostlist"
	"github.com/darkrenaissance/darkfi-net/wire"
	"github.com/sirupsen/logrus"
)

// Discovery is the single peer-discovery task started alongside the
// Outbound session (§4.7): it keeps the host list fresh by either running
// an ad hoc Seed round (when nothing is connected and the host list is
// empty) or asking a random established channel for its address book.
type Discovery struct {
	Base
	cooloff          time.Duration
	seedAddrs        []addr.Address
	seedQueryTimeout time.Duration

	// trigger lets a starved Outbound slot request an immediate round
	// instead of waiting out the rest of the current cooloff sleep.
	trigger chan struct{}
	log     *logrus.Entry
}

// NewDiscovery constructs the discovery task.
func NewDiscovery(host HostRef, cooloff time.Duration, seedAddrs []addr.Address, seedQueryTimeout time.Duration) *Discovery {
	return &Discovery{
		Base:             newBase(host),
		cooloff:          cooloff,
		seedAddrs:        seedAddrs,
		seedQueryTimeout: seedQueryTimeout,
		trigger:          make(chan struct{}, 1),
		log:              logrus.WithField("component", "session.discovery"),
	}
}

// RequestRound asks the discovery loop to run one round as soon as
// possible, without waiting for the rest of its current sleep (§4.5:
// "If the host list cannot satisfy a slot for a full cooloff period, the
// slot triggers a peer-discovery round").
func (d *Discovery) RequestRound() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run loops until the session is stopped, alternating between seed
// bootstrap (when disconnected and empty) and getaddr rounds against an
// established channel (§4.7).
func (d *Discovery) Run() {
	for {
		host, ok := d.resolveHost()
		if !ok {
			return
		}
		d.round(host)

		if !d.sleepUntilTriggerOrCooloff() {
			return
		}
	}
}

func (d *Discovery) round(host Host) {
	channels := host.ChannelSnapshot()
	if len(channels) == 0 {
		if host.HostList().Len() == 0 && len(d.seedAddrs) > 0 {
			seed := NewSeed(d.host, d.seedAddrs, d.seedQueryTimeout)
			if err := seed.Run(); err != nil {
				d.log.WithError(err).Debug("session.discovery: ad hoc seed round failed")
			}
		}
		return
	}

	target := channels[rand.Intn(len(channels))]
	ctx, cancel := context.WithTimeout(d.Context(), d.cooloff)
	defer cancel()

	sub := target.Subscribe(wire.KindAddr, 4)
	if err := target.Send(wire.Message{Kind: wire.KindGetAddr}); err != nil {
		return
	}

	// Edge case (§4.7): no response within one cooloff period does not
	// fault the channel; the loop simply proceeds.
	select {
	case delivery := <-sub.C():
		if delivery.Kind != channel.DeliveryMessage {
			return
		}
		parsed, err := wire.UnmarshalAddrPayload(delivery.Message.Payload)
		if err != nil {
			return
		}
		for _, a := range parsed.Addrs {
			host.HostList().Insert(a, hostlist.SourceAddrMsg)
		}
	case <-ctx.Done():
	}
}

func (d *Discovery) sleepUntilTriggerOrCooloff() bool {
	timer := time.NewTimer(d.cooloff)
	defer timer.Stop()
	select {
	case <-d.trigger:
		return true
	case <-timer.C:
		return true
	case <-d.Context().Done():
		return false
	}
}
