package protocol

import (
	"context"
	"time"

	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/hostlist"
	"github.com/darkrenaissance/darkfi-net/wire"
	"github.com/sirupsen/logrus"
)

// AddrExchangeConfig parameterizes the GetAddr/Addr protocol (§4.4).
type AddrExchangeConfig struct {
	HostList *hostlist.HostList
	// IsSeed makes the protocol send getaddr once on attach and return
	// after the first round, rather than looping on a timer — matching
	// §4.5's "one getaddr/addr round, then disconnects" for Seed sessions.
	IsSeed bool
	// Interval is the timer period for non-Seed sessions, and the
	// one-round reply deadline for Seed sessions.
	Interval time.Duration
	// Rng shuffles the snapshot offered in response to getaddr; nil means
	// no shuffling (deterministic order).
	Rng func(n int) int
}

type addrExchangeProtocol struct {
	ch  *channel.Channel
	cfg AddrExchangeConfig
	log *logrus.Entry
}

// NewAddrExchangeFactory returns a Factory for the address-exchange
// protocol, attached to Seed, Inbound, and Outbound sessions (§4.4).
func NewAddrExchangeFactory(cfg AddrExchangeConfig) Factory {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return func(ch *channel.Channel) Protocol {
		return &addrExchangeProtocol{ch: ch, cfg: cfg, log: logrus.WithFields(logrus.Fields{
			"component": "protocol.addrexchange",
			"channel":   ch.ID.String(),
		})}
	}
}

func (p *addrExchangeProtocol) Run(ctx context.Context) error {
	getaddrSub := p.ch.Subscribe(wire.KindGetAddr, 4)
	addrSub := p.ch.Subscribe(wire.KindAddr, 4)

	if p.cfg.IsSeed {
		if err := p.ch.Send(wire.Message{Kind: wire.KindGetAddr}); err != nil {
			return err
		}
		return p.roundOnce(ctx, getaddrSub, addrSub)
	}
	return p.loop(ctx, getaddrSub, addrSub)
}

func (p *addrExchangeProtocol) roundOnce(ctx context.Context, getaddrSub, addrSub *channel.Subscription) error {
	deadline := time.NewTimer(p.cfg.Interval)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case d := <-getaddrSub.C():
			if d.Kind == channel.DeliveryMessage {
				p.respondGetAddr()
			}
		case d := <-addrSub.C():
			if d.Kind == channel.DeliveryMessage {
				p.handleAddr(d.Message.Payload)
				return nil
			}
			if d.Kind == channel.DeliveryEnd {
				return nil
			}
		}
	}
}

func (p *addrExchangeProtocol) loop(ctx context.Context, getaddrSub, addrSub *channel.Subscription) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = p.ch.Send(wire.Message{Kind: wire.KindGetAddr})
		case d := <-getaddrSub.C():
			if d.Kind == channel.DeliveryMessage {
				p.respondGetAddr()
			}
			if d.Kind == channel.DeliveryEnd {
				return nil
			}
		case d := <-addrSub.C():
			if d.Kind == channel.DeliveryMessage {
				p.handleAddr(d.Message.Payload)
			}
			if d.Kind == channel.DeliveryEnd {
				return nil
			}
		}
	}
}

func (p *addrExchangeProtocol) respondGetAddr() {
	snap := p.cfg.HostList.Snapshot(p.cfg.Rng)
	payload, err := wire.AddrPayload{Addrs: snap}.Marshal()
	if err != nil {
		p.log.WithError(err).Debug("protocol: failed to marshal addr snapshot")
		return
	}
	_ = p.ch.Send(wire.Message{Kind: wire.KindAddr, Payload: payload})
}

func (p *addrExchangeProtocol) handleAddr(payload []byte) {
	parsed, err := wire.UnmarshalAddrPayload(payload)
	if err != nil {
		p.log.WithError(err).Debug("protocol: dropping malformed addr payload")
		return
	}
	for _, a := range parsed.Addrs {
		p.cfg.HostList.Insert(a, hostlist.SourceAddrMsg)
	}
}
