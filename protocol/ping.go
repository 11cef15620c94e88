package protocol

import (
	"context"
	"time"

	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/darkrenaissance/darkfi-net/wire"
	"github.com/sirupsen/logrus"
)

// PingConfig parameterizes the heartbeat protocol (§4.3/§4.4).
type PingConfig struct {
	// Interval between outgoing pings. A channel with no pong within 2x
	// Interval is stopped with errs.ErrHeartbeatTimeout.
	Interval time.Duration
	Now      func() time.Time
}

type pingProtocol struct {
	ch  *channel.Channel
	cfg PingConfig
	log *logrus.Entry
}

// NewPingFactory returns a Factory for the Ping/Pong heartbeat, attached
// post-handshake to every session kind except Seed (§4.4). Both directions
// run the same protocol: each side sends pings on its own ticker and
// answers incoming pings with a pong, so the heartbeat detects a stalled
// peer regardless of which side is "quieter".
func NewPingFactory(cfg PingConfig) Factory {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return func(ch *channel.Channel) Protocol {
		return &pingProtocol{ch: ch, cfg: cfg, log: logrus.WithFields(logrus.Fields{
			"component": "protocol.ping",
			"channel":   ch.ID.String(),
		})}
	}
}

func (p *pingProtocol) Run(ctx context.Context) error {
	pingSub := p.ch.Subscribe(wire.KindPing, 16)
	pongSub := p.ch.Subscribe(wire.KindPong, 16)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	lastPong := p.cfg.Now()
	var nonce uint64

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if p.cfg.Now().Sub(lastPong) > 2*p.cfg.Interval {
				p.log.Warn("protocol: heartbeat timeout")
				p.ch.Stop()
				return errs.ErrHeartbeatTimeout
			}
			nonce++
			payload, err := wire.PingPayload{Nonce: nonce}.Marshal()
			if err != nil {
				return err
			}
			if err := p.ch.Send(wire.Message{Kind: wire.KindPing, Payload: payload}); err != nil {
				return nil
			}

		case d := <-pingSub.C():
			if d.Kind != channel.DeliveryMessage {
				if d.Kind == channel.DeliveryEnd {
					return nil
				}
				continue
			}
			in, err := wire.UnmarshalPingPayload(d.Message.Payload)
			if err != nil {
				continue
			}
			out, err := wire.PongPayload{Nonce: in.Nonce}.Marshal()
			if err != nil {
				continue
			}
			_ = p.ch.Send(wire.Message{Kind: wire.KindPong, Payload: out})

		case d := <-pongSub.C():
			if d.Kind == channel.DeliveryEnd {
				return nil
			}
			if d.Kind == channel.DeliveryMessage {
				lastPong = p.cfg.Now()
			}
		}
	}
}
