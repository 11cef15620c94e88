package protocol

import (
	"context"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/darkrenaissance/darkfi-net/wire"
	"github.com/sirupsen/logrus"
)

// VersionConfig parameterizes the Version handshake protocol (§4.3).
type VersionConfig struct {
	ProtocolVersion  uint32
	NodeID           string
	Services         uint64
	ExternalAddrs    []addr.Address
	HandshakeTimeout time.Duration
	Now              func() time.Time

	// OnComplete is invoked with the peer's version payload once the
	// handshake succeeds, before Run returns. May be nil.
	OnComplete func(remote wire.VersionPayload)
}

// versionProtocol runs the §4.3 handshake: both sides exchange version,
// then verack; it must complete before any other protocol attaches
// (enforced by Registry.Attach treating it as blocking).
type versionProtocol struct {
	ch  *channel.Channel
	cfg VersionConfig
	log *logrus.Entry
}

// NewVersionFactory returns a Factory for the Version handshake protocol,
// grounded on opd-ai-toxcore/dht/bootstrap.go's
// VersionedHandshakeManager/ProtocolVersion negotiation, simplified from
// per-peer negotiated versions to a single required exact match (§4.3 does
// not call for backward-compatible version ranges).
func NewVersionFactory(cfg VersionConfig) Factory {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return func(ch *channel.Channel) Protocol {
		return &versionProtocol{ch: ch, cfg: cfg, log: logrus.WithFields(logrus.Fields{
			"component": "protocol.version",
			"channel":   ch.ID.String(),
		})}
	}
}

func (p *versionProtocol) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HandshakeTimeout)
	defer cancel()

	versionSub := p.ch.Subscribe(wire.KindVersion, 4)
	verackSub := p.ch.Subscribe(wire.KindVerack, 4)

	ours := wire.VersionPayload{
		ProtocolVersion: p.cfg.ProtocolVersion,
		NodeID:          p.cfg.NodeID,
		Services:        p.cfg.Services,
		ExternalAddrs:   p.cfg.ExternalAddrs,
		Timestamp:       p.cfg.Now().Unix(),
	}
	payload, err := ours.Marshal()
	if err != nil {
		return err
	}
	if err := p.ch.Send(wire.Message{Kind: wire.KindVersion, Payload: payload}); err != nil {
		return err
	}

	remote, err := p.awaitVersion(ctx, versionSub)
	if err != nil {
		return err
	}
	if remote.ProtocolVersion != p.cfg.ProtocolVersion {
		return errs.ErrProtocolVersionMismatch
	}

	if err := p.ch.Send(wire.Message{Kind: wire.KindVerack, Payload: nil}); err != nil {
		return err
	}

	if err := p.awaitVerack(ctx, verackSub); err != nil {
		return err
	}

	p.log.WithField("remote_node_id", remote.NodeID).Debug("protocol: handshake complete")
	if p.cfg.OnComplete != nil {
		p.cfg.OnComplete(remote)
	}
	return nil
}

func (p *versionProtocol) awaitVersion(ctx context.Context, sub *channel.Subscription) (wire.VersionPayload, error) {
	for {
		select {
		case d := <-sub.C():
			switch d.Kind {
			case channel.DeliveryMessage:
				return wire.UnmarshalVersionPayload(d.Message.Payload)
			case channel.DeliveryEnd:
				return wire.VersionPayload{}, errs.ErrHandshakeTimeout
			case channel.DeliveryLagged:
				continue
			}
		case <-ctx.Done():
			return wire.VersionPayload{}, errs.ErrHandshakeTimeout
		}
	}
}

func (p *versionProtocol) awaitVerack(ctx context.Context, sub *channel.Subscription) error {
	for {
		select {
		case d := <-sub.C():
			switch d.Kind {
			case channel.DeliveryMessage:
				return nil
			case channel.DeliveryEnd:
				return errs.ErrHandshakeTimeout
			case channel.DeliveryLagged:
				continue
			}
		case <-ctx.Done():
			return errs.ErrHandshakeTimeout
		}
	}
}
