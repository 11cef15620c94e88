// Package session implements §4.5: the five connection-acquisition
// policies (Seed, Manual, Inbound, Outbound, Direct) that turn addresses
// into established, protocol-attached channels.
//
// Every session holds a weak reference to its supervisor rather than an
// owning pointer, per §9's redesign note; Host is the narrow interface a
// session actually needs, implemented by the p2p package's Supervisor and
// handed to sessions as a weakref.Ref[Host] so the import graph stays
// acyclic (sessions never import the p2p package). The per-session task
// bookkeeping (a cancelable context chained from the supervisor's stop
// signal) is grounded on
// opd-ai-toxcore/dht/bootstrap.go's BootstrapManager, which tracks
// in-flight bootstrap attempts and a shared cancellation signal the same
// way.
package session

import (
	"context"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/config"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/darkrenaissance/darkfi-net/hostlist"
	"github.com/darkrenaissance/darkfi-net/internal/weakref"
	"github.com/darkrenaissance/darkfi-net/protocol"
	"github.com/darkrenaissance/darkfi-net/transport"
	"github.com/darkrenaissance/darkfi-net/wire"
)

// Host is everything a session needs from its supervisor (§4.6): dialing
// and listening, the shared host list and registries, the channel-set
// invariant ("address -> channel, no duplicates"), and blacklist checks.
// Supervisor implements this; sessions only ever see it through a weak
// Ref so a session outliving its supervisor observes that as Cancelled
// rather than keeping the supervisor alive.
type Host interface {
	Dialer() *transport.Dialer
	Listen(a addr.Address) (*transport.Acceptor, error)
	HostList() *hostlist.HostList
	WireRegistry() *wire.Registry
	ProtocolRegistry() *protocol.Registry
	Settings() config.Settings
	// AddChannel registers ch under its remote address, enforcing the
	// §4.6 invariant that the channel set is a function address->channel.
	// Returns false (and does not register) if the address is already
	// present.
	AddChannel(ch *channel.Channel) bool
	RemoveChannel(a addr.Address)
	ChannelSnapshot() []*channel.Channel
	IsChannelOpen(a addr.Address) bool
	IsBlacklisted(a addr.Address) bool
	StopSignal() <-chan struct{}
}

// HostRef is a weak reference to a Host, per §9.
type HostRef = *weakref.Ref[Host]

// Base holds the scaffolding every session shares (§4.5): a weak
// supervisor reference, a stop signal chained from it, and task tracking
// via a cancelable context.
type Base struct {
	host   HostRef
	ctx    context.Context
	cancel context.CancelFunc
}

func newBase(host HostRef) Base {
	ctx, cancel := context.WithCancel(context.Background())
	b := Base{host: host, ctx: ctx, cancel: cancel}
	if host != nil {
		if h, ok := host.Resolve(); ok {
			go func() {
				select {
				case <-(*h).StopSignal():
					cancel()
				case <-ctx.Done():
				}
			}()
		}
	}
	return b
}

// Stop cancels every task this session owns. Idempotent.
func (b *Base) Stop() { b.cancel() }

// Context is the cancelable context tasks should select on.
func (b *Base) Context() context.Context { return b.ctx }

// resolveHost upgrades the weak reference or reports the session should
// exit as if cancelled (§9).
func (b *Base) resolveHost() (Host, bool) {
	if b.host == nil {
		return nil, false
	}
	h, ok := b.host.Resolve()
	if !ok {
		return nil, false
	}
	return *h, true
}

// attachProtocols runs protocol.Registry.Attach for ch under kind, tied to
// the session's context so protocols stop when the session stops.
func attachProtocols(ctx context.Context, host Host, ch *channel.Channel, kind protocol.SessionKind) error {
	return host.ProtocolRegistry().Attach(ctx, ch, kind)
}

// establishChannel wraps a freshly obtained stream in a Channel, registers
// it with the host's channel set (rejecting duplicates per §4.6), starts
// its reader, and attaches protocols for kind. On any failure the stream
// is closed and the channel (if created) is stopped.
func establishChannel(ctx context.Context, host Host, stream channelStream, remote, local addr.Address, dir channel.Direction, kind protocol.SessionKind) (*channel.Channel, error) {
	ch := channel.New(stream, remote, local, dir, host.WireRegistry(), nil)
	if !host.AddChannel(ch) {
		ch.Stop()
		return nil, errs.ErrDuplicatePeer
	}
	ch.Start(ctx)
	if err := attachProtocols(ctx, host, ch, kind); err != nil {
		host.RemoveChannel(remote)
		ch.Stop()
		return nil, err
	}
	return ch, nil
}

// channelStream is the minimal shape establishChannel needs from a dialed
// or accepted stream; transport.Stream (net.Conn) satisfies it.
type channelStream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// sleepOrDone waits for d or ctx cancellation, returning false if canceled
// first. Grounded on the cooperative-cancellation idiom used across
// transport's AcceptStream.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
