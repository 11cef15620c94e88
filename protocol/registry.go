// Package protocol implements §4.4 of the spec: binding protocols to newly
// established channels according to the session kind that owns them, plus
// the two built-in protocols — Version handshake and Ping/Pong heartbeat —
// and address exchange (GetAddr/Addr).
//
// The registry's mask-based factory dispatch generalizes
// opd-ai-toxcore/dht/bootstrap.go's BootstrapManager, which negotiates a
// protocol version per peer (VersionedHandshakeManager, ProtocolVersion)
// and keeps a table of per-peer protocol state; here that becomes a
// declarative "which session kinds get which protocol" registration
// resolved once at Attach time instead of imperative per-peer branching.
package protocol

import (
	"context"
	"sort"
	"sync"

	"github.com/darkrenaissance/darkfi-net/channel"
)

// SessionKind identifies which session variety (§1/§4.5) a channel belongs
// to, for the purpose of deciding which protocols attach to it.
type SessionKind uint8

const (
	SessionSeed SessionKind = 1 << iota
	SessionManual
	SessionInbound
	SessionOutbound
	SessionDirect
)

// SessionMask is a set of SessionKinds, supporting the union/complement
// algebra §4.4 calls for.
type SessionMask uint8

// AllSessions is the mask matching every session kind.
const AllSessions SessionMask = SessionMask(SessionSeed | SessionManual | SessionInbound | SessionOutbound | SessionDirect)

// Mask builds a mask from individual kinds.
func Mask(kinds ...SessionKind) SessionMask {
	var m SessionMask
	for _, k := range kinds {
		m |= SessionMask(k)
	}
	return m
}

// Union returns the set union of masks.
func (m SessionMask) Union(other SessionMask) SessionMask { return m | other }

// Complement returns every session kind not in m.
func (m SessionMask) Complement() SessionMask { return AllSessions &^ m }

// Includes reports whether kind is a member of the mask.
func (m SessionMask) Includes(kind SessionKind) bool { return m&SessionMask(kind) != 0 }

// Protocol is one attached behavior on a channel. Run performs the
// protocol's work and returns when the protocol is done — for a one-shot
// exchange (Version) that's after the handshake completes; for a
// long-running protocol (Ping, address exchange on non-Seed sessions) that
// is only when ctx is canceled or the channel fails. A non-nil error from
// a long-running protocol's Run stops the owning channel, not the session
// (§4.4 failure policy).
type Protocol interface {
	Run(ctx context.Context) error
}

// Factory constructs a Protocol bound to ch for a channel that belongs to
// a session of the given kind.
type Factory func(ch *channel.Channel) Protocol

type registration struct {
	mask     SessionMask
	factory  Factory
	name     string
	blocking bool // must complete (not just start) before later protocols attach
}

// Registry holds the set of registered protocol factories together with
// the session masks that activate them (§4.4 register/attach).
type Registry struct {
	mu   sync.RWMutex
	regs []registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds factory under name, activated for every session kind in
// mask. blocking factories (the Version handshake) run to completion
// before any non-blocking factory is started for the same Attach call, per
// §4.3's "the handshake must complete before any other protocol is
// attached".
func (r *Registry) Register(name string, mask SessionMask, factory Factory, blocking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = append(r.regs, registration{mask: mask, factory: factory, name: name, blocking: blocking})
}

// Attach instantiates and runs every registered factory whose mask
// includes kind, against ch. Blocking factories run synchronously, in
// registration order, before any non-blocking factory is started; a
// failing blocking factory aborts the remaining attach and returns the
// error (the caller is expected to stop the channel). Non-blocking
// factories are started in background goroutines tied to ctx; callers
// typically derive ctx so it is canceled when the channel stops.
func (r *Registry) Attach(ctx context.Context, ch *channel.Channel, kind SessionKind) error {
	r.mu.RLock()
	matched := make([]registration, 0, len(r.regs))
	for _, reg := range r.regs {
		if reg.mask.Includes(kind) {
			matched = append(matched, reg)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].blocking && !matched[j].blocking
	})

	for _, reg := range matched {
		proto := reg.factory(ch)
		if reg.blocking {
			if err := proto.Run(ctx); err != nil {
				return err
			}
			continue
		}
		go func(p Protocol) {
			if err := p.Run(ctx); err != nil {
				ch.Stop()
			}
		}(proto)
	}
	return nil
}
