package channel

import (
	"sync"

	"github.com/darkrenaissance/darkfi-net/wire"
)

// DefaultBufferSize is the per-subscriber buffer depth (§4.3: "a bounded
// buffer (default 64 messages)").
const DefaultBufferSize = 64

// DeliveryKind distinguishes the three things a subscriber can observe, per
// §4.3/§8: an actual message, a gap notification, or channel shutdown.
type DeliveryKind int

const (
	DeliveryMessage DeliveryKind = iota
	DeliveryLagged
	DeliveryEnd
)

// Delivery is what a subscriber reads off its channel. Exactly one of
// Message/Lagged is meaningful, selected by Kind.
type Delivery struct {
	Kind    DeliveryKind
	Message wire.Message
	Lagged  int
}

// Subscription is a single subscriber's bounded mailbox for one message
// kind on one Channel. The sequence it observes is a prefix of the
// remote's send sequence for that kind, interleaved only with Lagged
// sentinels (§8 invariant).
type Subscription struct {
	mu      sync.Mutex
	ch      chan Delivery
	pending int // messages dropped since the last Lagged delivery
	closed  bool
}

func newSubscription(bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Subscription{ch: make(chan Delivery, bufSize)}
}

// C returns the channel to receive deliveries from.
func (s *Subscription) C() <-chan Delivery {
	return s.ch
}

// deliver attempts a non-blocking send of msg. If the subscriber's buffer
// is full, the message is dropped and the subscriber's lag counter is
// incremented rather than blocking the channel's single reader goroutine
// (§4.3/§8: "a slow subscriber receives Lagged(n) ... never block the
// reader beyond a bounded buffer").
func (s *Subscription) deliver(msg wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.pending > 0 {
		select {
		case s.ch <- Delivery{Kind: DeliveryLagged, Lagged: s.pending}:
			s.pending = 0
		default:
			s.pending++
			return
		}
	}

	select {
	case s.ch <- Delivery{Kind: DeliveryMessage, Message: msg}:
	default:
		s.pending++
	}
}

// end delivers the terminal End sentinel and marks the subscription
// closed; further deliver calls are no-ops.
func (s *Subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case s.ch <- Delivery{Kind: DeliveryEnd}:
	default:
		// Buffer full of undelivered messages; drop them in favor of the
		// terminal sentinel so the subscriber isn't stuck waiting on a
		// channel that will never receive anything else. Drain one slot
		// to guarantee room — this is the only place the reader side is
		// touched from the writer, and it is safe because deliver() is a
		// no-op once closed is true.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- Delivery{Kind: DeliveryEnd}
	}
}
