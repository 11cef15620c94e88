// Package channel implements §4.3 of the spec: one established
// bidirectional connection, framed with the wire package's envelope codec,
// dispatching received messages to per-kind subscribers.
//
// The subscriber-table idiom (a map guarded by its own lock, looked up by
// a stable key on every delivery) is grounded on
// opd-ai-toxcore/net/callback_router.go's callbackRouter, generalized from
// routing by friendID to a single Tox callback into routing by message
// kind to N independent bounded mailboxes. The weak session_ref is
// internal/weakref's Arena/Ref, per §9's design note.
package channel

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/darkrenaissance/darkfi-net/internal/weakref"
	"github.com/darkrenaissance/darkfi-net/wire"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Direction records which side initiated the connection (§3).
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

func (d Direction) String() string {
	if d == DirectionInbound {
		return "inbound"
	}
	return "outbound"
}

// Channel is one established connection: a framed stream, a dispatch
// table of per-kind subscribers, and a stop signal. Created when a stream
// is obtained; destroyed on Stop. At most one Channel exists per remote
// address across the process — that uniqueness is enforced by the
// session/supervisor layer that constructs channels, not by Channel
// itself.
type Channel struct {
	ID         uuid.UUID
	RemoteAddr addr.Address
	LocalAddr  addr.Address
	Direction  Direction

	stream   io.ReadWriteCloser
	registry *wire.Registry

	mu          sync.RWMutex
	subscribers map[string][]*Subscription // kind -> subscribers
	stopped     bool
	stopCh      chan struct{}
	stopOnce    sync.Once

	sessionRef *weakref.Ref[any]

	writeMu sync.Mutex

	log *logrus.Entry

	readerDone chan struct{}
}

// New constructs a Channel over an already-established stream. It does not
// start the reader loop; call Start for that.
func New(stream io.ReadWriteCloser, remote, local addr.Address, dir Direction, reg *wire.Registry, sessionRef *weakref.Ref[any]) *Channel {
	id := uuid.New()
	return &Channel{
		ID:          id,
		RemoteAddr:  remote,
		LocalAddr:   local,
		Direction:   dir,
		stream:      stream,
		registry:    reg,
		subscribers: make(map[string][]*Subscription),
		stopCh:      make(chan struct{}),
		sessionRef:  sessionRef,
		readerDone:  make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "channel",
			"channel":   id.String(),
			"remote":    remote.String(),
			"direction": dir.String(),
		}),
	}
}

// Subscribe registers a new subscription for kind and returns it. Multiple
// subscribers may register for the same kind; every active subscriber of
// that kind receives every message of that kind (§4.3: "delivered to every
// active subscriber of that kind").
func (c *Channel) Subscribe(kind string, bufSize int) *Subscription {
	sub := newSubscription(bufSize)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		sub.end()
		return sub
	}
	c.subscribers[kind] = append(c.subscribers[kind], sub)
	return sub
}

// Start launches the reader task that decodes envelopes off the stream and
// dispatches them to subscribers. Per §4.3, messages observed by one
// subscriber are strictly FIFO in remote send order — this holds because a
// single goroutine reads the stream and delivers synchronously per
// message before reading the next.
func (c *Channel) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.readerDone)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		msg, err := wire.Decode(c.stream, c.registry)
		if err != nil {
			if errors.Is(err, errs.ErrUnknownMessageKind) {
				c.log.WithError(err).Debug("channel: ignoring unknown message kind")
				continue
			}
			c.log.WithError(err).Debug("channel: reader stopping")
			c.Stop()
			return
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg wire.Message) {
	c.mu.RLock()
	subs := c.subscribers[msg.Kind]
	// Copy the slice header under the lock; Subscription itself has its
	// own internal lock, so delivery happens outside c.mu.
	targets := make([]*Subscription, len(subs))
	copy(targets, subs)
	c.mu.RUnlock()

	for _, s := range targets {
		s.deliver(msg)
	}
}

// Send encodes and writes msg to the stream. Concurrent Send calls from
// multiple protocols are serialized so envelopes never interleave.
func (c *Channel) Send(msg wire.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.Encode(c.stream, c.registry, msg)
}

// Stop closes the stream, cancels the reader, and wakes every subscriber
// with an End sentinel (§4.3). Idempotent.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		allSubs := make([]*Subscription, 0)
		for _, subs := range c.subscribers {
			allSubs = append(allSubs, subs...)
		}
		c.mu.Unlock()

		close(c.stopCh)
		c.stream.Close()

		for _, s := range allSubs {
			s.end()
		}
		c.log.Debug("channel: stopped")
	})
}

// Stopped reports whether Stop has been called.
func (c *Channel) Stopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// Done returns a channel closed once the reader loop has exited, useful
// for tests and for callers that want to wait for full teardown.
func (c *Channel) Done() <-chan struct{} {
	return c.readerDone
}

// WaitStopped blocks until the reader loop exits or the timeout elapses.
func (c *Channel) WaitStopped(timeout time.Duration) bool {
	select {
	case <-c.readerDone:
		return true
	case <-time.After(timeout):
		return false
	}
}
