package session

import (
	"sync"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/config"
	"github.com/darkrenaissance/darkfi-net/hostlist"
	"github.com/darkrenaissance/darkfi-net/internal/weakref"
	"github.com/darkrenaissance/darkfi-net/protocol"
	"github.com/darkrenaissance/darkfi-net/transport"
	"github.com/darkrenaissance/darkfi-net/wire"
)

// fakeHost is a minimal in-memory session.Host used across session tests
// so each session type can be exercised without a real Supervisor. Dialing
// and listening go through real transport.Dialer/transport.Listen over
// loopback TCP, since the session layer's behavior under real connect
// success/failure is what these tests exercise.
type fakeHost struct {
	mu        sync.Mutex
	channels  map[string]*channel.Channel
	blacklist map[string]bool
	hostList  *hostlist.HostList
	reg       *wire.Registry
	protoReg  *protocol.Registry
	dialer    *transport.Dialer
	stopCh    chan struct{}
	settings  config.Settings

	lastAcceptor *transport.Acceptor // set by Listen, for tests to discover the bound port
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func newFakeHost() *fakeHost {
	return &fakeHost{
		channels:  make(map[string]*channel.Channel),
		blacklist: make(map[string]bool),
		hostList:  hostlist.New(hostlist.DefaultPolicy(), fakeClock{now: time.Unix(0, 0)}),
		reg:       wire.NewRegistry(),
		protoReg:  protocol.NewRegistry(),
		dialer: transport.NewDialer(transport.Config{
			AllowedTransports: map[addr.Scheme]bool{addr.SchemeTCP: true},
		}),
		stopCh:   make(chan struct{}),
		settings: config.Defaults(),
	}
}

func (h *fakeHost) Dialer() *transport.Dialer { return h.dialer }

func (h *fakeHost) Listen(a addr.Address) (*transport.Acceptor, error) {
	acc, err := transport.Listen(a, nil, 0)
	if err == nil {
		h.mu.Lock()
		h.lastAcceptor = acc
		h.mu.Unlock()
	}
	return acc, err
}

func (h *fakeHost) HostList() *hostlist.HostList { return h.hostList }

func (h *fakeHost) WireRegistry() *wire.Registry { return h.reg }

func (h *fakeHost) ProtocolRegistry() *protocol.Registry { return h.protoReg }

func (h *fakeHost) Settings() config.Settings { return h.settings }

func (h *fakeHost) AddChannel(ch *channel.Channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := ch.RemoteAddr.Key()
	if _, exists := h.channels[key]; exists {
		return false
	}
	h.channels[key] = ch
	return true
}

func (h *fakeHost) RemoveChannel(a addr.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, a.Key())
}

func (h *fakeHost) ChannelSnapshot() []*channel.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*channel.Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch)
	}
	return out
}

func (h *fakeHost) IsChannelOpen(a addr.Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.channels[a.Key()]
	return ok
}

func (h *fakeHost) IsBlacklisted(a addr.Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blacklist[a.Key()]
}

func (h *fakeHost) StopSignal() <-chan struct{} { return h.stopCh }

func (h *fakeHost) stop() { close(h.stopCh) }

// hostRef wraps a fakeHost (as a Host) in an Arena so it can hand out a
// HostRef, mirroring how the p2p Supervisor will expose itself.
func hostRef(h Host) HostRef {
	arena := weakref.NewArena[Host]()
	_, ref := arena.Put(&h)
	return ref
}

func mustAddress(host string, port int) addr.Address {
	return addr.Address{Scheme: addr.SchemeTCP, Host: host, Port: uint16(port)}
}
