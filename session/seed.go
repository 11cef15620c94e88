package session

import (
	"context"
	"sync"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/darkrenaissance/darkfi-net/channel"
	"github.com/darkrenaissance/darkfi-net/errs"
	"github.com/darkrenaissance/darkfi-net/hostlist"
	"github.com/darkrenaissance/darkfi-net/protocol"
)

// Seed dials every configured seed address in parallel, performs a
// handshake and one getaddr/addr round on each, then disconnects (§4.5).
type Seed struct {
	Base
	addrs   []addr.Address
	timeout time.Duration
}

// NewSeed constructs a Seed session over addrs.
func NewSeed(host HostRef, addrs []addr.Address, queryTimeout time.Duration) *Seed {
	return &Seed{Base: newBase(host), addrs: addrs, timeout: queryTimeout}
}

// Run dials every seed address in parallel and blocks until all attempts
// finish or the session is stopped. It returns errs.ErrNetworkReseedFailed
// only when every seed failed and the host list remains empty (§4.5):
// that combination is the only fatal outcome this session reports.
func (s *Seed) Run() error {
	host, ok := s.resolveHost()
	if !ok {
		return errs.ErrCancelled
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	anySucceeded := false

	for _, a := range s.addrs {
		wg.Add(1)
		go func(target addr.Address) {
			defer wg.Done()
			if s.dialOne(host, target) {
				mu.Lock()
				anySucceeded = true
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	if !anySucceeded && host.HostList().Len() == 0 {
		return errs.ErrNetworkReseedFailed
	}
	return nil
}

func (s *Seed) dialOne(host Host, target addr.Address) bool {
	ctx, cancel := context.WithTimeout(s.Context(), s.timeout)
	defer cancel()

	stream, err := host.Dialer().Dial(ctx, target, s.timeout)
	if err != nil {
		host.HostList().ObserveFailure(target)
		return false
	}

	local := addr.Address{Scheme: target.Scheme, Host: "0.0.0.0", Port: 0}
	ch, err := establishChannel(ctx, host, stream, target, local, channel.DirectionOutbound, protocol.SessionSeed)
	if err != nil {
		stream.Close()
		return false
	}
	defer func() {
		host.RemoveChannel(target)
		ch.Stop()
	}()

	host.HostList().ObserveSuccess(target)
	host.HostList().Insert(target, hostlist.SourceSeed)

	select {
	case <-ch.Done():
	case <-s.Context().Done():
	case <-time.After(s.timeout):
	}
	return true
}
