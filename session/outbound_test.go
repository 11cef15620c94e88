package session

import (
	"testing"
	"time"

	"github.com/darkrenaissance/darkfi-net/hostlist"
	"github.com/stretchr/testify/require"
)

func TestOutboundFillsSlotFromHostList(t *testing.T) {
	addrPort, closeLn := echoListener(t)
	defer closeLn()

	host := newFakeHost()
	ref := hostRef(host)

	target := mustAddress("127.0.0.1", mustPort(t, addrPort))
	host.HostList().Insert(target, hostlist.SourceAddrMsg)

	ob := NewOutbound(ref, OutboundConfig{
		Slots:               1,
		GoldConnectCount:    1,
		WhiteConnectPercent: 0.5,
		DialTimeout:         time.Second,
		Cooloff:             200 * time.Millisecond,
	})
	ob.Start()
	defer ob.Stop()

	require.Eventually(t, func() bool {
		return host.IsChannelOpen(target)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOutboundSkipsBlacklistedCandidate(t *testing.T) {
	host := newFakeHost()
	ref := hostRef(host)

	target := mustAddress("127.0.0.1", 9)
	host.HostList().Insert(target, hostlist.SourceAddrMsg)
	host.blacklist[target.Key()] = true

	ob := NewOutbound(ref, OutboundConfig{
		Slots:               1,
		GoldConnectCount:    1,
		WhiteConnectPercent: 0.5,
		DialTimeout:         100 * time.Millisecond,
		Cooloff:             50 * time.Millisecond,
	})
	ob.Start()
	defer ob.Stop()

	time.Sleep(300 * time.Millisecond)
	require.False(t, host.IsChannelOpen(target))
}
