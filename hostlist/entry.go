// Package hostlist implements §4.2 of the spec: the persisted, tiered
// registry of known peer addresses that feeds outbound slot selection and
// answers getaddr requests.
//
// The tier/reliability model is grounded on the teacher's
// opd-ai-toxcore/dht/node.go Node (PingStats, reliability scoring,
// StatusGood/StatusBad) and dht/routing.go's stale-node sweep, generalized
// from a two-state (good/bad) DHT node to the spec's five-tier Host Entry
// state machine (gold/white/grey/anchor/black).
package hostlist

import (
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
)

// State is a Host Entry's tier, per §3.
type State uint8

const (
	StateGrey State = iota
	StateWhite
	StateGold
	StateAnchor
	StateBlack
)

func (s State) String() string {
	switch s {
	case StateGrey:
		return "grey"
	case StateWhite:
		return "white"
	case StateGold:
		return "gold"
	case StateAnchor:
		return "anchor"
	case StateBlack:
		return "black"
	default:
		return "unknown"
	}
}

// Source records how an entry first entered the host list, for diagnostics;
// it does not affect tier transitions directly (anchors are recognized by
// being inserted via InsertAnchor, not by Source).
type Source string

const (
	SourceSeed      Source = "seed"
	SourceAddrMsg   Source = "addr"
	SourceManual    Source = "manual"
	SourceInbound   Source = "inbound"
)

// Entry is a Host Entry (§3): one known peer address and its tier state.
type Entry struct {
	Address         addr.Address
	LastSeen        time.Time
	LastAttempt     time.Time
	State           State
	FailureCount    int
	SuccessStreak   int
	QuarantineUntil time.Time
	BanReason       string
	Source          Source
}

// quarantined reports whether the entry is currently a skipped black entry,
// i.e. the §8 invariant "(h.state = black) ↔ (now < h.quarantine_until)"
// holds with now supplied by the caller.
func (e *Entry) quarantined(now time.Time) bool {
	return e.State == StateBlack && now.Before(e.QuarantineUntil)
}

// clone returns a value copy safe to hand to callers outside the host
// list's lock.
func (e *Entry) clone() Entry {
	return *e
}
