package hostlist

import (
	"sort"
	"sync"
	"time"

	"github.com/darkrenaissance/darkfi-net/addr"
	"github.com/sirupsen/logrus"
)

// Policy holds the tunables §9 leaves as implementer-chosen settings: the
// grey/white/gold promotion thresholds, the failure count that bans an
// entry, and how long a ban lasts.
type Policy struct {
	// WhitePromoteSuccesses is the number of successive successful
	// handshakes needed to promote grey->white. Default 1 (the first
	// success promotes immediately).
	WhitePromoteSuccesses int
	// GoldPromoteSuccesses is the number of successive successful
	// handshakes needed to promote white->gold. Default 5.
	GoldPromoteSuccesses int
	// FailureBanThreshold is the number of consecutive failures after
	// which a non-anchor entry is banned to black. Default 5.
	FailureBanThreshold int
	// QuarantineDuration is how long a black entry is skipped from
	// selection before it can be reconsidered. Default 1h.
	QuarantineDuration time.Duration
	// SnapshotCap bounds the size of Snapshot's result (§4.2). Default 1000,
	// matching the addr message's §6 cap.
	SnapshotCap int
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		WhitePromoteSuccesses: 1,
		GoldPromoteSuccesses:  5,
		FailureBanThreshold:   5,
		QuarantineDuration:    time.Hour,
		SnapshotCap:           1000,
	}
}

// HostList is the process-wide tiered peer registry (§3/§4.2). All
// mutating operations are single-writer under mu, per §5; reads take a
// short-lived lock and return copies.
type HostList struct {
	mu      sync.Mutex
	entries map[string]*Entry // addr.Key() -> entry
	policy  Policy
	clock   TimeProvider
	log     *logrus.Entry
}

// New creates an empty HostList governed by policy.
func New(policy Policy, clock TimeProvider) *HostList {
	if clock == nil {
		clock = DefaultTimeProvider{}
	}
	return &HostList{
		entries: make(map[string]*Entry),
		policy:  policy,
		clock:   clock,
		log:     logrus.WithField("component", "hostlist"),
	}
}

// Insert records a new observation of a. Per §3, a brand-new address
// becomes grey; re-inserting an address already present is a no-op (it does
// not reset an existing tier or failure count — that would let a churning
// peer escape quarantine by being "rediscovered").
func (h *HostList) Insert(a addr.Address, source Source) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := a.Key()
	if _, exists := h.entries[key]; exists {
		return
	}
	h.entries[key] = &Entry{
		Address:  a,
		State:    StateGrey,
		LastSeen: h.clock.Now(),
		Source:   source,
	}
	h.log.WithFields(logrus.Fields{"addr": a.String(), "source": source}).Debug("host list: new entry (grey)")
}

// InsertAnchor records a manually configured peer as an anchor (§3):
// anchors never downgrade and are always considered during selection.
func (h *HostList) InsertAnchor(a addr.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := a.Key()
	if e, exists := h.entries[key]; exists {
		e.State = StateAnchor
		return
	}
	h.entries[key] = &Entry{
		Address:  a,
		State:    StateAnchor,
		LastSeen: h.clock.Now(),
		Source:   SourceManual,
	}
}

// ObserveSuccess records a successful version handshake with a, applying
// the §3 promotion rule: grey -> white after Policy.WhitePromoteSuccesses
// consecutive successes, then white -> gold after
// Policy.GoldPromoteSuccesses consecutive successes. Anchors and gold
// entries are unaffected beyond bookkeeping.
func (h *HostList) ObserveSuccess(a addr.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entries[a.Key()]
	if e == nil {
		e = &Entry{Address: a, State: StateGrey}
		h.entries[a.Key()] = e
	}

	now := h.clock.Now()
	e.LastSeen = now
	e.LastAttempt = now
	e.FailureCount = 0
	e.SuccessStreak++

	switch e.State {
	case StateGrey:
		if e.SuccessStreak >= h.policy.WhitePromoteSuccesses {
			e.State = StateWhite
		}
	case StateWhite:
		if e.SuccessStreak >= h.policy.GoldPromoteSuccesses {
			e.State = StateGold
		}
	}
}

// ObserveFailure records a failed dial or handshake attempt, incrementing
// the failure counter and — for non-anchor entries that cross
// Policy.FailureBanThreshold consecutive failures — moving the entry to
// black with a fresh quarantine expiry (§3: "K consecutive failures →
// grey→black").
func (h *HostList) ObserveFailure(a addr.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entries[a.Key()]
	if e == nil {
		return
	}
	if e.State == StateAnchor {
		// Anchors never downgrade (§3 invariant); still record the
		// attempt timestamp so selection's tie-break stays fair.
		e.LastAttempt = h.clock.Now()
		return
	}

	e.LastAttempt = h.clock.Now()
	e.SuccessStreak = 0
	e.FailureCount++

	if e.FailureCount >= h.policy.FailureBanThreshold {
		h.banLocked(e, "consecutive failure threshold exceeded")
	}
}

// Ban moves a to black immediately, recording reason and setting a fresh
// quarantine expiry (§4.2 ban operation). Anchors cannot be banned.
func (h *HostList) Ban(a addr.Address, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entries[a.Key()]
	if e == nil {
		e = &Entry{Address: a}
		h.entries[a.Key()] = e
	}
	if e.State == StateAnchor {
		return
	}
	h.banLocked(e, reason)
}

func (h *HostList) banLocked(e *Entry, reason string) {
	e.State = StateBlack
	e.BanReason = reason
	e.QuarantineUntil = h.clock.Now().Add(h.policy.QuarantineDuration)
	h.log.WithFields(logrus.Fields{"addr": e.Address.String(), "reason": reason}).Warn("host list: banned")
}

// Get returns a copy of the entry for a, if known.
func (h *HostList) Get(a addr.Address) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[a.Key()]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Len returns the total number of entries, including quarantined ones.
func (h *HostList) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Select returns up to k addresses for outbound slot filling (§4.2),
// weighted by tier: preferGoldCount gold entries are offered first (subject
// to availability), then the remainder is filled so that roughly
// whitePercentage of the non-gold picks are white rather than grey. Anchors
// never count against k but are always included ahead of everything else.
// Quarantined black entries and addresses in exclude are skipped.
// Selection never returns the same address twice, and ties (entries
// equally eligible within a tier) break on older LastAttempt first, then
// lexicographic address order, per §4.2.
func (h *HostList) Select(k int, preferGoldCount int, whitePercentage float64, exclude map[string]bool) []addr.Address {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	var anchors, gold, white, grey []*Entry
	for _, e := range h.entries {
		if exclude != nil && exclude[e.Address.Key()] {
			continue
		}
		if e.quarantined(now) {
			continue
		}
		switch e.State {
		case StateAnchor:
			anchors = append(anchors, e)
		case StateGold:
			gold = append(gold, e)
		case StateWhite:
			white = append(white, e)
		case StateGrey, StateBlack:
			// A black entry past its quarantine is re-admitted at grey
			// eligibility rather than left permanently unselectable
			// (§4.2, §8's state/quarantine invariant).
			grey = append(grey, e)
		}
	}

	sortByAttemptThenAddr(anchors)
	sortByAttemptThenAddr(gold)
	sortByAttemptThenAddr(white)
	sortByAttemptThenAddr(grey)

	result := make([]addr.Address, 0, k+len(anchors))
	seen := make(map[string]bool, k+len(anchors))
	take := func(pool []*Entry, n int) {
		for _, e := range pool {
			if n <= 0 {
				return
			}
			if seen[e.Address.Key()] {
				continue
			}
			result = append(result, e.Address)
			seen[e.Address.Key()] = true
			n--
		}
	}

	// Anchors are always considered and never count against k.
	for _, e := range anchors {
		if !seen[e.Address.Key()] {
			result = append(result, e.Address)
			seen[e.Address.Key()] = true
		}
	}

	remaining := k
	goldTake := min(preferGoldCount, remaining)
	take(gold, goldTake)
	remaining = k - (len(result) - len(anchors))
	if remaining <= 0 {
		return result
	}

	whiteTake := int(float64(remaining) * whitePercentage)
	take(white, whiteTake)
	remaining = k - (len(result) - len(anchors))
	if remaining <= 0 {
		return result
	}

	take(grey, remaining)
	remaining = k - (len(result) - len(anchors))
	if remaining > 0 {
		// Tier quotas under-filled (e.g. not enough white entries) — top
		// off from whatever tier still has spare capacity rather than
		// returning fewer than k when more are available.
		take(gold, remaining)
		remaining = k - (len(result) - len(anchors))
	}
	if remaining > 0 {
		take(white, remaining)
	}

	return result
}

func sortByAttemptThenAddr(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastAttempt.Equal(entries[j].LastAttempt) {
			return entries[i].LastAttempt.Before(entries[j].LastAttempt)
		}
		return entries[i].Address.Key() < entries[j].Address.Key()
	})
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Snapshot returns the address set used to answer getaddr (§4.2): capped at
// Policy.SnapshotCap and shuffled so repeated queries from the same peer
// don't always see the same prefix of the host list.
func (h *HostList) Snapshot(rng func(n int) int) []addr.Address {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	all := make([]addr.Address, 0, len(h.entries))
	for _, e := range h.entries {
		if e.quarantined(now) {
			continue
		}
		all = append(all, e.Address)
	}

	if rng != nil {
		for i := len(all) - 1; i > 0; i-- {
			j := rng(i + 1)
			all[i], all[j] = all[j], all[i]
		}
	}

	if len(all) > h.policy.SnapshotCap {
		all = all[:h.policy.SnapshotCap]
	}
	return all
}
