// Package config implements §3's Settings and the non-fatal-unknown-key
// loading convention (§6: "unknown keys are warnings, not errors").
//
// The struct-of-toml-tags shape is grounded on
// other_examples/folbricht-routedns's cmd/routedns/config.go, which
// decodes a TOML document into a tree of plain structs with explicit
// `toml:"..."` tags for the kebab-case keys the file actually uses.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Settings is the full recognized configuration surface (§3).
type Settings struct {
	AllowedTransports []string          `toml:"allowed_transports"`
	MixedTransports   map[string]string `toml:"mixed_transports"`
	ExternalAddrs     []string          `toml:"external_addrs"`

	Seeds   []string `toml:"seeds"`
	Peers   []string `toml:"peers"`
	Inbound []string `toml:"inbound"`

	OutboundConnections int `toml:"outbound_connections"`
	InboundConnections  int `toml:"inbound_connections"`

	GoldConnectCount   int     `toml:"gold_connect_count"`
	WhiteConnectPercent float64 `toml:"white_connect_percent"`

	OutboundConnectTimeout       Duration `toml:"outbound_connect_timeout"`
	ChannelHandshakeTimeout      Duration `toml:"channel_handshake_timeout"`
	ChannelHeartbeatInterval     Duration `toml:"channel_heartbeat_interval"`
	OutboundPeerDiscoveryCooloff Duration `toml:"outbound_peer_discovery_cooloff"`
	SeedQueryTimeout             Duration `toml:"seed_query_timeout"`
	ManualAttemptLimit           int      `toml:"manual_attempt_limit"`

	TorSocks5Proxy string `toml:"tor_socks5_proxy"`
	NymSocks5Proxy string `toml:"nym_socks5_proxy"`
	I2PSocks5Proxy string `toml:"i2p_socks5_proxy"`

	Blacklist []string `toml:"blacklist"`
	NodeID    string   `toml:"node_id"`

	// WhitePromoteSuccesses/GoldPromoteSuccesses are the SPEC_FULL.md
	// promotion-threshold settings: §9's Open Question on tier promotion
	// thresholds is resolved by exposing them as tunables rather than
	// hardcoding a canonical value.
	WhitePromoteSuccesses int `toml:"white_promote_successes"`
	GoldPromoteSuccesses  int `toml:"gold_promote_successes"`

	StopDeadline Duration `toml:"stop_deadline"`
}

// Duration wraps time.Duration so TOML's plain string values
// ("30s", "2m") decode the way operators actually write them, rather than
// requiring raw nanosecond integers.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, which BurntSushi/toml
// uses for any field type it doesn't know natively.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the documented defaults (§3/§9) for every tunable that
// has one.
func Defaults() Settings {
	return Settings{
		OutboundConnections:          8,
		InboundConnections:           32,
		GoldConnectCount:             2,
		WhiteConnectPercent:          0.5,
		OutboundConnectTimeout:       Duration{10 * time.Second},
		ChannelHandshakeTimeout:      Duration{10 * time.Second},
		ChannelHeartbeatInterval:     Duration{30 * time.Second},
		OutboundPeerDiscoveryCooloff: Duration{60 * time.Second},
		SeedQueryTimeout:             Duration{15 * time.Second},
		ManualAttemptLimit:           0, // 0 = unlimited
		WhitePromoteSuccesses:        1,
		GoldPromoteSuccesses:         5,
		StopDeadline:                 Duration{10 * time.Second},
	}
}

// Load reads and decodes path into Settings, starting from Defaults().
// Unknown keys are logged as warnings rather than rejected (§6).
func Load(path string) (Settings, error) {
	settings := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	return decode(data, settings)
}

func decode(data []byte, into Settings) (Settings, error) {
	meta, err := toml.Decode(string(data), &into)
	if err != nil {
		return into, err
	}
	for _, key := range meta.Undecoded() {
		logrus.WithField("key", key.String()).Warn("config: unrecognized setting ignored")
	}
	return into, nil
}

// Store is a read-write-lockable holder for a live Settings value, letting
// the supervisor reload configuration by exchanging the value behind a
// lock rather than relying on process-global mutable state (§9).
type Store struct {
	mu       sync.RWMutex
	settings Settings
}

// NewStore wraps an initial Settings value for atomic reload.
func NewStore(initial Settings) *Store {
	return &Store{settings: initial}
}

// Get returns the current settings value.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Replace atomically swaps in a new settings value.
func (s *Store) Replace(next Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = next
}
