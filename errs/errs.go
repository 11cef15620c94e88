// Package errs defines the error taxonomy shared by every layer of the
// networking core: address parsing, transport dialing, channel framing,
// protocol handshakes, session policy, and supervisor lifecycle.
//
// Callers compare against these sentinels with errors.Is; component code
// wraps them with fmt.Errorf("...: %w", Sentinel) to attach the address,
// remote peer, or other context a log line needs. No component panics or
// lets one of these cross a package boundary as anything other than a
// returned error.
package errs

import "errors"

// Address / parsing errors.
var (
	ErrBadAddress = errors.New("bad address")
)

// Transport errors.
var (
	ErrConnectTimeout      = errors.New("connect timeout")
	ErrConnectRefused      = errors.New("connect refused")
	ErrBindFailed          = errors.New("bind failed")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrProxyError          = errors.New("proxy error")
	ErrProxyNotConfigured  = errors.New("proxy not configured")
	ErrSchemeNotListenable = errors.New("scheme not listenable")
	ErrTLSHandshakeFailed  = errors.New("tls handshake failed")
)

// Framing / protocol errors.
var (
	ErrMessageTooLarge         = errors.New("message too large")
	ErrUnknownMessageKind      = errors.New("unknown message kind")
	ErrProtocolVersionMismatch = errors.New("protocol version mismatch")
	ErrHandshakeTimeout        = errors.New("handshake timeout")
	ErrHeartbeatTimeout        = errors.New("heartbeat timeout")
)

// Policy errors.
var (
	ErrInboundFull  = errors.New("inbound full")
	ErrDuplicatePeer = errors.New("duplicate peer")
	ErrBlacklisted  = errors.New("blacklisted")
)

// Lifecycle errors.
var (
	ErrCancelled          = errors.New("cancelled")
	ErrNetworkReseedFailed = errors.New("network reseed failed")
)
