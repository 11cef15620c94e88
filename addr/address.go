// Package addr implements the address and scheme abstraction used across the
// networking core: parsing the "scheme://host:port" syntax from §6 of the
// spec, the enumerated transport schemes, and the equality rule ("no two
// logical peers share an address" — case-insensitive scheme/host, numeric
// port).
//
// The shape mirrors the teacher's transport/address.go NetworkAddress type:
// a small closed set of address kinds plus a generic string-based carrier
// for the non-IP ones (.onion, .b32.i2p, and friends), rather than modeling
// every scheme as its own Go type.
package addr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/darkrenaissance/darkfi-net/errs"
)

// Scheme enumerates the transport carriers a dial or listen may target.
type Scheme string

const (
	SchemeTCP        Scheme = "tcp"
	SchemeTCPTLS      Scheme = "tcp+tls"
	SchemeTor         Scheme = "tor"
	SchemeTorTLS      Scheme = "tor+tls"
	SchemeI2P         Scheme = "i2p"
	SchemeI2PTLS      Scheme = "i2p+tls"
	SchemeSocks5      Scheme = "socks5"
	SchemeSocks5TLS   Scheme = "socks5+tls"
)

// validSchemes is the enumerated, closed set from §3.
var validSchemes = map[Scheme]bool{
	SchemeTCP:      true,
	SchemeTCPTLS:    true,
	SchemeTor:       true,
	SchemeTorTLS:    true,
	SchemeI2P:       true,
	SchemeI2PTLS:    true,
	SchemeSocks5:    true,
	SchemeSocks5TLS: true,
}

// IsTLS reports whether the scheme wraps the base carrier in a TLS
// handshake after connect/accept (the "+tls" variants from §4.1).
func (s Scheme) IsTLS() bool {
	return strings.HasSuffix(string(s), "+tls")
}

// Base strips a "+tls" suffix, returning the underlying carrier scheme.
// "tcp+tls" -> "tcp", "tcp" -> "tcp".
func (s Scheme) Base() Scheme {
	return Scheme(strings.TrimSuffix(string(s), "+tls"))
}

// Listenable reports whether a listener can be opened for this scheme
// directly. Pure outbound schemes (socks5 proxy endpoints themselves are
// never listened on) return false and listen() must fail with
// errs.ErrSchemeNotListenable.
func (s Scheme) Listenable() bool {
	switch s {
	case SchemeSocks5, SchemeSocks5TLS:
		return false
	default:
		return validSchemes[s]
	}
}

// Address is a scheme + host + port triple, per §3. Equality is
// case-insensitive on scheme and host and numeric on port; two Addresses
// compare equal under Equal iff they denote the same logical peer.
type Address struct {
	Scheme Scheme
	Host   string
	Port   uint16
}

// Parse decodes a "scheme://host:port" string into an Address. It fails
// with errs.ErrBadAddress (wrapped, so errors.Is still matches) on an
// unrecognized scheme or malformed authority.
//
// Hosts may be IPv4 literals, bracketed IPv6 literals, DNS names, .onion
// names, or .b32.i2p names — Parse does not validate host syntax beyond
// requiring a non-empty string, since validating reachability is the
// transport layer's job, not the address layer's.
func Parse(s string) (Address, error) {
	schemeSep := strings.Index(s, "://")
	if schemeSep < 0 {
		return Address{}, badAddress(s, "missing scheme separator")
	}
	scheme := Scheme(strings.ToLower(s[:schemeSep]))
	if !validSchemes[scheme] {
		return Address{}, badAddress(s, fmt.Sprintf("unrecognized scheme %q", scheme))
	}
	authority := s[schemeSep+3:]
	if authority == "" {
		return Address{}, badAddress(s, "empty authority")
	}

	host, portStr, err := splitHostPort(authority)
	if err != nil {
		return Address{}, badAddress(s, err.Error())
	}
	if host == "" {
		return Address{}, badAddress(s, "empty host")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, badAddress(s, fmt.Sprintf("invalid port %q", portStr))
	}

	return Address{Scheme: scheme, Host: strings.ToLower(host), Port: uint16(port)}, nil
}

// splitHostPort handles bracketed IPv6 literals ("[::1]:1234") in addition
// to plain "host:port", since net.SplitHostPort rejects authority strings
// that aren't themselves valid net.Addr-style strings for some of our
// non-IP host kinds (.onion, .b32.i2p) — those still use the same
// "host:port" shape, so a small local splitter avoids pulling in extra
// validation that doesn't apply to them.
func splitHostPort(authority string) (host, port string, err error) {
	if strings.HasPrefix(authority, "[") {
		end := strings.Index(authority, "]")
		if end < 0 {
			return "", "", fmt.Errorf("unterminated IPv6 literal")
		}
		host = authority[1:end]
		rest := authority[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return "", "", fmt.Errorf("missing port after IPv6 literal")
		}
		return host, rest[1:], nil
	}

	idx := strings.LastIndex(authority, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing port")
	}
	return authority[:idx], authority[idx+1:], nil
}

func badAddress(raw, reason string) error {
	return fmt.Errorf("%w: %q: %s", errs.ErrBadAddress, raw, reason)
}

// String renders the Address back into "scheme://host:port" form. IPv6
// literal hosts are re-bracketed so the output round-trips through Parse.
func (a Address) String() string {
	host := a.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%d", a.Scheme, host, a.Port)
}

// Equal implements the §3 equality invariant: case-insensitive scheme and
// host, numeric port. Both Addresses are expected to already carry
// lower-cased Scheme/Host (Parse guarantees this); Equal re-lowers
// defensively so manually constructed Addresses still compare correctly.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a.Scheme), string(b.Scheme)) &&
		strings.EqualFold(a.Host, b.Host) &&
		a.Port == b.Port
}

// Key returns a canonical string suitable for use as a map key (host list,
// channel set) so that Equal addresses always collide to the same key.
func (a Address) Key() string {
	return strings.ToLower(string(a.Scheme)) + "://" + strings.ToLower(a.Host) + ":" + strconv.Itoa(int(a.Port))
}
