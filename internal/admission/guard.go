// Package admission validates submitted URLs before any work is created for them.
//
// The guard is a string-level check over the literal hostname. It does not
// resolve DNS, so a public name that resolves to a private address (DNS
// rebinding) passes admission. Processes that fetch admitted URLs must dial
// through NewSafeDialer or sit behind an egress policy that blocks private
// ranges.
package admission

import (
	"net/netip"
	"net/url"
	"strings"
)

// Reason explains why a URL was rejected.
type Reason string

// Rejection reasons.
const (
	ReasonInvalidURL     Reason = "invalid_url"
	ReasonPrivateNetwork Reason = "private_network"
	ReasonBlockedDomain  Reason = "blocked_domain"
)

// Decision is the outcome of Classify.
type Decision struct {
	Accepted     bool
	CanonicalURL string
	Host         string
	Reason       Reason
}

// Message returns a client-facing description of a rejection.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonInvalidURL:
		return "missing or invalid url"
	case ReasonPrivateNetwork:
		return "private or loopback urls are not allowed"
	case ReasonBlockedDomain:
		return "domain is not allowed"
	default:
		return ""
	}
}

// Config controls optional admission rules.
type Config struct {
	// DenyDomains holds exact hosts or "*.suffix" patterns that are always rejected.
	DenyDomains []string
}

// Guard classifies raw URLs. It is safe for concurrent use.
type Guard struct {
	deny *domainPatternBlocklist
}

// New builds a Guard.
func New(cfg Config) *Guard {
	return &Guard{deny: newDomainPatternBlocklist(cfg.DenyDomains)}
}

// Classify parses rawURL and either accepts it with its canonical form or rejects it.
func (g *Guard) Classify(rawURL string) Decision {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return rejected("", ReasonInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rejected("", ReasonInvalidURL)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return rejected("", ReasonInvalidURL)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return rejected("", ReasonInvalidURL)
	}
	if IsPrivateHost(host) {
		return rejected(host, ReasonPrivateNetwork)
	}
	if ambiguousNumericHost(host) {
		return rejected(host, ReasonInvalidURL)
	}
	if g.deny.IsBlocked(host) {
		return rejected(host, ReasonBlockedDomain)
	}
	return Decision{
		Accepted:     true,
		CanonicalURL: canonicalize(u),
		Host:         host,
	}
}

func rejected(host string, reason Reason) Decision {
	return Decision{Host: host, Reason: reason}
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// IsPrivateHost reports whether host is a loopback name or a literal address in
// a private, loopback, or link-local range.
func IsPrivateHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return IsPrivateAddr(addr)
}

// IsPrivateAddr reports whether addr falls in a blocked range.
func IsPrivateAddr(addr netip.Addr) bool {
	// Zoned literals ("fe80::1%eth0") never match a prefix, so drop the zone first.
	addr = addr.WithZone("").Unmap()
	for _, prefix := range privatePrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ambiguousNumericHost catches shorthand IPv4 forms ("127.1", "2130706433",
// "0x7f.0.0.1") that some resolvers expand to addresses the literal check misses.
func ambiguousNumericHost(host string) bool {
	if _, err := netip.ParseAddr(host); err == nil {
		return false
	}
	labels := strings.Split(host, ".")
	last := labels[len(labels)-1]
	if last == "" {
		return false
	}
	if strings.HasPrefix(last, "0x") {
		return true
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
