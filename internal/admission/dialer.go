package admission

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"
)

// ErrPrivateDial is returned when a connection targets a blocked address.
var ErrPrivateDial = errors.New("dial to private address refused")

// NewSafeDialer returns a dialer that refuses connections to private, loopback,
// and link-local addresses after DNS resolution.
func NewSafeDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   refusePrivate,
	}
}

func refusePrivate(_ string, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("split dial address %q: %w", address, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("parse dial address %q: %w", host, err)
	}
	if IsPrivateAddr(addr) {
		return fmt.Errorf("%w: %s", ErrPrivateDial, addr)
	}
	return nil
}
