// Package safeurl guards outbound fetches of directory-supplied URLs.
//
// Resource URLs come from third-party sources, so the link checker refuses
// anything that is not plain http(s) or that points into the private
// network, and caps how much of a response it will read.
package safeurl

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrUnsafeScheme is returned for URLs that are not http or https.
var ErrUnsafeScheme = errors.New("safeurl: only http and https are allowed")

// ErrPrivateAddress is returned for URLs that resolve to loopback,
// link-local or private addresses.
var ErrPrivateAddress = errors.New("safeurl: URL targets a private address")

// ErrTooLarge is returned by ReadLimited when the body exceeds the cap.
var ErrTooLarge = errors.New("safeurl: body too large")

// Check validates rawURL. Hostnames are resolved and every address must be
// public; a failed lookup passes, since the fetch itself will then fail
// with a network error.
func Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safeurl: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("safeurl: %q has no host", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if private(addr) {
			return ErrPrivateAddress
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && private(addr) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, a)
		}
	}
	return nil
}

// AllowAll is a validator that accepts every URL, for tests against
// loopback servers.
func AllowAll(string) error { return nil }

// ReadLimited reads at most limit bytes from r.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return data[:limit], fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

func private(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
