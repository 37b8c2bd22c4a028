// Package guard validates tool input before it reaches an upstream and
// bounds what is read back.
package guard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxIdentifierLen caps zone names and dataset IDs.
const MaxIdentifierLen = 256

var (
	// ErrUnsafeScheme is returned for a URL that is not http or https.
	ErrUnsafeScheme = errors.New("guard: only http and https URLs are allowed")

	// ErrPrivateAddress is returned for a URL whose host is a literal
	// loopback, link-local or private address.
	ErrPrivateAddress = errors.New("guard: URL targets a private or loopback address")

	// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
	ErrTooLarge = errors.New("guard: body exceeds limit")
)

var privateNets = mustCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "100.64.0.0/10", "fc00::/7")

// ValidateURL parses a user-supplied target URL. It requires http(s) and a
// host, and rejects literal private addresses: a remote browser or unblocker
// cannot reach them. Hostnames are not resolved.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("guard: invalid URL %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("guard: URL %q has no host", raw)
	}
	if strings.EqualFold(host, "localhost") {
		return nil, ErrPrivateAddress
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return nil, ErrPrivateAddress
	}
	return u, nil
}

// ValidateIdentifier accepts ASCII letters, digits, underscore, hyphen and
// dot. Zone names and dataset IDs end up in URL paths and query strings.
func ValidateIdentifier(s string) error {
	if s == "" {
		return errors.New("guard: identifier must not be empty")
	}
	if len(s) > MaxIdentifierLen {
		return fmt.Errorf("guard: identifier longer than %d", MaxIdentifierLen)
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("guard: invalid character %q in identifier %q", r, s)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r, failing with ErrTooLarge
// when there is more.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
