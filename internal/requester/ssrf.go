package requester

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// ValidatePublicURL rejects URLs that use a non-HTTP scheme or whose host
// resolves to a private, loopback, or link-local address. Used for every
// external-class request and every redirect hop.
func ValidatePublicURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &RequestError{Kind: KindBlockedSSRF, URL: rawURL, Cause: err}
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		// allowed
	default:
		return &RequestError{Kind: KindBlockedSSRF, URL: rawURL,
			Cause: errors.New("scheme " + parsed.Scheme + " is not allowed")}
	}

	host := parsed.Hostname()
	if host == "" {
		return &RequestError{Kind: KindBlockedSSRF, URL: rawURL, Cause: errors.New("empty host")}
	}

	// Literal IPs are checked without a DNS round trip.
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return &RequestError{Kind: KindBlockedSSRF, URL: rawURL,
				Cause: errors.New("address " + host + " is not publicly routable")}
		}
		return nil
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return &RequestError{Kind: KindDNS, URL: rawURL, Cause: err}
	}
	for _, ipStr := range ips {
		if ip := net.ParseIP(ipStr); ip != nil && isPrivateIP(ip) {
			return &RequestError{Kind: KindBlockedSSRF, URL: rawURL,
				Cause: errors.New(host + " resolves to private address " + ipStr)}
		}
	}
	return nil
}

// isPrivateIP reports whether the IP is in a private, loopback, link-local,
// or otherwise non-routable range, for both IPv4 and IPv6.
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
