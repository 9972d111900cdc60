package commands

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// GuardOption configures outbound URL checks.
type GuardOption func(*guardConfig)

type guardConfig struct {
	allowPrivate bool
}

// AllowPrivateIPs disables the private address check. Use only in tests
// or for commands that target services on the robot's own network.
func AllowPrivateIPs() GuardOption {
	return func(c *guardConfig) {
		c.allowPrivate = true
	}
}

var reservedNets = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"198.18.0.0/15",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
)

// CheckURL rejects command endpoints that are not http(s) or that resolve
// to a loopback, private or otherwise reserved address.
func CheckURL(rawURL string, opts ...GuardOption) error {
	var cfg guardConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("URL scheme %q not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	if cfg.allowPrivate {
		return nil
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve hostname %q: %w", host, err)
	}
	for _, s := range ips {
		if ip := net.ParseIP(s); ip != nil && isReserved(ip) {
			return fmt.Errorf("URL resolves to reserved address %s", s)
		}
	}
	return nil
}

func isReserved(ip net.IP) bool {
	for _, n := range reservedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, s := range cidrs {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", s, err))
		}
		out = append(out, n)
	}
	return out
}
