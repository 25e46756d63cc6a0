package device

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Client is the request metadata carried on a context for session capture, rate-limit
// keys and audit records.
type Client struct {
	IP             string
	ForwardedFor   string
	UserAgent      string
	AcceptLanguage string
}

type clientContextKey struct{}

// WithClient attaches c to ctx.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientContextKey{}, c)
}

// ClientFrom returns the client attached to ctx, or the zero value.
func ClientFrom(ctx context.Context) Client {
	if ctx == nil {
		return Client{}
	}
	c, _ := ctx.Value(clientContextKey{}).(Client)
	return c
}

// Proxies lists the reverse proxies whose forwarding headers are believed. A request
// from any other peer is identified by its socket address alone.
type Proxies []netip.Prefix

// ParseProxies accepts CIDR ranges and bare addresses.
func ParseProxies(list []string) (Proxies, error) {
	out := make(Proxies, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Trusts reports whether ip belongs to a trusted proxy.
func (p Proxies) Trusts(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// FromRequest extracts client metadata from r. The socket peer is the client unless it
// is a trusted proxy; then the right-most X-Forwarded-For hop that is not itself a
// trusted proxy is used, falling back to X-Real-IP. ForwardedFor always carries the raw
// header.
func (p Proxies) FromRequest(r *http.Request) Client {
	c := Client{
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		ForwardedFor:   strings.TrimSpace(r.Header.Get("X-Forwarded-For")),
	}

	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	c.IP = peer
	if !p.Trusts(peer) {
		return c
	}

	hops := strings.Split(c.ForwardedFor, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		if !p.Trusts(hop) {
			c.IP = hop
			return c
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if _, err := netip.ParseAddr(real); err == nil {
			c.IP = real
		}
	}
	return c
}

// FromRequest extracts client metadata from r trusting no proxy.
func FromRequest(r *http.Request) Client {
	return Proxies(nil).FromRequest(r)
}

// Fingerprint returns the fingerprint for c's headers.
func (c Client) Fingerprint() string {
	return Fingerprint(c.UserAgent, c.AcceptLanguage)
}
