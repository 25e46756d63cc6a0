package storeguard

import (
	"context"
	"net/http"

	"github.com/storeguard/storeguard/device"
)

// WithClient attaches the caller's network and device info to ctx. Service uses it for
// rate limiting, session capture, drift detection, guest carts and audit records.
func WithClient(ctx context.Context, c device.Client) context.Context {
	return device.WithClient(ctx, c)
}

// WithRequest attaches the client info of r to ctx. Forwarding headers count only when
// the socket peer is one of Security.TrustedProxies.
func (s *Service) WithRequest(ctx context.Context, r *http.Request) context.Context {
	return device.WithClient(ctx, s.proxies.FromRequest(r))
}

// WithClientIP sets only the client IP, keeping other client fields on ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	c := device.ClientFrom(ctx)
	c.IP = ip
	return device.WithClient(ctx, c)
}

// WithUserAgent sets only the user agent, keeping other client fields on ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	c := device.ClientFrom(ctx)
	c.UserAgent = userAgent
	return device.WithClient(ctx, c)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return device.ClientFrom(ctx).IP
}

// rateKey is the identifier the limiters count against: the client IP, or "unknown"
// so that callers without client info share one budget instead of bypassing it.
func rateKey(ctx context.Context) string {
	if ip := clientIPFromContext(ctx); ip != "" {
		return ip
	}
	return "unknown"
}
