package check

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/optimode/mailsentry/internal/parse"
)

// NetResolver returns a resolver that sends address and reverse lookups to
// server ("host:port"), or net.DefaultResolver when server is empty.
func NetResolver(server string, connectTimeout time.Duration) *net.Resolver {
	if server == "" {
		return net.DefaultResolver
	}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{
				Timeout: connectTimeout,
			}
			return d.DialContext(ctx, network, server)
		},
	}
}

// HostResolver maps a mail host to one IPv4 address.
type HostResolver struct {
	lookup func(ctx context.Context, host string) ([]net.IP, error) // injectable for testability
}

// NewHostResolver creates a HostResolver using r (net.DefaultResolver if nil).
func NewHostResolver(r *net.Resolver) *HostResolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &HostResolver{
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			return r.LookupIP(ctx, "ip4", host)
		},
	}
}

// NewHostResolverWithLookup is a test-oriented constructor that overrides the lookup function.
func NewHostResolverWithLookup(fn func(ctx context.Context, host string) ([]net.IP, error)) *HostResolver {
	return &HostResolver{lookup: fn}
}

// Resolve returns the first IPv4 address of host. ok is false when the name
// is empty or too long after normalisation, or when the lookup fails.
func (h *HostResolver) Resolve(ctx context.Context, host string) (ip string, ok bool) {
	host, ok = parse.Host(host)
	if !ok {
		return "", false
	}

	ips, err := h.lookup(ctx, host)
	if err != nil {
		return "", false
	}
	for _, addr := range ips {
		if v4 := addr.To4(); v4 != nil {
			return v4.String(), true
		}
	}
	return "", false
}

// ReverseResolver maps an IP address to its primary host name.
type ReverseResolver struct {
	lookup func(ctx context.Context, ip string) ([]string, error) // injectable for testability
}

// NewReverseResolver creates a ReverseResolver using r (net.DefaultResolver if nil).
func NewReverseResolver(r *net.Resolver) *ReverseResolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &ReverseResolver{lookup: r.LookupAddr}
}

// NewReverseResolverWithLookup is a test-oriented constructor that overrides the lookup function.
func NewReverseResolverWithLookup(fn func(ctx context.Context, ip string) ([]string, error)) *ReverseResolver {
	return &ReverseResolver{lookup: fn}
}

// Resolve returns the first PTR name of ip without its trailing dot, or nil.
// Missing reverse DNS is common for legitimate hosts, so failures are not
// reported.
func (r *ReverseResolver) Resolve(ctx context.Context, ip string) *string {
	names, err := r.lookup(ctx, ip)
	if err != nil {
		return nil
	}
	for _, n := range names {
		if n = strings.TrimSuffix(n, "."); n != "" {
			return &n
		}
	}
	return nil
}
