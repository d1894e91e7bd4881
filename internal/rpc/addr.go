package rpc

import (
	"context"
	"net"
	"net/url"
)

type remoteAddrKey struct{}

// WithRemoteAddr returns a context carrying the caller's address.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddr returns the address of the peer making the current call, or ""
// outside a handler.
func RemoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// ReachableURL rewrites an advertised url whose host only makes sense on the
// advertiser's machine (empty, localhost, loopback or unspecified) to the
// host the call came from. Urls that already name a routable host, and calls
// that themselves come from loopback, are returned unchanged.
func ReachableURL(advertised, remoteAddr string) string {
	u, err := url.Parse(advertised)
	if err != nil || u.Host == "" {
		return advertised
	}
	if !localOnly(u.Hostname()) {
		return advertised
	}

	remoteHost, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteHost = remoteAddr
	}
	ip := net.ParseIP(remoteHost)
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		return advertised
	}

	port := u.Port()
	if port == "" {
		u.Host = ip.String()
		if ip.To4() == nil {
			u.Host = "[" + ip.String() + "]"
		}
	} else {
		u.Host = net.JoinHostPort(ip.String(), port)
	}
	return u.String()
}

func localOnly(host string) bool {
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}
