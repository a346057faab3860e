// Package ipfilter restricts the API and metrics listeners to allowed networks
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed prefixes
type Filter struct {
	allowed        []netip.Prefix
	trustForwarded bool
	logger         *slog.Logger
}

// Option configures a Filter
type Option func(*Filter)

// TrustForwarded makes ClientIP honor X-Forwarded-For and X-Real-IP.
// Only enable it behind a reverse proxy that sets these headers.
func TrustForwarded() Option {
	return func(f *Filter) {
		f.trustForwarded = true
	}
}

// New creates a filter from a list of IPs and CIDRs.
// An empty list allows everything; invalid entries are logged and skipped.
func New(allowedIPs []string, logger *slog.Logger, opts ...Option) *Filter {
	f := &Filter{logger: logger}
	for _, opt := range opts {
		opt(f)
	}

	for _, entry := range allowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("invalid CIDR in allowed_ips", "cidr", entry, "error", err)
				continue
			}
			f.allowed = append(f.allowed, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("invalid IP in allowed_ips", "ip", entry)
			continue
		}
		f.allowed = append(f.allowed, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return f
}

// Enabled returns true if IP filtering is active
func (f *Filter) Enabled() bool {
	return len(f.allowed) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.allowed)
}

// IsAllowed reports whether addr is inside an allowed network
func (f *Filter) IsAllowed(addr netip.Addr) bool {
	if len(f.allowed) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsAllowedString parses and checks an IP string
func (f *Filter) IsAllowedString(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return f.IsAllowed(addr)
}

// ClientIP extracts the client address from an HTTP request
func (f *Filter) ClientIP(r *http.Request) (netip.Addr, bool) {
	if f.trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr, true
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
				return addr, true
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// HTTPMiddleware returns an HTTP middleware that filters requests by IP
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := f.ClientIP(r)
		if !ok {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.IsAllowed(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
