// Package ratelimit keeps one token bucket per client key.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/renderinc/quillhub/internal/cache"
)

// Limiter hands out per-key token buckets. Buckets live in a TTL cache so
// keys that stop sending requests are eventually forgotten.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex // serialises bucket creation
	buckets *cache.Cache[*rate.Limiter]
}

// New returns a limiter allowing perMinute requests per key with the given burst.
func New(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	idle := 10 * time.Minute
	return &Limiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		buckets: cache.New[*rate.Limiter](idle),
		idleTTL: idle,
	}
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	return l.AllowAt(key, time.Now())
}

// AllowAt is Allow evaluated at t.
func (l *Limiter) AllowAt(key string, t time.Time) bool {
	return l.bucket(key).AllowN(t, 1)
}

// bucket returns key's limiter, creating it on first use, and refreshes its
// idle deadline.
func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
	}
	l.buckets.SetTTL(key, b, l.idleTTL)
	return b
}

// Buckets exposes the bucket cache so callers can sweep it.
func (l *Limiter) Buckets() *cache.Cache[*rate.Limiter] {
	return l.buckets
}

// Proxies is the set of reverse proxies whose X-Forwarded-For header is
// believed. The zero value trusts nobody.
type Proxies []netip.Prefix

// ParseProxies parses IP addresses and CIDR ranges.
func ParseProxies(specs []string) (Proxies, error) {
	var out Proxies
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func (p Proxies) contains(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, prefix := range p {
		if prefix.Contains(a) {
			return true
		}
	}
	return false
}

// ClientKey derives a rate-limit key from the request. X-Forwarded-For is
// only consulted when the direct peer is a trusted proxy; the key is then the
// right-most forwarded address that is not itself a trusted proxy.
func (p Proxies) ClientKey(r *http.Request) string {
	peer := remoteIP(r)
	if len(p) == 0 || !p.contains(peer) {
		return peer
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !p.contains(hop) {
			return hop
		}
	}
	return peer
}

// ClientKey keys on the remote IP, trusting no proxy.
func ClientKey(r *http.Request) string {
	return remoteIP(r)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
