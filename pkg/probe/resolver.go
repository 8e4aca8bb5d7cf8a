package probe

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Resolver performs reverse DNS (PTR) lookups with a bounded timeout and
// a TTL cache. Lookups are best-effort: failures are cached as empty
// results so a dead resolver does not stall every scan.
type Resolver struct {
	client  *dns.Client
	servers []string
	timeout time.Duration
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]resolverEntry
}

type resolverEntry struct {
	hostname string
	fetched  time.Time
}

// NewResolver builds a resolver using the nameservers from resolv.conf.
// When none can be read it falls back to the local stub resolver.
func NewResolver(timeout, ttl time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	servers := []string{"127.0.0.1:53"}
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
		servers = servers[:0]
		for _, s := range conf.Servers {
			servers = append(servers, s+":"+conf.Port)
		}
	}

	return &Resolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
		timeout: timeout,
		ttl:     ttl,
		cache:   make(map[string]resolverEntry),
	}
}

// ReverseDNS resolves an IP to its PTR name, or "" when unknown.
func (r *Resolver) ReverseDNS(ctx context.Context, ip string) string {
	r.mu.RLock()
	if e, ok := r.cache[ip]; ok && time.Since(e.fetched) < r.ttl {
		r.mu.RUnlock()
		return e.hostname
	}
	r.mu.RUnlock()

	hostname := r.lookup(ctx, ip)

	r.mu.Lock()
	r.cache[ip] = resolverEntry{hostname: hostname, fetched: time.Now()}
	r.mu.Unlock()
	return hostname
}

func (r *Resolver) lookup(ctx context.Context, ip string) string {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil || resp == nil {
			continue
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, ".")
			}
		}
		// Authoritative empty answer, stop trying other servers.
		return ""
	}
	return ""
}

// Cleanup drops expired cache entries. The monitor calls this during its
// maintenance pass.
func (r *Resolver) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for ip, e := range r.cache {
		if now.Sub(e.fetched) > r.ttl {
			delete(r.cache, ip)
		}
	}
}
