package policyeval

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// ResolvedDest is the outcome of resolving a host for one tool call: the
// full address set DNS returned, and the single address pinned for that
// call. The tool must connect to PinnedIP, not re-resolve, so a later
// answer change cannot redirect an already-approved call.
type ResolvedDest struct {
	Domain    string
	IPs       []net.IP
	PinnedIP  net.IP
	CachedAt  time.Time
}

// lookupFunc mirrors net.Resolver.LookupIPAddr closely enough to be faked
// in tests without a real DNS server.
type lookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// DNSResolver resolves and pins destination addresses for http.get calls.
// Each call site is identified by a requestID (the run_id:step_index of
// the call); once a call has been pinned, repeated lookups for that same
// requestID return the original address instead of re-resolving, which is
// what prevents DNS-rebinding between the policy check and the connect.
type DNSResolver struct {
	mu          sync.Mutex
	requestPins map[string]*ResolvedDest
	lookup      lookupFunc
}

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// NewDNSResolver builds a resolver using the system resolver.
func NewDNSResolver() *DNSResolver {
	return &DNSResolver{
		requestPins: make(map[string]*ResolvedDest),
		lookup:      defaultLookup,
	}
}

// Resolve returns the pinned address for requestID, resolving and pinning
// it on first use. Subsequent calls with the same requestID are served
// from the pin, never re-resolving mid-call.
func (r *DNSResolver) Resolve(ctx context.Context, host, requestID string) (*ResolvedDest, error) {
	r.mu.Lock()
	if pinned, ok := r.requestPins[requestID]; ok {
		r.mu.Unlock()
		return pinned, nil
	}
	r.mu.Unlock()

	ips, err := r.lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns: resolve %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("dns: resolve %q: no addresses", host)
	}

	dest := &ResolvedDest{
		Domain:   host,
		IPs:      ips,
		PinnedIP: ips[0],
		CachedAt: time.Now(),
	}

	r.mu.Lock()
	r.requestPins[requestID] = dest
	r.mu.Unlock()

	return dest, nil
}

// Release drops the pin for requestID once its call has completed.
func (r *DNSResolver) Release(requestID string) {
	r.mu.Lock()
	delete(r.requestPins, requestID)
	r.mu.Unlock()
}
