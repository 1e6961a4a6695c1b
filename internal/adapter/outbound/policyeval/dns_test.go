package policyeval

import (
	"context"
	"net"
	"testing"
)

// TestResolve_PinSurvivesChangingAnswers is the DNS-rebinding property: once
// a requestID has been pinned, a resolver whose answers change between
// calls must not be allowed to redirect it.
func TestResolve_PinSurvivesChangingAnswers(t *testing.T) {
	calls := 0
	answers := [][]net.IP{
		{net.ParseIP("93.184.216.34")},
		{net.ParseIP("10.0.0.1")}, // would-be rebind target
	}
	r := &DNSResolver{
		requestPins: make(map[string]*ResolvedDest),
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			ips := answers[calls]
			calls++
			return ips, nil
		},
	}

	first, err := r.Resolve(context.Background(), "example.com", "run1:0")
	if err != nil {
		t.Fatalf("Resolve() first call error: %v", err)
	}
	if first.PinnedIP.String() != "93.184.216.34" {
		t.Fatalf("first pin = %s, want 93.184.216.34", first.PinnedIP)
	}

	second, err := r.Resolve(context.Background(), "example.com", "run1:0")
	if err != nil {
		t.Fatalf("Resolve() second call error: %v", err)
	}
	if second.PinnedIP.String() != "93.184.216.34" {
		t.Fatalf("second call pin = %s, want unchanged 93.184.216.34 (rebind not blocked)", second.PinnedIP)
	}
	if calls != 1 {
		t.Errorf("lookup invoked %d times, want 1 (second call should be served from the pin)", calls)
	}
}

func TestResolve_DistinctRequestIDsResolveIndependently(t *testing.T) {
	r := &DNSResolver{
		requestPins: make(map[string]*ResolvedDest),
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("1.2.3.4")}, nil
		},
	}

	if _, err := r.Resolve(context.Background(), "example.com", "run1:0"); err != nil {
		t.Fatalf("Resolve(run1:0) error: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "example.com", "run1:1"); err != nil {
		t.Fatalf("Resolve(run1:1) error: %v", err)
	}

	r.Release("run1:0")
	if _, ok := r.requestPins["run1:0"]; ok {
		t.Error("Release() did not remove the pin for run1:0")
	}
	if _, ok := r.requestPins["run1:1"]; !ok {
		t.Error("Release(run1:0) should not affect run1:1's pin")
	}
}
