package httpget

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/capsule-rt/capsule/internal/ctxkey"
	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// fakeResolver is a minimal addressResolver for redirect tests: it pins no
// address for the original call (deny_private_ips off) but decides
// cross-host redirects by domain allow-list, the same shape the Policy
// Engine uses for evaluateHTTP.
type fakeResolver struct {
	allowDomains []string
	released     []string
}

func (f *fakeResolver) PinnedIP(requestID string) (net.IP, bool) { return nil, false }

func (f *fakeResolver) EvaluateRedirect(ctx context.Context, requestID, rawURL string, hop int) (policy.Decision, net.IP) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return policy.Decision{Allowed: false, Reason: "bad url"}, nil
	}
	for _, d := range f.allowDomains {
		if d == u.Hostname() {
			return policy.Decision{Allowed: true}, nil
		}
	}
	return policy.Decision{Allowed: false, RuleHit: "http.allow_domains", Reason: "host not allow-listed"}, nil
}

func (f *fakeResolver) ReleaseAddress(requestID string) { f.released = append(f.released, requestID) }

func TestExecute_GetOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	tl := New(nil)
	out := tl.Execute(context.Background(), map[string]any{"url": srv.URL})
	if !out.Success {
		t.Fatalf("Execute() failed: %s", out.Error)
	}
	data := out.Data.(map[string]any)
	if data["body"] != "hello" {
		t.Errorf("body = %v, want hello", data["body"])
	}
	if data["status"] != http.StatusOK {
		t.Errorf("status = %v, want 200", data["status"])
	}
}

func TestExecute_MissingURL(t *testing.T) {
	tl := New(nil)
	out := tl.Execute(context.Background(), map[string]any{})
	if out.Success {
		t.Fatal("expected failure for missing url")
	}
}

func TestExecute_InvalidURL(t *testing.T) {
	tl := New(nil)
	out := tl.Execute(context.Background(), map[string]any{"url": "://bad"})
	if out.Success {
		t.Fatal("expected failure for invalid url")
	}
}

func TestExecute_TruncatesOverMaxResponseBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	tl := New(nil)
	out := tl.Execute(context.Background(), map[string]any{"url": srv.URL, "max_response_bytes": float64(4)})
	if !out.Success {
		t.Fatalf("Execute() failed: %s", out.Error)
	}
	data := out.Data.(map[string]any)
	if data["body"] != "0123" {
		t.Errorf("body = %v, want truncated 0123", data["body"])
	}
	if data["truncated"] != true {
		t.Error("expected truncated=true")
	}
}

func TestExecute_FollowsSameHostRedirect(t *testing.T) {
	var target string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		w.Write([]byte("landed"))
	}))
	defer srv.Close()
	target = srv.URL + "/landed"

	tl := New(nil)
	ctx := context.WithValue(context.Background(), ctxkey.RequestIDKey{}, "run1:0")
	out := tl.Execute(ctx, map[string]any{"url": srv.URL + "/start"})
	if !out.Success {
		t.Fatalf("Execute() failed: %s", out.Error)
	}
	data := out.Data.(map[string]any)
	if data["body"] != "landed" {
		t.Errorf("body = %v, want landed (redirect not followed)", data["body"])
	}
}

func TestExecute_CrossHostRedirectWithoutResolverIsDenied(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("other host"))
	}))
	defer other.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL, http.StatusFound)
	}))
	defer srv.Close()

	tl := New(nil)
	out := tl.Execute(context.Background(), map[string]any{"url": srv.URL})
	if out.Success {
		t.Fatal("expected cross-host redirect to be denied with no resolver wired")
	}
}

func TestExecute_CrossHostRedirectDeniedByPolicy(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("other host"))
	}))
	defer other.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL, http.StatusFound)
	}))
	defer srv.Close()

	resolver := &fakeResolver{allowDomains: []string{"example.com"}} // other.URL's host is not on it
	tl := New(resolver)
	ctx := context.WithValue(context.Background(), ctxkey.RequestIDKey{}, "run1:0")
	out := tl.Execute(ctx, map[string]any{"url": srv.URL})
	if out.Success {
		t.Fatal("expected cross-host redirect denied by policy to fail")
	}
}

func TestExecute_CrossHostRedirectAllowedByPolicy(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("other host"))
	}))
	defer other.Close()
	otherHost, _ := url.Parse(other.URL)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL, http.StatusFound)
	}))
	defer srv.Close()

	resolver := &fakeResolver{allowDomains: []string{otherHost.Hostname()}}
	tl := New(resolver)
	ctx := context.WithValue(context.Background(), ctxkey.RequestIDKey{}, "run1:0")
	out := tl.Execute(ctx, map[string]any{"url": srv.URL})
	if !out.Success {
		t.Fatalf("Execute() failed: %s", out.Error)
	}
	data := out.Data.(map[string]any)
	if data["body"] != "other host" {
		t.Errorf("body = %v, want other host", data["body"])
	}
	if len(resolver.released) != 1 {
		t.Errorf("ReleaseAddress called %d times, want 1 for the one redirect hop", len(resolver.released))
	}
}

func TestRedirectStep_DeniesSchemeDowngrade(t *testing.T) {
	prev, _ := url.Parse("https://example.com/start")
	next, _ := url.Parse("http://example.com/landed")

	resolver := &fakeResolver{allowDomains: []string{"example.com"}}
	out := redirectStep(context.Background(), resolver, "run1:0", prev, next, 0)
	if out.reason == "" {
		t.Fatal("expected https -> http scheme downgrade to be denied")
	}
}

func TestRedirectStep_SameHostSkipsReevaluation(t *testing.T) {
	prev, _ := url.Parse("https://example.com/start")
	next, _ := url.Parse("https://example.com/landed")

	// No resolver at all: a same-host hop must still be allowed since the
	// spec carves it out of re-evaluation entirely.
	out := redirectStep(context.Background(), nil, "run1:0", prev, next, 0)
	if out.reason != "" {
		t.Fatalf("expected same-host redirect to be allowed without re-evaluation, got deny: %s", out.reason)
	}
}

func TestRedirectStep_CrossHostWithoutResolverDenied(t *testing.T) {
	prev, _ := url.Parse("https://example.com/start")
	next, _ := url.Parse("https://other.example.com/landed")

	out := redirectStep(context.Background(), nil, "run1:0", prev, next, 0)
	if out.reason == "" {
		t.Fatal("expected cross-host redirect with no resolver to be denied")
	}
}

func TestRedirectStep_CrossHostDeniedByPolicy(t *testing.T) {
	prev, _ := url.Parse("https://example.com/start")
	next, _ := url.Parse("https://evil.example.com/landed")

	resolver := &fakeResolver{allowDomains: []string{"example.com"}}
	out := redirectStep(context.Background(), resolver, "run1:0", prev, next, 0)
	if out.reason == "" {
		t.Fatal("expected cross-host redirect denied by policy")
	}
}

func TestRedirectStep_CrossHostAllowedByPolicy(t *testing.T) {
	prev, _ := url.Parse("https://example.com/start")
	next, _ := url.Parse("https://cdn.example.org/landed")

	resolver := &fakeResolver{allowDomains: []string{"cdn.example.org"}}
	out := redirectStep(context.Background(), resolver, "run1:0", prev, next, 2)
	if out.reason != "" {
		t.Fatalf("expected cross-host redirect allowed by policy, got deny: %s", out.reason)
	}
	if out.hopID != "run1:0:redirect:2" {
		t.Errorf("hopID = %q, want run1:0:redirect:2", out.hopID)
	}
}
