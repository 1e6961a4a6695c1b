// Package httpget implements the http.get built-in tool.
package httpget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/capsule-rt/capsule/internal/ctxkey"
	"github.com/capsule-rt/capsule/internal/domain/policy"
	"github.com/capsule-rt/capsule/internal/domain/tool"
)

const schema = `{
	"type": "object",
	"properties": {
		"url": {"type": "string"},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}}
	},
	"required": ["url"]
}`

// maxRedirects caps how many hops Execute will follow. CheckRedirect is
// fully overridden below (to re-evaluate policy per hop), so net/http's
// own default cap no longer applies and this replaces it.
const maxRedirects = 10

// addressResolver is satisfied by *policyeval.Engine. It supplies the
// pinned address for a call's original host, re-validates and re-pins a
// redirect target against the same HttpPolicy the original call was
// evaluated under, and releases a pin once the Tool is done with it.
type addressResolver interface {
	PinnedIP(requestID string) (net.IP, bool)
	EvaluateRedirect(ctx context.Context, requestID, rawURL string, hop int) (policy.Decision, net.IP)
	ReleaseAddress(requestID string)
}

// Tool performs the outbound GET, following same-host redirects and
// re-evaluating policy for any redirect to a different host, always
// connecting to the address the Policy Engine resolved and pinned rather
// than re-resolving itself: that is what defeats a DNS-rebinding attempt
// between evaluation and connect.
type Tool struct {
	Resolver addressResolver
}

// New builds an http.get Tool. resolver supplies the pinned address for a
// given request id (see ctxkey.RequestIDKey) and re-evaluates redirects
// against policy; pass nil only where there is no Policy Engine at all
// (e.g. an isolated unit test), in which case the tool never follows a
// cross-host redirect since it has no way to re-check one.
func New(resolver addressResolver) *Tool {
	return &Tool{Resolver: resolver}
}

func (t *Tool) Name() string            { return "http.get" }
func (t *Tool) Description() string     { return "Perform an HTTP GET request." }
func (t *Tool) Schema() json.RawMessage { return json.RawMessage(schema) }

// maxResponseBytesDefault (10MiB) caps the body unless the call's
// max_response_bytes argument sets another cap. HttpPolicy.MaxResponseBytes
// is not read here.
const maxResponseBytesDefault = 10 << 20

func (t *Tool) Execute(ctx context.Context, args map[string]any) tool.Output {
	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return tool.Output{Success: false, Error: "args.url is missing or not a string"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return tool.Output{Success: false, Error: fmt.Sprintf("invalid url: %v", err)}
	}

	maxBytes := int64(maxResponseBytesDefault)
	if v, ok := args["max_response_bytes"].(float64); ok && v > 0 {
		maxBytes = int64(v)
	}

	requestID, _ := ctx.Value(ctxkey.RequestIDKey{}).(string)

	hostPins := make(map[string]net.IP)
	if t.Resolver != nil && requestID != "" {
		if ip, ok := t.Resolver.PinnedIP(requestID); ok {
			hostPins[u.Hostname()] = ip
		}
	}

	var hopIDs []string
	deniedRedirect := ""

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			step := redirectStep(req.Context(), t.Resolver, requestID, via[len(via)-1].URL, req.URL, len(via))
			if step.reason != "" {
				deniedRedirect = step.reason
				return http.ErrUseLastResponse
			}
			if step.hopID != "" {
				hopIDs = append(hopIDs, step.hopID)
			}
			if step.pinnedIP != nil {
				hostPins[req.URL.Hostname()] = step.pinnedIP
			}
			return nil
		},
	}
	if len(hostPins) > 0 {
		client.Transport = pinnedTransport(hostPins)
	}
	defer func() {
		for _, id := range hopIDs {
			t.Resolver.ReleaseAddress(id)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return tool.Output{Success: false, Error: fmt.Sprintf("build request: %v", err)}
	}
	for k, v := range headerArgs(args) {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return tool.Output{Success: false, Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if deniedRedirect != "" {
		return tool.Output{Success: false, Error: deniedRedirect}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return tool.Output{Success: false, Error: fmt.Sprintf("read response: %v", err)}
	}
	truncated := false
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	data := map[string]any{
		"status":     resp.StatusCode,
		"headers":    headers,
		"body":       string(body),
		"bytes_read": len(body),
	}
	if truncated {
		data["truncated"] = true
	}

	return tool.Output{Success: true, Data: data}
}

func headerArgs(args map[string]any) map[string]string {
	raw, ok := args["headers"].(map[string]any)
	if !ok {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

// redirectOutcome is what redirectStep decides for one hop: either reason
// is set and the redirect must not be followed, or hopID/pinnedIP (both
// may be zero-valued for a same-host hop) describe how to track it.
type redirectOutcome struct {
	reason   string
	hopID    string
	pinnedIP net.IP
}

// redirectStep decides whether to follow one redirect hop from prev to
// next: deny on an https-to-http scheme downgrade, skip re-evaluation for
// a hop to the same host and port, and otherwise re-validate next's host against the
// policy resolver recorded the original call against. Pulled out of
// Execute's CheckRedirect closure so it can be tested without a live
// network round trip.
func redirectStep(ctx context.Context, resolver addressResolver, requestID string, prev, next *url.URL, hop int) redirectOutcome {
	if prev.Scheme == "https" && next.Scheme == "http" {
		return redirectOutcome{reason: fmt.Sprintf("redirect from %s to %s downgrades scheme from https to http", prev, next)}
	}
	if next.Host == prev.Host {
		return redirectOutcome{}
	}
	if resolver == nil || requestID == "" {
		return redirectOutcome{reason: fmt.Sprintf("redirect to new host %q requires policy re-evaluation, none available", next.Hostname())}
	}
	decision, ip := resolver.EvaluateRedirect(ctx, requestID, next.String(), hop)
	if !decision.Allowed {
		return redirectOutcome{reason: fmt.Sprintf("redirect to %s denied by policy: %s", next, decision.Reason)}
	}
	return redirectOutcome{hopID: fmt.Sprintf("%s:redirect:%d", requestID, hop), pinnedIP: ip}
}

// pinnedTransport returns an http.RoundTripper that dials the pinned
// address for each host in hostPins, regardless of what a fresh DNS
// lookup would return, falling back to a normal dial for any host not in
// the map (hosts evaluateHTTP never pinned, e.g. deny_private_ips off).
// TLS SNI is left to http.Transport's default behavior, which derives it
// from the original hostname passed to DialContext rather than the
// dialed IP, so per-host SNI across redirects needs no extra handling.
func pinnedTransport(hostPins map[string]net.IP) *http.Transport {
	dialer := &net.Dialer{}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				host, port = addr, "80"
			}
			ip, ok := hostPins[host]
			if !ok {
				return dialer.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		},
	}
}
