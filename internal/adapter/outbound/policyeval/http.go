package policyeval

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// blockedPrivateRanges are the address ranges deny_private_ips always
// checks against, per the network-rules contract. This is distinct from
// policy.DefaultPrivateRanges(), which policy authors can fold into
// custom_rules; this list is applied unconditionally whenever
// deny_private_ips is true, not opted into separately.
var blockedPrivateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"0.0.0.0/8",
}

// HTTPEvaluation is what evaluateHTTP returns alongside the Decision: on
// allow, Pinned carries the exact address the tool must connect to.
type HTTPEvaluation struct {
	Decision policy.Decision
	Pinned   *ResolvedDest
}

// evaluateHTTP implements the http.get rules: scheme check, domain
// allow-listing, and optional private-IP denial with DNS pinning.
func evaluateHTTP(ctx context.Context, resolver *DNSResolver, p *policy.HttpPolicy, requestID string, args map[string]any) HTTPEvaluation {
	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return HTTPEvaluation{Decision: deny("http.missing_url", "args.url is missing or not a string")}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return HTTPEvaluation{Decision: deny("http.invalid_url", fmt.Sprintf("could not parse url: %v", err))}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return HTTPEvaluation{Decision: deny("http.scheme", "scheme must be http or https")}
	}

	host := strings.ToLower(u.Hostname())
	allowed := false
	for _, pattern := range p.AllowDomains {
		if matchDomain(pattern, host) {
			allowed = true
			break
		}
	}
	if !allowed {
		return HTTPEvaluation{Decision: deny("http.allow_domains", fmt.Sprintf("host %q does not match any allow_domains pattern", host))}
	}

	if !p.DenyPrivateIPs {
		return HTTPEvaluation{Decision: allow("http")}
	}

	dest, err := resolver.Resolve(ctx, host, requestID)
	if err != nil {
		return HTTPEvaluation{Decision: deny("http.dns_failed", fmt.Sprintf("could not resolve host: %v", err))}
	}
	for _, ip := range dest.IPs {
		if ipInAnyRange(ip, blockedPrivateRanges) {
			return HTTPEvaluation{Decision: deny("http.deny_private_ips", fmt.Sprintf("resolved address %s is in a blocked private range", ip))}
		}
	}

	return HTTPEvaluation{Decision: allow("http"), Pinned: dest}
}

func ipInAnyRange(ip net.IP, cidrs []string) bool {
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
