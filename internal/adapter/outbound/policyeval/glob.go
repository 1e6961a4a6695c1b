package policyeval

import (
	"path/filepath"
	"strings"
)

// matchPath reports whether path (already made absolute and clean) matches
// pattern under Capsule's path-glob rules: "**" matches any depth including
// zero, "*" matches exactly one path segment, "?" matches a single
// character within a segment. Matching is performed against path
// separated into segments, so a "*" in one segment can never consume a "/".
func matchPath(pattern, path string) bool {
	patSegs := splitPath(pattern)
	pathSegs := splitPath(path)
	return matchSegments(patSegs, pathSegs)
}

func splitPath(p string) []string {
	p = filepath.ToSlash(p)
	segs := strings.Split(p, "/")
	out := segs[:0]
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], path) {
			return true
		}
		if len(path) > 0 && matchSegments(pat, path[1:]) {
			return true
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], path[1:])
}

// literalBase returns the longest path prefix of pattern that contains no
// glob metacharacter, i.e. the directory an allow pattern is rooted at.
// fs evaluation does not use it.
func literalBase(pattern string) string {
	segs := splitPath(pattern)
	var base []string
	for _, s := range segs {
		if strings.ContainsAny(s, "*?") {
			break
		}
		base = append(base, s)
	}
	return "/" + strings.Join(base, "/")
}

// matchDomain reports whether host matches an allow_domains pattern.
// "*" matches any host; "*.example.com" matches example.com and any
// subdomain; anything else is an exact, case-insensitive match.
func matchDomain(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // keep leading dot
		return host == pattern[2:] || strings.HasSuffix(host, suffix)
	}
	return pattern == host
}
