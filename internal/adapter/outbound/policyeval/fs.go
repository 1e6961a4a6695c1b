package policyeval

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// canonicalizeForRead resolves workingDir/path for fs.read: every
// intermediate component, including the final one, must exist and every
// symlink along the way is resolved.
func canonicalizeForRead(workingDir, path string) (string, error) {
	joined := filepath.Join(workingDir, path)
	resolved, err := evalSymlinks(joined)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return resolved, nil
}

// canonicalizeForWrite resolves workingDir/path for fs.write: the parent
// directory must exist and its symlinks are resolved, but the final
// component itself is allowed to not exist yet.
func canonicalizeForWrite(workingDir, path string) (string, error) {
	joined := filepath.Join(workingDir, path)
	dir := filepath.Dir(joined)
	resolvedDir, err := evalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return filepath.Join(resolvedDir, filepath.Base(joined)), nil
}

// hasHiddenComponent reports whether any path component begins with ".".
func hasHiddenComponent(canonical string) bool {
	for _, seg := range splitPath(canonical) {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// evaluateFs implements the fs.read/fs.write rules from the policy
// engine's contract: canonicalize (resolving symlinks), hidden-file check,
// then allow/deny glob matching against the resolved path.
func evaluateFs(p *policy.FsPolicy, workingDir string, args map[string]any, isWrite bool) policy.Decision {
	rawPath, ok := args["path"].(string)
	if !ok || rawPath == "" {
		return deny("fs.missing_path", "args.path is missing or not a string")
	}

	var canonical string
	var err error
	if isWrite {
		canonical, err = canonicalizeForWrite(workingDir, rawPath)
	} else {
		canonical, err = canonicalizeForRead(workingDir, rawPath)
	}
	if err != nil {
		return deny("fs.canonicalize_failed", fmt.Sprintf("could not resolve path: %v", err))
	}

	if !p.AllowHidden && hasHiddenComponent(canonical) {
		return deny("fs.allow_hidden", "path contains a hidden component and allow_hidden is false")
	}

	allowed := false
	for _, pattern := range p.AllowPaths {
		absPattern := filepath.Join(workingDir, pattern)
		if matchPath(absPattern, canonical) {
			allowed = true
			break
		}
	}
	if !allowed {
		return deny("fs.allow_paths", "path does not match any allow_paths pattern")
	}

	for _, pattern := range p.DenyPaths {
		absPattern := filepath.Join(workingDir, pattern)
		if matchPath(absPattern, canonical) {
			return deny("fs.deny_paths", "path matches a deny_paths pattern")
		}
	}

	// No separate symlink-escape check here: canonical is already the
	// fully symlink-resolved path (canonicalizeForRead/Write), and the
	// allow_paths match above compares that resolved path's literal
	// segments against each pattern's literal (non-glob) prefix. A
	// symlink that escapes an allow-listed directory resolves canonical
	// to a path whose prefix no longer matches the pattern at all, so it
	// is already caught by the fs.allow_paths denial above.

	if isWrite {
		if content, ok := args["content"].(string); ok && p.MaxSizeBytes > 0 && uint64(len(content)) > p.MaxSizeBytes {
			return deny("fs.max_size_bytes", "content exceeds max_size_bytes")
		}
	}

	return allow("fs")
}
