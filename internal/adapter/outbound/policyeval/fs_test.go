package policyeval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/capsule-rt/capsule/internal/domain/policy"
)

func TestEvaluateFs_ReadAllowed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := &policy.FsPolicy{AllowPaths: []string{"**"}, MaxSizeBytes: 1 << 20}
	d := evaluateFs(p, dir, map[string]any{"path": "README.md"}, false)
	if !d.Allowed {
		t.Fatalf("evaluateFs() = denied (%s), want allowed", d.Reason)
	}
}

func TestEvaluateFs_DenyOverridesAllow(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets")
	if err := os.Mkdir(secrets, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(secrets, "key.pem"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := &policy.FsPolicy{AllowPaths: []string{"**"}, DenyPaths: []string{"secrets/**"}}
	d := evaluateFs(p, dir, map[string]any{"path": "secrets/key.pem"}, false)
	if d.Allowed {
		t.Fatal("evaluateFs() = allowed, want denied (deny_paths should override allow)")
	}
	if d.RuleHit != "fs.deny_paths" {
		t.Errorf("RuleHit = %q, want fs.deny_paths", d.RuleHit)
	}
}

func TestEvaluateFs_HiddenRejected(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".secret")
	if err := os.WriteFile(hidden, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := &policy.FsPolicy{AllowPaths: []string{"**"}, AllowHidden: false}
	d := evaluateFs(p, dir, map[string]any{"path": ".secret"}, false)
	if d.Allowed {
		t.Fatal("evaluateFs() = allowed, want denied (hidden path, allow_hidden=false)")
	}
}

func TestEvaluateFs_MissingPath(t *testing.T) {
	p := &policy.FsPolicy{AllowPaths: []string{"**"}}
	d := evaluateFs(p, t.TempDir(), map[string]any{}, false)
	if d.Allowed {
		t.Fatal("evaluateFs() = allowed, want denied (missing args.path)")
	}
	if d.RuleHit != "fs.missing_path" {
		t.Errorf("RuleHit = %q, want fs.missing_path", d.RuleHit)
	}
}

func TestEvaluateFs_WriteMaxSize(t *testing.T) {
	dir := t.TempDir()
	p := &policy.FsPolicy{AllowPaths: []string{"**"}, MaxSizeBytes: 4}
	d := evaluateFs(p, dir, map[string]any{"path": "out.txt", "content": "too long"}, true)
	if d.Allowed {
		t.Fatal("evaluateFs() = allowed, want denied (content exceeds max_size_bytes)")
	}
}

func TestEvaluateFs_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, "workspace")
	outside := filepath.Join(root, "outside")
	if err := os.MkdirAll(filepath.Join(workspace, "allowed"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	escapeLink := filepath.Join(workspace, "allowed", "escape")
	if err := os.Symlink(outside, escapeLink); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	p := &policy.FsPolicy{AllowPaths: []string{"allowed/**"}}
	d := evaluateFs(p, workspace, map[string]any{"path": "allowed/escape/secret.txt"}, false)
	if d.Allowed {
		t.Fatal("evaluateFs() = allowed, want denied (symlink escapes allow-listed base)")
	}
	if d.RuleHit != "fs.allow_paths" {
		t.Errorf("RuleHit = %q, want fs.allow_paths (resolved path no longer matches the pattern's literal prefix)", d.RuleHit)
	}
}
