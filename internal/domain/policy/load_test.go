package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_OK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	doc := `
boundary: deny_by_default
tools:
  fs.read:
    allow_paths: ["**"]
    max_size_bytes: 1024
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if _, ok := p.ToolPolicyFor("fs.read"); !ok {
		t.Fatal("expected fs.read policy to be present")
	}
}

func TestLoadFile_RejectsUnknownTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	doc := `
tools:
  fs.delete:
    allow_paths: ["**"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unknown tool fs.delete")
	}
}
