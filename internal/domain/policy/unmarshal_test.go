package policy

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestPolicy_UnmarshalYAML_FlatToolBodies(t *testing.T) {
	doc := `
boundary: deny_by_default
tools:
  fs.read:
    allow_paths: ["/tmp/**"]
    max_size_bytes: 1048576
  http.get:
    allow_domains: ["example.com"]
    deny_private_ips: true
    max_response_bytes: 65536
    timeout_seconds: 10
  shell.run:
    allow_executables: ["echo"]
    deny_tokens: ["rm -rf"]
global:
  max_calls_per_tool: 5
custom_rules:
  - name: block-weekends
    condition: "true"
    action: deny
`
	var p Policy
	if err := yaml.Unmarshal([]byte(doc), &p); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	fsPol, ok := p.Tools["fs.read"]
	if !ok || fsPol.Fs == nil {
		t.Fatalf("fs.read not decoded: %+v", p.Tools)
	}
	if fsPol.Fs.MaxSizeBytes != 1048576 {
		t.Errorf("MaxSizeBytes = %d, want 1048576", fsPol.Fs.MaxSizeBytes)
	}

	httpPol, ok := p.Tools["http.get"]
	if !ok || httpPol.Http == nil {
		t.Fatalf("http.get not decoded: %+v", p.Tools)
	}
	if !httpPol.Http.DenyPrivateIPs {
		t.Error("DenyPrivateIPs = false, want true")
	}

	shellPol, ok := p.Tools["shell.run"]
	if !ok || shellPol.Shell == nil {
		t.Fatalf("shell.run not decoded: %+v", p.Tools)
	}
	if len(shellPol.Shell.AllowExecutables) != 1 || shellPol.Shell.AllowExecutables[0] != "echo" {
		t.Errorf("AllowExecutables = %v", shellPol.Shell.AllowExecutables)
	}

	if p.Global.MaxCallsPerTool != 5 {
		t.Errorf("MaxCallsPerTool = %d, want 5", p.Global.MaxCallsPerTool)
	}
	if len(p.CustomRules) != 1 || p.CustomRules[0].Name != "block-weekends" {
		t.Errorf("CustomRules = %+v", p.CustomRules)
	}

	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestPolicy_UnmarshalYAML_RejectsUnknownToolName(t *testing.T) {
	doc := `
tools:
  http.post:
    allow_domains: ["example.com"]
`
	var p Policy
	if err := yaml.Unmarshal([]byte(doc), &p); err == nil {
		t.Fatal("expected error for unknown tool name http.post")
	}
}
