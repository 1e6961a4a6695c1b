// Package policy contains the domain types for Capsule's deny-by-default
// policy: tagged per-tool rule variants, the evaluation context they are
// matched against, and the decision they produce.
package policy

import "fmt"

// Boundary names the enforcement posture of a Policy. Capsule ships a
// single boundary, deny_by_default, but the field is kept tagged (rather
// than assumed) so a future boundary kind fails loudly instead of
// silently changing behavior.
type Boundary string

// DenyByDefault is the only Boundary this version of Capsule supports.
const DenyByDefault Boundary = "deny_by_default"

// FsPolicy governs fs.read and fs.write.
type FsPolicy struct {
	AllowPaths   []string `yaml:"allow_paths" json:"allow_paths"`
	DenyPaths    []string `yaml:"deny_paths" json:"deny_paths"`
	MaxSizeBytes uint64   `yaml:"max_size_bytes" json:"max_size_bytes"`
	AllowHidden  bool     `yaml:"allow_hidden" json:"allow_hidden"`
}

// HttpPolicy governs http.get.
type HttpPolicy struct {
	AllowDomains     []string `yaml:"allow_domains" json:"allow_domains"`
	DenyPrivateIPs   bool     `yaml:"deny_private_ips" json:"deny_private_ips"`
	MaxResponseBytes uint64   `yaml:"max_response_bytes" json:"max_response_bytes"`
	TimeoutSeconds   uint32   `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ShellPolicy governs shell.run.
type ShellPolicy struct {
	AllowExecutables []string `yaml:"allow_executables" json:"allow_executables"`
	DenyTokens       []string `yaml:"deny_tokens" json:"deny_tokens"`
	TimeoutSeconds   uint32   `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxOutputBytes   uint64   `yaml:"max_output_bytes" json:"max_output_bytes"`
}

// ToolPolicyKind names which built-in tool a ToolPolicy variant governs.
type ToolPolicyKind string

const (
	KindFsRead   ToolPolicyKind = "fs.read"
	KindFsWrite  ToolPolicyKind = "fs.write"
	KindHttpGet  ToolPolicyKind = "http.get"
	KindShellRun ToolPolicyKind = "shell.run"
)

// ToolPolicy is a tagged union over the three built-in per-tool policy
// variants. Exactly one of Fs/Http/Shell is non-nil, matching Kind. A
// discriminated union, rather than one struct with every field optional,
// means an unknown tool kind at load time is a structural error instead
// of a silently-ignored zero value.
type ToolPolicy struct {
	Kind  ToolPolicyKind `json:"kind"`
	Fs    *FsPolicy      `json:"fs,omitempty"`
	Http  *HttpPolicy    `json:"http,omitempty"`
	Shell *ShellPolicy   `json:"shell,omitempty"`
}

// GlobalPolicy holds policy settings that apply across all tools.
type GlobalPolicy struct {
	GlobalTimeoutSeconds uint32 `yaml:"global_timeout_seconds" json:"global_timeout_seconds"`
	MaxCallsPerTool      uint32 `yaml:"max_calls_per_tool" json:"max_calls_per_tool"`
}

// Action represents the outcome of evaluating a rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// CustomRule is an optional supplementary CEL-expressed rule evaluated
// after the structured fs/http/shell rules, for conditions the tagged
// per-tool schema can't express on its own (e.g. a condition spanning both
// the destination and the tool's args together). See
// internal/adapter/outbound/celpolicy.
type CustomRule struct {
	Name      string `yaml:"name" json:"name"`
	Condition string `yaml:"condition" json:"condition"`
	Action    Action `yaml:"action" json:"action"`
	HelpText  string `yaml:"help_text,omitempty" json:"help_text,omitempty"`
}

// Policy is the frozen policy a Run is evaluated against. It is loaded
// once at run start and never mutated afterward; every Decision made
// during a run can be explained by this fixed value alone.
type Policy struct {
	Boundary    Boundary              `yaml:"boundary" json:"boundary"`
	Tools       map[string]ToolPolicy `json:"tools"`
	Global      GlobalPolicy          `yaml:"global" json:"global"`
	CustomRules []CustomRule          `yaml:"custom_rules,omitempty" json:"custom_rules,omitempty"`
}

// Decision represents the outcome of policy evaluation for a tool call.
type Decision struct {
	// Allowed is true if the tool call is permitted.
	Allowed bool
	// RuleHit names the policy field or custom rule that produced this
	// decision, e.g. "fs.deny_paths" or a CustomRule.Name.
	RuleHit string
	// Reason explains why the decision was made.
	Reason string

	// RuleName is a human-readable label for RuleHit, used in reports.
	RuleName string
	// HelpURL optionally points at documentation explaining this rule.
	HelpURL string
	// HelpText is a human explanation of how to resolve a denial.
	HelpText string
}

// Validate rejects a Policy that does not conform to the contract loaders
// must enforce: unknown tool names fail fast, the boundary must be the
// only supported kind, and each ToolPolicy variant must carry the payload
// implied by its own Kind.
func (p *Policy) Validate() error {
	if p.Boundary == "" {
		p.Boundary = DenyByDefault
	}
	if p.Boundary != DenyByDefault {
		return fmt.Errorf("policy: unsupported boundary %q", p.Boundary)
	}
	for name, tp := range p.Tools {
		switch ToolPolicyKind(name) {
		case KindFsRead, KindFsWrite:
			if tp.Fs == nil {
				return fmt.Errorf("policy: tool %q declared but missing fs policy body", name)
			}
		case KindHttpGet:
			if tp.Http == nil {
				return fmt.Errorf("policy: tool %q declared but missing http policy body", name)
			}
		case KindShellRun:
			if tp.Shell == nil {
				return fmt.Errorf("policy: tool %q declared but missing shell policy body", name)
			}
		default:
			return fmt.Errorf("policy: unknown tool name %q in policy", name)
		}
	}
	for _, rule := range p.CustomRules {
		if rule.Action != ActionAllow && rule.Action != ActionDeny {
			return fmt.Errorf("policy: custom rule %q has invalid action %q", rule.Name, rule.Action)
		}
	}
	return nil
}

// ToolPolicyFor returns the ToolPolicy registered for tool, and whether one
// was found. Under deny-by-default, the absence of an entry means deny.
func (p *Policy) ToolPolicyFor(tool string) (ToolPolicy, bool) {
	tp, ok := p.Tools[tool]
	return tp, ok
}
