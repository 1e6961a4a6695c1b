package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawPolicy mirrors Policy's YAML shape except Tools is kept as raw nodes,
// since each entry's concrete type (FsPolicy/HttpPolicy/ShellPolicy)
// depends on its map key rather than an explicit "kind" field: a policy
// author writes the tool name once and its fields flat underneath, not a
// kind-tagged wrapper.
type rawPolicy struct {
	Boundary    Boundary             `yaml:"boundary"`
	Tools       map[string]yaml.Node `yaml:"tools"`
	Global      GlobalPolicy         `yaml:"global"`
	CustomRules []CustomRule         `yaml:"custom_rules"`
}

// UnmarshalYAML decodes a Policy document, inferring each tools entry's
// ToolPolicy variant from its map key.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	// node.Decode does not inherit the caller's KnownFields setting, so
	// unknown top-level keys are rejected here explicitly.
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			switch key := node.Content[i].Value; key {
			case "boundary", "tools", "global", "custom_rules":
			default:
				return fmt.Errorf("policy: unknown top-level key %q", key)
			}
		}
	}

	var raw rawPolicy
	if err := node.Decode(&raw); err != nil {
		return err
	}

	p.Boundary = raw.Boundary
	p.Global = raw.Global
	p.CustomRules = raw.CustomRules
	p.Tools = make(map[string]ToolPolicy, len(raw.Tools))

	for name, body := range raw.Tools {
		kind := ToolPolicyKind(name)
		tp := ToolPolicy{Kind: kind}
		switch kind {
		case KindFsRead, KindFsWrite:
			var fs FsPolicy
			if err := body.Decode(&fs); err != nil {
				return fmt.Errorf("policy: tool %q: %w", name, err)
			}
			tp.Fs = &fs
		case KindHttpGet:
			var h HttpPolicy
			if err := body.Decode(&h); err != nil {
				return fmt.Errorf("policy: tool %q: %w", name, err)
			}
			tp.Http = &h
		case KindShellRun:
			var sh ShellPolicy
			if err := body.Decode(&sh); err != nil {
				return fmt.Errorf("policy: tool %q: %w", name, err)
			}
			tp.Shell = &sh
		default:
			return fmt.Errorf("policy: unknown tool name %q in policy", name)
		}
		p.Tools[name] = tp
	}
	return nil
}
