package policyeval

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// evaluateShell implements the shell.run rules: cmd must be a non-empty
// list of strings (never shell-interpreted), the executable must be
// allow-listed, and no argument may contain a denied token.
func evaluateShell(p *policy.ShellPolicy, args map[string]any) policy.Decision {
	rawCmd, ok := args["cmd"].([]any)
	if !ok || len(rawCmd) == 0 {
		return deny("shell.invalid_cmd", "args.cmd must be a non-empty list of strings")
	}

	cmd := make([]string, len(rawCmd))
	for i, v := range rawCmd {
		s, ok := v.(string)
		if !ok {
			return deny("shell.invalid_cmd", fmt.Sprintf("args.cmd[%d] is not a string", i))
		}
		cmd[i] = s
	}

	exe := filepath.Base(cmd[0])
	allowed := false
	for _, a := range p.AllowExecutables {
		if a == exe {
			allowed = true
			break
		}
	}
	if !allowed {
		return deny("shell.allow_executables", fmt.Sprintf("executable %q is not in allow_executables", exe))
	}

	for _, token := range p.DenyTokens {
		for _, arg := range cmd {
			if strings.Contains(arg, token) {
				return deny("shell.deny_tokens", fmt.Sprintf("argument contains denied token %q", token))
			}
		}
	}

	return allow("shell")
}
