package policyeval

import "github.com/capsule-rt/capsule/internal/domain/policy"

func deny(ruleHit, reason string) policy.Decision {
	return policy.Decision{
		Allowed:  false,
		RuleHit:  ruleHit,
		Reason:   reason,
		RuleName: ruleHit,
		HelpText: helpTextFor(ruleHit),
	}
}

func allow(ruleHit string) policy.Decision {
	return policy.Decision{
		Allowed:  true,
		RuleHit:  ruleHit,
		Reason:   "allowed",
		RuleName: ruleHit,
	}
}

// helpTextFor generates operator-facing guidance for a denial, grounded on
// the same pattern as a generated help message that names the rule and
// suggests the policy field to edit.
func helpTextFor(ruleHit string) string {
	switch ruleHit {
	case "fs.allow_paths":
		return "Add a matching pattern to this tool's allow_paths, or adjust the requested path."
	case "fs.deny_paths":
		return "This path matches a deny_paths pattern; deny always overrides allow."
	case "fs.allow_hidden":
		return "Set allow_hidden: true on this tool's policy to permit hidden paths."
	case "http.allow_domains":
		return "Add the destination host to this tool's allow_domains."
	case "http.deny_private_ips":
		return "The destination resolves to a private or link-local address; deny_private_ips is blocking it."
	case "shell.allow_executables":
		return "Add the executable to this tool's allow_executables."
	case "shell.deny_tokens":
		return "The command contains a denied token; edit deny_tokens or the command."
	case "quota_exceeded":
		return "Increase max_calls_per_tool or reduce the number of calls to this tool."
	case "global_timeout":
		return "Increase global_timeout_seconds or shorten the plan."
	default:
		return ""
	}
}
