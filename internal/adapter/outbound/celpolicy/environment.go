package celpolicy

import (
	"net"
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// newPolicyEnvironment builds the CEL environment custom_rules conditions
// are compiled against: the fields of policy.EvaluationContext, plus two
// helper functions (glob, dest_ip_in_cidr) conditions commonly need but CEL
// doesn't provide natively.
func newPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool_name", cel.StringType),
		cel.Variable("tool_args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("working_dir", cel.StringType),
		cel.Variable("run_id", cel.StringType),
		cel.Variable("step_index", cel.IntType),
		cel.Variable("request_time", cel.TimestampType),

		cel.Variable("dest_domain", cel.StringType),
		cel.Variable("dest_ip", cel.StringType),
		cel.Variable("dest_port", cel.IntType),
		cel.Variable("dest_scheme", cel.StringType),
		cel.Variable("dest_path", cel.StringType),
		cel.Variable("dest_command", cel.StringType),

		// glob: shell-style pattern matching, e.g. glob("git*", tool_args.cmd[0]).
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// dest_ip_in_cidr: dest_ip_in_cidr(dest_ip, "10.0.0.0/8").
		cel.Function("dest_ip_in_cidr",
			cel.Overload("dest_ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ip := net.ParseIP(ipVal.Value().(string))
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),
	)
}

// buildActivation creates a CEL activation map from an EvaluationContext.
func buildActivation(evalCtx policy.EvaluationContext) map[string]any {
	toolArgs := evalCtx.ToolArguments
	if toolArgs == nil {
		toolArgs = map[string]any{}
	}
	return map[string]any{
		"tool_name":    evalCtx.ToolName,
		"tool_args":    toolArgs,
		"working_dir":  evalCtx.WorkingDir,
		"run_id":       evalCtx.RunID,
		"step_index":   int64(evalCtx.StepIndex),
		"request_time": evalCtx.RequestTime,

		"dest_domain":  evalCtx.DestDomain,
		"dest_ip":      evalCtx.DestIP,
		"dest_port":    int64(evalCtx.DestPort),
		"dest_scheme":  evalCtx.DestScheme,
		"dest_path":    evalCtx.DestPath,
		"dest_command": evalCtx.DestCommand,
	}
}
