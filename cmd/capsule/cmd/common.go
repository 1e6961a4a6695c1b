package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/capsule-rt/capsule/internal/adapter/outbound/celpolicy"
	"github.com/capsule-rt/capsule/internal/adapter/outbound/policyeval"
	"github.com/capsule-rt/capsule/internal/adapter/outbound/sqlitestore"
	"github.com/capsule-rt/capsule/internal/config"
	"github.com/capsule-rt/capsule/internal/domain/policy"
	"github.com/capsule-rt/capsule/internal/domain/tool"
	"github.com/capsule-rt/capsule/internal/metrics"
	"github.com/capsule-rt/capsule/internal/tools/fsread"
	"github.com/capsule-rt/capsule/internal/tools/fswrite"
	"github.com/capsule-rt/capsule/internal/tools/httpget"
	"github.com/capsule-rt/capsule/internal/tools/shellrun"
	"github.com/prometheus/client_golang/prometheus"
)

// cmdOut is where subcommands write their primary output. A function
// rather than a bare os.Stdout reference so tests can redirect it.
var cmdOut = func() io.Writer { return os.Stdout }

// loadPolicy reads and validates the policy YAML at path.
func loadPolicy(path string) (*policy.Policy, error) {
	pol, err := policy.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", path, err)
	}
	return pol, nil
}

// openStore opens the audit store at cfg.DBPath, which LoadConfig has
// already resolved (flags, then CAPSULE_DB_PATH, then the "./capsule.db"
// default).
func openStore(cfg *config.RunConfig) (*sqlitestore.Store, error) {
	store, err := sqlitestore.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store at %s: %w", cfg.DBPath, err)
	}
	return store, nil
}

// buildEngine constructs the Policy Engine, including the optional CEL
// supplementary rule layer — cheap enough to always build, since a
// Policy without custom_rules never calls into it.
func buildEngine() (*policyeval.Engine, error) {
	evaluator, err := celpolicy.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("build CEL evaluator: %w", err)
	}
	return policyeval.NewEngine(evaluator), nil
}

// buildRegistry wires the four built-in tools rooted at workingDir.
// engine supplies http.get's pinned-address lookup so a tool never
// re-resolves a host the Policy Engine already resolved and approved. pol
// supplies fs.read's max_size_bytes, the one policy value a tool must
// enforce itself rather than leaving entirely to the engine.
func buildRegistry(engine *policyeval.Engine, pol *policy.Policy, workingDir string) *tool.Registry {
	return tool.NewRegistry(
		fsread.New(workingDir, fsReadMaxSizeBytes(pol)),
		fswrite.New(workingDir, allowAnyParent),
		shellrun.New(workingDir),
		httpget.New(engine),
	)
}

// fsReadMaxSizeBytes returns the active policy's fs.read max_size_bytes, or
// 0 (unbounded) when fs.read has no policy entry or doesn't set one.
func fsReadMaxSizeBytes(pol *policy.Policy) uint64 {
	tp, ok := pol.ToolPolicyFor(string(policy.KindFsRead))
	if !ok || tp.Fs == nil {
		return 0
	}
	return tp.Fs.MaxSizeBytes
}

// allowAnyParent lets fs.write create any parent directory. Safe because
// Execute only ever runs after the Policy Engine's allow_paths check has
// already passed for this exact path, so every parent directory it might
// create is already within the allowed tree.
func allowAnyParent(dir string) bool { return true }

// buildMetrics registers Capsule's metrics against the default Prometheus
// registry so a metrics endpoint could serve them; the CLI itself neither
// serves them nor reads them back.
func buildMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.DefaultRegisterer)
}

func workingDirOrDefault() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return dir, nil
}
