// Package sqlitestore implements the audit.Store interface on top of
// SQLite, via the pure-Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/capsule-rt/capsule/internal/canonical"
	"github.com/capsule-rt/capsule/internal/domain/audit"
	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// maxIDAttempts bounds the number of collision retries when generating a
// short opaque id; at 4 bytes of randomness a collision inside this bound
// would indicate a bug elsewhere, not bad luck.
const maxIDAttempts = 10

// Store is a SQLite-backed implementation of audit.Store. One Store per
// database file; callers share it across the orchestrator and the replay
// engine.
type Store struct {
	db *sql.DB
}

var _ audit.Store = (*Store)(nil)

// New opens (creating if absent) the database at dbPath, applies pragmas
// and migrations, and returns a ready Store. dbPath must be a plain
// filesystem path or ":memory:"; DSN query parameters are not supported.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("sqlitestore: create db directory: %w", err)
			}
		}
		if err := ensurePrivateFile(dbPath); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func ensurePrivateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("sqlitestore: stat db path: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("sqlitestore: create db file: %w", err)
	}
	return f.Close()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newUniqueID(ctx context.Context, table, column string) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := newShortID()
		if err != nil {
			return "", err
		}
		var exists int
		q := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", table, column)
		err = s.db.QueryRowContext(ctx, q, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("sqlitestore: could not generate unique id for %s.%s after %d attempts", table, column, maxIDAttempts)
}

func (s *Store) CreateRun(ctx context.Context, planJSON, policyJSON string, mode audit.Mode, totalSteps int) (string, error) {
	planHash := canonical.HashBytes([]byte(planJSON))
	policyHash := canonical.HashBytes([]byte(policyJSON))

	runID, err := s.newUniqueID(ctx, "runs", "run_id")
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at, plan_hash, policy_hash, plan_json, policy_json, mode, status, total_steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), planHash, policyHash, planJSON, policyJSON, string(mode), string(audit.RunPending), totalSteps,
	)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: insert run: %w", err)
	}
	return runID, nil
}

func (s *Store) RecordCall(ctx context.Context, runID string, stepIndex int, toolName string, args map[string]any) (string, error) {
	argsJSON, err := canonical.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: canonicalize args: %w", err)
	}

	callID, err := s.newUniqueID(ctx, "tool_calls", "call_id")
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (call_id, run_id, step_index, tool_name, args_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		callID, runID, stepIndex, toolName, string(argsJSON), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: insert tool_call: %w", err)
	}
	return callID, nil
}

func (s *Store) RecordResult(ctx context.Context, callID, runID, status string, output any, errMsg string, decision policy.Decision, startedAt, endedAt time.Time) error {
	var argsJSON string
	if err := s.db.QueryRowContext(ctx, "SELECT args_json FROM tool_calls WHERE call_id = ?", callID).Scan(&argsJSON); err != nil {
		return fmt.Errorf("sqlitestore: load call %s for input_hash: %w", callID, err)
	}
	inputHash := canonical.HashBytes([]byte(argsJSON))

	outputJSON, err := canonical.Marshal(output)
	if err != nil {
		return fmt.Errorf("sqlitestore: canonicalize output: %w", err)
	}
	outputHash := canonical.HashBytes(outputJSON)

	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal decision: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_results (call_id, run_id, status, output_json, error, decision_json, started_at, ended_at, input_hash, output_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		callID, runID, status, string(outputJSON), errMsg, string(decisionJSON), startedAt.UTC(), endedAt.UTC(), inputHash, outputHash,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert tool_result: %w", err)
	}
	return nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status audit.RunStatus, completedSteps, deniedSteps, failedSteps int) error {
	var current string
	if err := s.db.QueryRowContext(ctx, "SELECT status FROM runs WHERE run_id = ?", runID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("sqlitestore: run %s not found", runID)
		}
		return err
	}
	if !validTransition(audit.RunStatus(current), status) {
		return fmt.Errorf("sqlitestore: invalid run status transition %s -> %s", current, status)
	}

	var completedAt any
	if status == audit.RunCompleted || status == audit.RunFailed {
		completedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_steps = ?, denied_steps = ?, failed_steps = ?, completed_at = COALESCE(?, completed_at)
		WHERE run_id = ?`,
		string(status), completedSteps, deniedSteps, failedSteps, completedAt, runID,
	)
	return err
}

func validTransition(from, to audit.RunStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case audit.RunPending:
		return to == audit.RunRunning
	case audit.RunRunning:
		return to == audit.RunCompleted || to == audit.RunFailed
	default:
		return false
	}
}

func (s *Store) RecordPlannerProposal(ctx context.Context, p audit.PlannerProposal) error {
	// Proposals are never typed by a user the way run/call ids are, so
	// they get a full uuid rather than the collision-checked short id.
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO planner_proposals (id, run_id, iteration, proposal_type, tool_name, args_json, reasoning, raw_response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.RunID, p.Iteration, string(p.ProposalType), p.ToolName, p.ArgsJSON, p.Reasoning, p.RawResponse, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert planner_proposal: %w", err)
	}
	return nil
}

// VerifyRun recomputes plan_hash/policy_hash and every call's input_hash/
// output_hash from the stored JSON text and compares them against the
// recorded values. A mismatch means the row was altered after it was
// written without going through this store.
func (s *Store) VerifyRun(ctx context.Context, runID string) (audit.VerifyResult, error) {
	result := audit.VerifyResult{OK: true}

	var planJSON, policyJSON, planHash, policyHash string
	err := s.db.QueryRowContext(ctx, "SELECT plan_json, policy_json, plan_hash, policy_hash FROM runs WHERE run_id = ?", runID).
		Scan(&planJSON, &policyJSON, &planHash, &policyHash)
	if err == sql.ErrNoRows {
		return audit.VerifyResult{}, fmt.Errorf("sqlitestore: run %s not found", runID)
	}
	if err != nil {
		return audit.VerifyResult{}, err
	}

	if got := canonical.HashBytes([]byte(planJSON)); got != planHash {
		result.OK = false
		result.Mismatches = append(result.Mismatches, "run.plan_hash")
	}
	if got := canonical.HashBytes([]byte(policyJSON)); got != policyHash {
		result.OK = false
		result.Mismatches = append(result.Mismatches, "run.policy_hash")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.call_id, c.args_json, r.output_json, r.input_hash, r.output_hash
		FROM tool_calls c JOIN tool_results r ON r.call_id = c.call_id
		WHERE c.run_id = ?`, runID)
	if err != nil {
		return audit.VerifyResult{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var callID, argsJSON, outputJSON, inputHash, outputHash string
		if err := rows.Scan(&callID, &argsJSON, &outputJSON, &inputHash, &outputHash); err != nil {
			return audit.VerifyResult{}, err
		}
		if got := canonical.HashBytes([]byte(argsJSON)); got != inputHash {
			result.OK = false
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("call %s: input_hash", callID))
		}
		if got := canonical.HashBytes([]byte(outputJSON)); got != outputHash {
			result.OK = false
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("call %s: output_hash", callID))
		}
	}
	if err := rows.Err(); err != nil {
		return audit.VerifyResult{}, err
	}

	return result, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*audit.Run, error) {
	var r audit.Run
	var completedAt sql.NullTime
	var mode, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, created_at, completed_at, plan_hash, policy_hash, plan_json, policy_json, mode, status,
		       total_steps, completed_steps, denied_steps, failed_steps
		FROM runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.CreatedAt, &completedAt, &r.PlanHash, &r.PolicyHash, &r.PlanJSON, &r.PolicyJSON, &mode, &status,
		&r.TotalSteps, &r.CompletedSteps, &r.DeniedSteps, &r.FailedSteps,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlitestore: run %s not found", runID)
	}
	if err != nil {
		return nil, err
	}
	r.Mode = audit.Mode(mode)
	r.Status = audit.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]audit.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, created_at, completed_at, plan_hash, policy_hash, plan_json, policy_json, mode, status,
		       total_steps, completed_steps, denied_steps, failed_steps
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []audit.Run
	for rows.Next() {
		var r audit.Run
		var completedAt sql.NullTime
		var mode, status string
		if err := rows.Scan(
			&r.RunID, &r.CreatedAt, &completedAt, &r.PlanHash, &r.PolicyHash, &r.PlanJSON, &r.PolicyJSON, &mode, &status,
			&r.TotalSteps, &r.CompletedSteps, &r.DeniedSteps, &r.FailedSteps,
		); err != nil {
			return nil, err
		}
		r.Mode = audit.Mode(mode)
		r.Status = audit.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) CallsForRun(ctx context.Context, runID string) ([]audit.ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, run_id, step_index, tool_name, args_json, created_at
		FROM tool_calls WHERE run_id = ? ORDER BY step_index ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []audit.ToolCall
	for rows.Next() {
		var c audit.ToolCall
		var argsJSON string
		if err := rows.Scan(&c.CallID, &c.RunID, &c.StepIndex, &c.ToolName, &argsJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(argsJSON), &c.Args); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode args for call %s: %w", c.CallID, err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func (s *Store) ResultsForRun(ctx context.Context, runID string) (map[string]audit.ToolResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, run_id, status, output_json, error, decision_json, started_at, ended_at, input_hash, output_hash
		FROM tool_results WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]audit.ToolResult)
	for rows.Next() {
		var r audit.ToolResult
		var outputJSON, decisionJSON string
		if err := rows.Scan(&r.CallID, &r.RunID, &r.Status, &outputJSON, &r.Error, &decisionJSON, &r.StartedAt, &r.EndedAt, &r.InputHash, &r.OutputHash); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(outputJSON), &r.Output); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode output for call %s: %w", r.CallID, err)
		}
		if err := json.Unmarshal([]byte(decisionJSON), &r.Decision); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode decision for call %s: %w", r.CallID, err)
		}
		results[r.CallID] = r
	}
	return results, rows.Err()
}

func (s *Store) ProposalsForRun(ctx context.Context, runID string) ([]audit.PlannerProposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, iteration, proposal_type, tool_name, args_json, reasoning, raw_response, created_at
		FROM planner_proposals WHERE run_id = ? ORDER BY iteration ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []audit.PlannerProposal
	for rows.Next() {
		var p audit.PlannerProposal
		var proposalType string
		var toolName, argsJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Iteration, &proposalType, &toolName, &argsJSON, &p.Reasoning, &p.RawResponse, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ProposalType = audit.ProposalType(proposalType)
		p.ToolName = toolName.String
		p.ArgsJSON = argsJSON.String
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// RecordEvent appends a row to capsule_events: operational traceability for
// config/policy loading and other CLI-lifecycle events that aren't
// themselves a tool call, so an operator can see when a run picked up a
// given policy or config without that showing up as a fake Run. This sits
// outside audit.Store's interface deliberately — it is not part of a run's
// tamper-evident trail, just ops logging alongside it.
func (s *Store) RecordEvent(ctx context.Context, eventType, detail string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO capsule_events (event_type, detail, created_at) VALUES (?, ?, ?)",
		eventType, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlitestore: record event %s: %w", eventType, err)
	}
	return nil
}
