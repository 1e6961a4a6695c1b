package sqlitestore

// baseSchema is applied with CREATE TABLE IF NOT EXISTS, so running it
// against an already-initialized database is a no-op.
const baseSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	created_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP,
	plan_hash       TEXT NOT NULL,
	policy_hash     TEXT NOT NULL,
	plan_json       TEXT NOT NULL,
	policy_json     TEXT NOT NULL,
	mode            TEXT NOT NULL,
	status          TEXT NOT NULL,
	total_steps     INTEGER NOT NULL,
	completed_steps INTEGER NOT NULL DEFAULT 0,
	denied_steps    INTEGER NOT NULL DEFAULT 0,
	failed_steps    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tool_calls (
	call_id    TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(run_id),
	step_index INTEGER NOT NULL,
	tool_name  TEXT NOT NULL,
	args_json  TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id, step_index);

CREATE TABLE IF NOT EXISTS tool_results (
	call_id      TEXT PRIMARY KEY REFERENCES tool_calls(call_id),
	run_id       TEXT NOT NULL REFERENCES runs(run_id),
	status       TEXT NOT NULL,
	output_json  TEXT,
	error        TEXT,
	decision_json TEXT NOT NULL,
	started_at   TIMESTAMP NOT NULL,
	ended_at     TIMESTAMP NOT NULL,
	input_hash   TEXT NOT NULL,
	output_hash  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_results_run ON tool_results(run_id);

CREATE TABLE IF NOT EXISTS planner_proposals (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(run_id),
	iteration     INTEGER NOT NULL,
	proposal_type TEXT NOT NULL,
	tool_name     TEXT,
	args_json     TEXT,
	reasoning     TEXT,
	raw_response  TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_planner_proposals_run ON planner_proposals(run_id, iteration);
`
