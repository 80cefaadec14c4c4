package store

import "fmt"

// initSchema creates tables and indexes if they don't exist.
func (s *Store) initSchema() error {
	tableSchema := `
	-- Threshold policies. At most one row is the default.
	CREATE TABLE IF NOT EXISTS policies (
		id BIGSERIAL PRIMARY KEY,
		min_validators_passed INT NOT NULL,
		min_confidence INT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Developmental milestones
	CREATE TABLE IF NOT EXISTS milestones (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		category VARCHAR(50) NOT NULL
			CHECK (category IN ('SOCIAL', 'LANGUAGE', 'FINE_MOTOR', 'GROSS_MOTOR')),
		policy_id BIGINT REFERENCES policies(id) ON DELETE SET NULL
	);

	-- Pass/fail checks evaluated by the model, one milestone each
	CREATE TABLE IF NOT EXISTS validators (
		id BIGSERIAL PRIMARY KEY,
		milestone_id BIGINT NOT NULL REFERENCES milestones(id),
		description TEXT NOT NULL
	);

	-- Caller credentials
	CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		key TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at TIMESTAMP
	);

	-- Append-only prompt history; the current prompt is the highest id
	CREATE TABLE IF NOT EXISTS system_prompt_history (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		change_note TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_by TEXT
	);

	-- Provider model registry
	CREATE TABLE IF NOT EXISTS provider_models (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Append-only invocation audit trail
	CREATE TABLE IF NOT EXISTS response_stats (
		id BIGSERIAL PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		request_id TEXT NOT NULL,
		status VARCHAR(20) NOT NULL,
		http_status INT NOT NULL,
		error_code TEXT,
		api_key_id BIGINT,
		milestone_id BIGINT,
		system_prompt_id BIGINT,
		policy_id BIGINT,
		model_name TEXT,
		total_token_count BIGINT,
		result BOOLEAN,
		confidence INT,
		validators_total INT,
		validators_passed INT,
		processing_time_ms BIGINT NOT NULL
	);
	`

	if _, err := s.db.Exec(tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_default ON policies(is_default) WHERE is_default`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_models_active ON provider_models(is_active) WHERE is_active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_key ON api_keys(key)`,
		`CREATE INDEX IF NOT EXISTS idx_validators_milestone ON validators(milestone_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stats_request_id ON response_stats(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stats_milestone ON response_stats(milestone_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stats_created_at ON response_stats(created_at)`,
	}

	for _, stmt := range indexStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}

	return nil
}
