// Package store is the PostgreSQL persistence layer: milestone and validator
// configuration, policies, API keys, the system prompt history, the model
// registry, and the append-only invocation audit trail.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// Store wraps the PostgreSQL connection pool.
type Store struct {
	db *sql.DB
}

// New opens the database, verifies connectivity, and ensures the schema.
func New(postgresURL string) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetMilestone returns the milestone with the given id, or nil when absent.
func (s *Store) GetMilestone(ctx context.Context, id int64) (*models.Milestone, error) {
	var m models.Milestone
	var policyID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, policy_id FROM milestones WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Category, &policyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read milestone %d: %w", id, err)
	}
	if policyID.Valid {
		m.PolicyID = &policyID.Int64
	}
	return &m, nil
}

// GetValidatorsByMilestone returns the milestone's validators in id order.
func (s *Store) GetValidatorsByMilestone(ctx context.Context, milestoneID int64) ([]models.Validator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, milestone_id, description FROM validators
		WHERE milestone_id = $1 ORDER BY id
	`, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to read validators for milestone %d: %w", milestoneID, err)
	}
	defer rows.Close()

	var validators []models.Validator
	for rows.Next() {
		var v models.Validator
		if err := rows.Scan(&v.ID, &v.MilestoneID, &v.Description); err != nil {
			return nil, fmt.Errorf("failed to scan validator: %w", err)
		}
		validators = append(validators, v)
	}
	return validators, rows.Err()
}

// MilestoneIDName is one row of the milestone listing.
type MilestoneIDName struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ListMilestoneIDs returns all milestone id/name pairs in id order.
func (s *Store) ListMilestoneIDs(ctx context.Context) ([]MilestoneIDName, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM milestones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer rows.Close()

	var out []MilestoneIDName
	for rows.Next() {
		var m MilestoneIDName
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetCurrentSystemPrompt returns the most recent prompt row (highest id),
// or nil when the history is empty.
func (s *Store) GetCurrentSystemPrompt(ctx context.Context) (*models.SystemPrompt, error) {
	var p models.SystemPrompt
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content FROM system_prompt_history ORDER BY id DESC LIMIT 1
	`).Scan(&p.ID, &p.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current system prompt: %w", err)
	}
	return &p, nil
}

// GetActiveModel returns the single active model row, or nil when none is
// flagged. Uniqueness of the flag is enforced by a partial unique index.
func (s *Store) GetActiveModel(ctx context.Context) (*models.Model, error) {
	var m models.Model
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_active FROM provider_models WHERE is_active LIMIT 1
	`).Scan(&m.ID, &m.Name, &m.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active model: %w", err)
	}
	return &m, nil
}

// GetPolicyByID returns the policy with the given id, or nil when absent.
func (s *Store) GetPolicyByID(ctx context.Context, id int64) (*models.Policy, error) {
	return s.scanPolicy(s.db.QueryRowContext(ctx, `
		SELECT id, min_validators_passed, min_confidence, is_default
		FROM policies WHERE id = $1
	`, id))
}

// GetDefaultPolicy returns the policy flagged as the process-wide default,
// or nil when none exists.
func (s *Store) GetDefaultPolicy(ctx context.Context) (*models.Policy, error) {
	return s.scanPolicy(s.db.QueryRowContext(ctx, `
		SELECT id, min_validators_passed, min_confidence, is_default
		FROM policies WHERE is_default LIMIT 1
	`))
}

func (s *Store) scanPolicy(row *sql.Row) (*models.Policy, error) {
	var p models.Policy
	err := row.Scan(&p.ID, &p.MinValidatorsPassed, &p.MinConfidence, &p.IsDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return &p, nil
}

// GetAPIKeyByKey returns the API key row matching the presented key, or nil.
func (s *Store) GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error) {
	var k models.APIKey
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, user_id, name, is_active, created_at, last_used_at
		FROM api_keys WHERE key = $1 LIMIT 1
	`, key).Scan(&k.ID, &k.Key, &k.UserID, &k.Name, &k.IsActive, &k.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read api key: %w", err)
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return &k, nil
}

// TouchAPIKey updates the key's last-used timestamp.
func (s *Store) TouchAPIKey(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key %d: %w", id, err)
	}
	return nil
}

// InsertResponseStat appends one invocation audit record.
func (s *Store) InsertResponseStat(ctx context.Context, stat *models.ResponseStat) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO response_stats (
			request_id, status, http_status, error_code,
			api_key_id, milestone_id, system_prompt_id, policy_id, model_name,
			total_token_count, result, confidence,
			validators_total, validators_passed, processing_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`,
		stat.RequestID, stat.Status, stat.HTTPStatus, stat.ErrorCode,
		stat.APIKeyID, stat.MilestoneID, stat.SystemPromptID, stat.PolicyID, stat.ModelName,
		stat.TotalTokenCount, stat.Result, stat.ConfidencePct,
		stat.ValidatorsTotal, stat.ValidatorsPassed, stat.ProcessingTimeMs,
	).Scan(&stat.ID, &stat.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert response stat: %w", err)
	}
	return nil
}

// GetResponseStats returns all audit records for a request id, oldest first.
func (s *Store) GetResponseStats(ctx context.Context, requestID string) ([]models.ResponseStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, request_id, status, http_status, error_code,
			api_key_id, milestone_id, system_prompt_id, policy_id, model_name,
			total_token_count, result, confidence,
			validators_total, validators_passed, processing_time_ms
		FROM response_stats WHERE request_id = $1 ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read response stats: %w", err)
	}
	defer rows.Close()

	var stats []models.ResponseStat
	for rows.Next() {
		var st models.ResponseStat
		var errorCode, modelName sql.NullString
		var apiKeyID, milestoneID, promptID, policyID, tokenCount sql.NullInt64
		var result sql.NullBool
		var confidence, vTotal, vPassed sql.NullInt64
		if err := rows.Scan(
			&st.ID, &st.CreatedAt, &st.RequestID, &st.Status, &st.HTTPStatus, &errorCode,
			&apiKeyID, &milestoneID, &promptID, &policyID, &modelName,
			&tokenCount, &result, &confidence,
			&vTotal, &vPassed, &st.ProcessingTimeMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan response stat: %w", err)
		}
		if errorCode.Valid {
			st.ErrorCode = &errorCode.String
		}
		if modelName.Valid {
			st.ModelName = &modelName.String
		}
		if apiKeyID.Valid {
			st.APIKeyID = &apiKeyID.Int64
		}
		if milestoneID.Valid {
			st.MilestoneID = &milestoneID.Int64
		}
		if promptID.Valid {
			st.SystemPromptID = &promptID.Int64
		}
		if policyID.Valid {
			st.PolicyID = &policyID.Int64
		}
		if tokenCount.Valid {
			st.TotalTokenCount = &tokenCount.Int64
		}
		if result.Valid {
			st.Result = &result.Bool
		}
		if confidence.Valid {
			c := int(confidence.Int64)
			st.ConfidencePct = &c
		}
		if vTotal.Valid {
			t := int(vTotal.Int64)
			st.ValidatorsTotal = &t
		}
		if vPassed.Valid {
			p := int(vPassed.Int64)
			st.ValidatorsPassed = &p
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
