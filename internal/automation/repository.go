package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for rule persistence operations.
// The engine reads configurations at startup and persists execution
// stats; all other writes come from the API layer, which owns
// durability after a successful engine-side mutation.
type Repository interface {
	// List retrieves all rule configurations.
	List(ctx context.Context) ([]RuleConfig, error)

	// GetByID retrieves a rule configuration by ID.
	// Returns ErrRuleNotFound if the rule does not exist.
	GetByID(ctx context.Context, id string) (*RuleConfig, error)

	// Create inserts a new rule configuration.
	// Returns ErrRuleExists if the ID already exists.
	Create(ctx context.Context, cfg *RuleConfig) error

	// Update modifies an existing rule configuration.
	// Returns ErrRuleNotFound if the rule does not exist.
	Update(ctx context.Context, cfg *RuleConfig) error

	// Delete removes a rule configuration by ID.
	// Returns ErrRuleNotFound if the rule does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateStats persists a rule's execution stats after a run.
	UpdateStats(ctx context.Context, id string, lastTriggered time.Time, executionCount int64) error
}

// SQLiteRepository implements Repository using SQLite. Trigger,
// conditions, and actions are stored as JSON in TEXT columns.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed rule repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const ruleColumns = `id, name, description, enabled, trigger, condition_logic,
	conditions, actions, last_triggered, execution_count, created_at, updated_at`

// List retrieves all rule configurations ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]RuleConfig, error) {
	query := `SELECT ` + ruleColumns + ` FROM automations ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying automations: %w", err)
	}
	defer rows.Close()

	var configs []RuleConfig
	for rows.Next() {
		cfg, err := scanRuleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning automation: %w", err)
		}
		configs = append(configs, *cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automations: %w", err)
	}

	return configs, nil
}

// GetByID retrieves a rule configuration by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*RuleConfig, error) {
	query := `SELECT ` + ruleColumns + ` FROM automations WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	cfg, err := scanRuleRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying automation by id: %w", err)
	}
	return cfg, nil
}

// Create inserts a new rule configuration.
func (r *SQLiteRepository) Create(ctx context.Context, cfg *RuleConfig) error {
	triggerJSON, conditionsJSON, actionsJSON, err := marshalRuleParts(cfg)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	query := `
		INSERT INTO automations (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.Name,
		nullableText(cfg.Description),
		boolToInt(cfg.Enabled),
		triggerJSON,
		cfg.ConditionLogic,
		conditionsJSON,
		actionsJSON,
		nullableRFC3339(cfg.LastTriggered),
		cfg.ExecutionCount,
		cfg.CreatedAt.Format(time.RFC3339),
		cfg.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting automation: %w", err)
	}

	return nil
}

// Update modifies an existing rule configuration.
func (r *SQLiteRepository) Update(ctx context.Context, cfg *RuleConfig) error {
	triggerJSON, conditionsJSON, actionsJSON, err := marshalRuleParts(cfg)
	if err != nil {
		return err
	}

	cfg.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE automations SET
			name = ?, description = ?, enabled = ?, trigger = ?,
			condition_logic = ?, conditions = ?, actions = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		cfg.Name,
		nullableText(cfg.Description),
		boolToInt(cfg.Enabled),
		triggerJSON,
		cfg.ConditionLogic,
		conditionsJSON,
		actionsJSON,
		cfg.UpdatedAt.Format(time.RFC3339),
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating automation: %w", err)
	}

	return requireRuleRows(result)
}

// Delete removes a rule configuration by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}
	return requireRuleRows(result)
}

// UpdateStats persists execution stats after a rule run.
func (r *SQLiteRepository) UpdateStats(ctx context.Context, id string, lastTriggered time.Time, executionCount int64) error {
	query := `
		UPDATE automations
		SET last_triggered = ?, execution_count = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		lastTriggered.UTC().Format(time.RFC3339),
		executionCount,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating automation stats: %w", err)
	}
	return requireRuleRows(result)
}

// marshalRuleParts encodes the polymorphic rule parts as JSON.
func marshalRuleParts(cfg *RuleConfig) (trigger, conditions, actions string, err error) {
	t, err := json.Marshal(cfg.Trigger)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling trigger: %w", err)
	}

	cs := cfg.Conditions
	if cs == nil {
		cs = []ConditionConfig{}
	}
	c, err := json.Marshal(cs)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling conditions: %w", err)
	}

	a, err := json.Marshal(cfg.Actions)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling actions: %w", err)
	}

	return string(t), string(c), string(a), nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRuleRow scans a row or rows result into a RuleConfig.
func scanRuleRow(scanner rowScanner) (*RuleConfig, error) {
	var cfg RuleConfig
	var description, lastTriggered sql.NullString
	var enabled int
	var triggerJSON, conditionsJSON, actionsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&cfg.ID,
		&cfg.Name,
		&description,
		&enabled,
		&triggerJSON,
		&cfg.ConditionLogic,
		&conditionsJSON,
		&actionsJSON,
		&lastTriggered,
		&cfg.ExecutionCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled != 0
	if description.Valid {
		cfg.Description = description.String
	}

	if lastTriggered.Valid && lastTriggered.String != "" {
		t, err := time.Parse(time.RFC3339, lastTriggered.String)
		if err == nil {
			cfg.LastTriggered = &t
		}
	}

	var parseErr error
	cfg.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	cfg.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(triggerJSON), &cfg.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshalling trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &cfg.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshalling conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &cfg.Actions); err != nil {
		return nil, fmt.Errorf("unmarshalling actions: %w", err)
	}

	return &cfg, nil
}

// requireRuleRows converts a zero-row result into ErrRuleNotFound.
func requireRuleRows(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// nullableText returns nil for empty strings for nullable TEXT columns.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableRFC3339 formats an optional timestamp for a nullable column.
func nullableRFC3339(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
