package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/core"
)

// MySQLStore is a MySQL implementation of the TemplateStore, SendCounter
// and ConversationStore interfaces
type MySQLStore struct {
	db          *sql.DB
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMySQLStore creates a new MySQL store from a DSN
func NewMySQLStore(dsn string, logger *zap.Logger, cleanupFreq time.Duration) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	// Create tables if they don't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reply_templates (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255),
			category VARCHAR(64),
			safety_level VARCHAR(32),
			auto_send_enabled BOOLEAN,
			confidence_threshold DOUBLE,
			trigger_intents TEXT,
			trigger_keywords TEXT,
			exclude_if_present TEXT,
			available_variables TEXT,
			required_variables TEXT,
			body TEXT,
			usage_count INT DEFAULT 0,
			last_used_at VARCHAR(40),
			active BOOLEAN
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create templates table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS auto_send_counts (
			day VARCHAR(10) PRIMARY KEY,
			count INT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create counts table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_triage (
			conversation_id VARCHAR(64) PRIMARY KEY,
			intent_category VARCHAR(64),
			rule_score DOUBLE,
			automation_tag VARCHAR(32),
			automation_confidence DOUBLE,
			requires_human_review BOOLEAN,
			priority_score DOUBLE,
			priority_band VARCHAR(8),
			classified_at VARCHAR(40)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create triage table: %w", err)
	}

	store := &MySQLStore{
		db:          db,
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	go store.startCleanupTask()

	return store, nil
}

// SaveTemplate inserts or replaces a reply template
func (s *MySQLStore) SaveTemplate(ctx context.Context, tpl *core.Template) error {
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO reply_templates (
			id, name, category, safety_level, auto_send_enabled,
			confidence_threshold, trigger_intents, trigger_keywords,
			exclude_if_present, available_variables, required_variables,
			body, usage_count, last_used_at, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tpl.ID, tpl.Name, string(tpl.Category), string(tpl.SafetyLevel), tpl.AutoSendEnabled,
		tpl.AutoSendConfidenceThreshold, marshalIntents(tpl.TriggerIntents), marshalList(tpl.TriggerKeywords),
		marshalList(tpl.ExcludeIfPresent), marshalList(tpl.AvailableVariables), marshalList(tpl.RequiredVariables),
		tpl.Body, tpl.UsageCount, tpl.LastUsedAt.Format(time.RFC3339), tpl.Active)

	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// ListActive returns all templates currently enabled for matching
func (s *MySQLStore) ListActive(ctx context.Context) ([]*core.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, safety_level, auto_send_enabled,
			confidence_threshold, trigger_intents, trigger_keywords,
			exclude_if_present, available_variables, required_variables,
			body, usage_count, last_used_at, active
		FROM reply_templates
		WHERE active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*core.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// Get retrieves a single template by id
func (s *MySQLStore) Get(ctx context.Context, id string) (*core.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, safety_level, auto_send_enabled,
			confidence_threshold, trigger_intents, trigger_keywords,
			exclude_if_present, available_variables, required_variables,
			body, usage_count, last_used_at, active
		FROM reply_templates
		WHERE id = ?
	`, id)

	tpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, ErrTemplateNotFound
	}
	return tpl, err
}

// RecordUsage bumps a template's usage counter after a send
func (s *MySQLStore) RecordUsage(ctx context.Context, id string, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reply_templates
		SET usage_count = usage_count + 1, last_used_at = ?
		WHERE id = ?
	`, usedAt.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to record template usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// Current returns the number of auto-sends recorded for the given day
func (s *MySQLStore) Current(ctx context.Context, day time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM auto_send_counts WHERE day = ?
	`, dayKey(day)).Scan(&count)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query send count: %w", err)
	}
	return count, nil
}

// IncrementIfBelow increments the day's counter only while it is below max.
// MySQL reports 1 affected row for an insert, 2 for an update that changed
// the row and 0 when the IF guard left it untouched, so a zero result means
// the cap was already reached.
func (s *MySQLStore) IncrementIfBelow(ctx context.Context, day time.Time, max int) (bool, error) {
	if max <= 0 {
		return false, nil
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO auto_send_counts (day, count) VALUES (?, 1)
		ON DUPLICATE KEY UPDATE count = IF(count < ?, count + 1, count)
	`, dayKey(day), max)
	if err != nil {
		return false, fmt.Errorf("failed to increment send count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// SaveTriage writes the classification and priority fields for a conversation
func (s *MySQLStore) SaveTriage(ctx context.Context, conversationID string, classification *core.ClassificationResult, priority *core.PriorityResult) error {
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO conversation_triage (
			conversation_id, intent_category, rule_score, automation_tag,
			automation_confidence, requires_human_review,
			priority_score, priority_band, classified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conversationID, string(classification.IntentCategory), classification.RuleScore,
		string(classification.AutomationTag), classification.AutomationConfidence,
		classification.RequiresHumanReview, priority.Score, string(priority.Band),
		classification.ClassifiedAt.Format(time.RFC3339))

	if err != nil {
		return fmt.Errorf("failed to save triage record: %w", err)
	}
	return nil
}

// Cleanup removes counter rows older than the retention window
func (s *MySQLStore) Cleanup(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM auto_send_counts WHERE day < ?
	`, dayKey(time.Now().Add(-countRetention)))
	if err != nil {
		return fmt.Errorf("failed to clean up send counts: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else if removed > 0 {
		s.logger.Debug("Cleaned up stale send counters", zap.Int64("removed", removed))
	}
	return nil
}

// startCleanupTask starts a background task to clean up stale counter rows
func (s *MySQLStore) startCleanupTask() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Cleanup(context.Background()); err != nil {
				s.logger.Error("Failed to clean up store", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task and closes the database connection
func (s *MySQLStore) Stop() {
	close(s.stopCh)
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close MySQL connection", zap.Error(err))
	}
}
