package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/core"
)

// SQLiteStore is a SQLite implementation of the TemplateStore, SendCounter
// and ConversationStore interfaces
type SQLiteStore struct {
	db          *sql.DB
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string, logger *zap.Logger, cleanupFreq time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Create tables if they don't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reply_templates (
			id TEXT PRIMARY KEY,
			name TEXT,
			category TEXT,
			safety_level TEXT,
			auto_send_enabled BOOLEAN,
			confidence_threshold REAL,
			trigger_intents TEXT,
			trigger_keywords TEXT,
			exclude_if_present TEXT,
			available_variables TEXT,
			required_variables TEXT,
			body TEXT,
			usage_count INTEGER DEFAULT 0,
			last_used_at TIMESTAMP,
			active BOOLEAN
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create templates table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS auto_send_counts (
			day TEXT PRIMARY KEY,
			count INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create counts table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_triage (
			conversation_id TEXT PRIMARY KEY,
			intent_category TEXT,
			rule_score REAL,
			automation_tag TEXT,
			automation_confidence REAL,
			requires_human_review BOOLEAN,
			priority_score REAL,
			priority_band TEXT,
			classified_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create triage table: %w", err)
	}

	store := &SQLiteStore{
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
func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *core.Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reply_templates (
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
func (s *SQLiteStore) ListActive(ctx context.Context) ([]*core.Template, error) {
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
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Template, error) {
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
func (s *SQLiteStore) RecordUsage(ctx context.Context, id string, usedAt time.Time) error {
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
func (s *SQLiteStore) Current(ctx context.Context, day time.Time) (int, error) {
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
// The guard lives in the statement itself so concurrent passes cannot push
// the counter past the cap.
func (s *SQLiteStore) IncrementIfBelow(ctx context.Context, day time.Time, max int) (bool, error) {
	if max <= 0 {
		return false, nil
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO auto_send_counts (day, count) VALUES (?, 1)
		ON CONFLICT(day) DO UPDATE SET count = count + 1 WHERE count < ?
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
func (s *SQLiteStore) SaveTriage(ctx context.Context, conversationID string, classification *core.ClassificationResult, priority *core.PriorityResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversation_triage (
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
func (s *SQLiteStore) Cleanup(ctx context.Context) error {
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
func (s *SQLiteStore) startCleanupTask() {
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
func (s *SQLiteStore) Stop() {
	close(s.stopCh)
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close SQLite database", zap.Error(err))
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*core.Template, error) {
	var tpl core.Template
	var category, safety, intents, keywords, excludes, available, required, lastUsed string

	err := row.Scan(&tpl.ID, &tpl.Name, &category, &safety, &tpl.AutoSendEnabled,
		&tpl.AutoSendConfidenceThreshold, &intents, &keywords, &excludes,
		&available, &required, &tpl.Body, &tpl.UsageCount, &lastUsed, &tpl.Active)
	if err != nil {
		return nil, err
	}

	tpl.Category = core.IntentCategory(category)
	tpl.SafetyLevel = core.SafetyLevel(safety)
	tpl.TriggerIntents = unmarshalIntents(intents)
	tpl.TriggerKeywords = unmarshalList(keywords)
	tpl.ExcludeIfPresent = unmarshalList(excludes)
	tpl.AvailableVariables = unmarshalList(available)
	tpl.RequiredVariables = unmarshalList(required)
	if lastUsed != "" {
		if t, perr := time.Parse(time.RFC3339, lastUsed); perr == nil {
			tpl.LastUsedAt = t
		}
	}
	return &tpl, nil
}

func marshalList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	if data == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}

func marshalIntents(intents []core.IntentCategory) string {
	values := make([]string, len(intents))
	for i, intent := range intents {
		values[i] = string(intent)
	}
	return marshalList(values)
}

func unmarshalIntents(data string) []core.IntentCategory {
	values := unmarshalList(data)
	if len(values) == 0 {
		return nil
	}
	intents := make([]core.IntentCategory, len(values))
	for i, v := range values {
		intents[i] = core.IntentCategory(v)
	}
	return intents
}
