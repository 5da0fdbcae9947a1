package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/core"
)

// ErrTemplateNotFound is returned when a template id is unknown
var ErrTemplateNotFound = errors.New("template not found")

// countRetention is how long stale daily counter rows are kept before the
// background cleanup removes them.
const countRetention = 7 * 24 * time.Hour

type triageRecord struct {
	classification *core.ClassificationResult
	priority       *core.PriorityResult
	savedAt        time.Time
}

// MemoryStore is an in-memory implementation of the TemplateStore,
// SendCounter and ConversationStore interfaces
type MemoryStore struct {
	templates   map[string]*core.Template
	counts      map[string]int
	triage      map[string]triageRecord
	mu          sync.RWMutex
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger, cleanupFreq time.Duration) *MemoryStore {
	s := &MemoryStore{
		templates:   make(map[string]*core.Template),
		counts:      make(map[string]int),
		triage:      make(map[string]triageRecord),
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	go s.startCleanupTask()

	return s
}

// SaveTemplate inserts or replaces a reply template
func (s *MemoryStore) SaveTemplate(ctx context.Context, tpl *core.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *tpl
	s.templates[tpl.ID] = &copied
	return nil
}

// ListActive returns all templates currently enabled for matching
func (s *MemoryStore) ListActive(ctx context.Context) ([]*core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]*core.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		if tpl.Active {
			copied := *tpl
			templates = append(templates, &copied)
		}
	}
	return templates, nil
}

// Get retrieves a single template by id
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	copied := *tpl
	return &copied, nil
}

// RecordUsage bumps a template's usage counter after a send
func (s *MemoryStore) RecordUsage(ctx context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return ErrTemplateNotFound
	}
	tpl.UsageCount++
	tpl.LastUsedAt = usedAt
	return nil
}

// Current returns the number of auto-sends recorded for the given day
func (s *MemoryStore) Current(ctx context.Context, day time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.counts[dayKey(day)], nil
}

// IncrementIfBelow increments the day's counter only while it is below max.
// The check and increment happen under one lock so concurrent passes cannot
// push the counter past the cap.
func (s *MemoryStore) IncrementIfBelow(ctx context.Context, day time.Time, max int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dayKey(day)
	if s.counts[key] >= max {
		return false, nil
	}
	s.counts[key]++
	return true, nil
}

// SaveTriage writes the classification and priority fields for a conversation
func (s *MemoryStore) SaveTriage(ctx context.Context, conversationID string, classification *core.ClassificationResult, priority *core.PriorityResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.triage[conversationID] = triageRecord{
		classification: classification,
		priority:       priority,
		savedAt:        time.Now(),
	}
	return nil
}

// GetTriage returns the last saved triage record for a conversation
func (s *MemoryStore) GetTriage(conversationID string) (*core.ClassificationResult, *core.PriorityResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.triage[conversationID]
	if !ok {
		return nil, nil, false
	}
	return rec.classification, rec.priority, true
}

// Cleanup removes counter rows older than the retention window
func (s *MemoryStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := dayKey(time.Now().Add(-countRetention))
	removed := 0
	for key := range s.counts {
		if key < cutoff {
			delete(s.counts, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Cleaned up stale send counters", zap.Int("removed", removed))
	}
	return nil
}

// startCleanupTask starts a background task to clean up stale counter rows
func (s *MemoryStore) startCleanupTask() {
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

// Stop stops the background cleanup task
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

// dayKey formats a day as the canonical counter key. ISO dates compare
// lexicographically, which the cleanup relies on.
func dayKey(day time.Time) string {
	return day.Format("2006-01-02")
}
