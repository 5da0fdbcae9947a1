package core

import (
	"context"
	"time"
)

// SemanticClassifier defines the interface for the external language-model
// classifier consulted when the rule score is ambiguous.
type SemanticClassifier interface {
	// Classify asks the model for a category/sentiment/confidence verdict.
	// Implementations make exactly one attempt and honour ctx deadlines;
	// any failure is returned as an error and the caller degrades to the
	// rule-based result.
	Classify(ctx context.Context, req *SemanticRequest) (*SemanticResult, error)
}

// TemplateStore supplies the active reply templates.
type TemplateStore interface {
	// ListActive returns all templates currently enabled for matching.
	ListActive(ctx context.Context) ([]*Template, error)

	// Get retrieves a single template by id.
	Get(ctx context.Context, id string) (*Template, error)

	// RecordUsage bumps a template's usage counter after a send.
	RecordUsage(ctx context.Context, id string, usedAt time.Time) error
}

// SendCounter tracks auto-sends against the daily cap. Implementations must
// make IncrementIfBelow atomic so concurrent passes cannot exceed the cap.
type SendCounter interface {
	// Current returns the number of auto-sends recorded for the given day.
	Current(ctx context.Context, day time.Time) (int, error)

	// IncrementIfBelow increments the day's counter only while it is below
	// max, reporting whether the increment happened.
	IncrementIfBelow(ctx context.Context, day time.Time, max int) (bool, error)
}

// ConversationStore persists triage output back onto conversation records.
type ConversationStore interface {
	// SaveTriage writes the classification and priority fields for a
	// conversation.
	SaveTriage(ctx context.Context, conversationID string, classification *ClassificationResult, priority *PriorityResult) error
}
