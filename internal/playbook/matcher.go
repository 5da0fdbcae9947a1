// Package playbook matches reply templates against a classification and
// renders the winning template's placeholders.
package playbook

import (
	"strings"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/core"
)

// generalFAQCategories are the template categories that earn the fallback
// match bonus when no trigger intent hits.
var generalFAQCategories = map[core.IntentCategory]bool{
	core.IntentFAQShipping:    true,
	core.IntentFAQReturns:     true,
	core.IntentGeneralEnquiry: true,
}

// Match is a scored template candidate.
type Match struct {
	Template *core.Template
	Score    int
}

// Matcher scores templates against classifications.
type Matcher struct {
	defaultThreshold float64
	logger           *zap.Logger
}

// NewMatcher creates a template matcher. defaultThreshold is the auto-send
// confidence threshold used for templates that leave theirs unset.
func NewMatcher(defaultThreshold float64, logger *zap.Logger) *Matcher {
	return &Matcher{defaultThreshold: defaultThreshold, logger: logger}
}

// Best returns the highest-scoring active template, or nil when nothing
// scores above zero. emailText is the raw subject+body used for keyword and
// exclusion matching. Equal scores keep the earlier template.
func (m *Matcher) Best(templates []*core.Template, cls *core.ClassificationResult, emailText string) *Match {
	lower := strings.ToLower(emailText)

	var best *Match
	for _, tpl := range templates {
		if !tpl.Active {
			continue
		}
		if matchesAny(lower, tpl.ExcludeIfPresent) {
			continue
		}

		score := m.score(tpl, cls, lower)
		if score <= 0 {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{Template: tpl, Score: score}
		}
	}

	if m.logger != nil && best != nil {
		m.logger.Debug("Template matched",
			zap.String("template_id", best.Template.ID),
			zap.Int("score", best.Score))
	}

	return best
}

func (m *Matcher) score(tpl *core.Template, cls *core.ClassificationResult, lower string) int {
	score := 0

	if containsIntent(tpl.TriggerIntents, cls.IntentCategory) {
		score += 10
	} else if generalFAQCategories[tpl.Category] {
		score += 3
	}

	// The keyword bonus only applies when a declared trigger keyword actually
	// appears in the email text.
	if len(tpl.TriggerKeywords) > 0 && matchesAny(lower, tpl.TriggerKeywords) {
		score += 2
	}

	switch tpl.SafetyLevel {
	case core.SafetySafe:
		score += 5
	case core.SafetyModerate:
		score += 2
	}

	if cls.AutomationConfidence >= tpl.ConfidenceThreshold(m.defaultThreshold) {
		score += 3
	}

	return score
}

func containsIntent(intents []core.IntentCategory, intent core.IntentCategory) bool {
	for _, i := range intents {
		if i == intent {
			return true
		}
	}
	return false
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
