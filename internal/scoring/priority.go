// Package scoring computes the weighted priority score for a classified
// conversation. Eight dimensions are scored independently on a
// highest-applicable-tier-wins basis, combined through configured weights,
// mapped to a priority band and attributed to human-readable drivers.
package scoring

import (
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/extract"
)

var (
	cancelAllPhrases = []string{
		"cancel all future orders", "close my account", "cancel everything",
	}
	neverAgainPhrases = []string{
		"never order again", "never shop here again", "last time i order",
	}

	urgencyPhrases = []string{
		"urgent", "asap", "immediately", "right away", "emergency",
	}
	eventPhrases = []string{
		"wedding", "birthday", "anniversary", "christmas", "event", "party",
	}
	soonPhrases = []string{
		"soon", "time sensitive", "time-sensitive", "quickly",
	}

	severeBlockerPhrases = []string{
		"broken", "not working", "doesn't work", "does not work",
		"payment failed", "never arrived", "can't complete", "cannot complete",
	}
	moderateBlockerPhrases = []string{
		"missing", "wrong item", "wrong order", "damaged", "incomplete",
	}
	minorBlockerPhrases = []string{
		"how to", "how do i", "confusing", "not sure how",
	}

	repeatCustomerPhrases = []string{
		"repeat customer", "loyal customer", "regular customer",
		"always order", "ordered many times", "order every",
	}

	channelHopPhrases = []string{
		"posted on social media", "posted on twitter", "posted on facebook",
		"filed a complaint", "called multiple times", "called several times",
	}
	repeatContactPhrases = []string{
		"second email", "third email", "second time", "third time",
		"emailed you before", "wrote to you already",
	}
	waitingPhrases = []string{
		"still waiting", "checking in", "any update", "following up",
		"no response",
	}
)

// Engine computes priority scores from a configuration snapshot. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	weights    config.DimensionWeights
	thresholds config.BandThresholds
	baseScores map[string]float64
	logger     *zap.Logger
}

// NewEngine creates a priority engine.
func NewEngine(cfg config.ScoringConfig, logger *zap.Logger) *Engine {
	return &Engine{
		weights:    cfg.Weights,
		thresholds: cfg.Thresholds,
		baseScores: cfg.BaseScores,
		logger:     logger,
	}
}

// Score computes the priority for one classified conversation. It is a pure
// function of its inputs and the engine's configuration snapshot.
func (e *Engine) Score(cls *core.ClassificationResult, email *core.EmailContent, conv *core.Conversation, now time.Time) core.PriorityResult {
	text := strings.ToLower(email.Subject + "\n" + email.Body)

	dims := core.DimensionScores{
		Risk:         RiskScore(cls, text),
		Time:         TimeScore(cls, email, text, now),
		Sentiment:    SentimentScore(cls.Sentiment),
		Blocker:      BlockerScore(cls, text),
		Value:        ValueScore(&cls.Entities, text),
		Age:          AgeScore(conv, now),
		Escalation:   EscalationScore(text),
		CategoryBase: e.baseScores[string(cls.IntentCategory)],
	}

	total := dims.Risk*e.weights.Risk +
		dims.Time*e.weights.Time +
		dims.Sentiment*e.weights.Sentiment +
		dims.Blocker*e.weights.Blocker +
		dims.Value*e.weights.Value +
		dims.Age*e.weights.Age +
		dims.Escalation*e.weights.Escalation +
		dims.CategoryBase
	total = math.Round(total*100) / 100

	result := core.PriorityResult{
		Score:      total,
		Band:       e.band(total),
		Dimensions: dims,
		TopDrivers: e.topDrivers(dims, cls),
		Confidence: scoringConfidence(cls),
	}

	if e.logger != nil {
		e.logger.Debug("Priority scored",
			zap.Float64("score", result.Score),
			zap.String("band", string(result.Band)),
			zap.String("confidence", string(result.Confidence)))
	}

	return result
}

// band maps a total score to a priority bucket, thresholds checked top-down.
func (e *Engine) band(total float64) core.PriorityBand {
	switch {
	case total >= e.thresholds.P0:
		return core.BandP0
	case total >= e.thresholds.P1:
		return core.BandP1
	case total >= e.thresholds.P2:
		return core.BandP2
	default:
		return core.BandP3
	}
}

// RiskScore rates churn and financial-risk signals 0-3.
func RiskScore(cls *core.ClassificationResult, text string) float64 {
	risk := cls.Risk
	switch {
	case risk.LegalThreat || risk.ChargebackMention:
		return 3
	case extract.ContainsAny(text, cancelAllPhrases):
		return 3
	case risk.NegativeReviewThreat,
		extract.ContainsAny(text, neverAgainPhrases),
		risk.RefundRequired && cls.Entities.MaxAmount() > 100:
		return 2
	case cls.IntentCategory == core.IntentOrderIssue && isNegative(cls.Sentiment.Label),
		cls.IntentCategory == core.IntentRefundCancellation:
		return 1
	default:
		return 0
	}
}

// TimeScore rates deadline pressure 0-3. A high-importance mail nudges the
// score up by 0.5 but never above 3.
func TimeScore(cls *core.ClassificationResult, email *core.EmailContent, text string, now time.Time) float64 {
	score := 0.0
	switch {
	case deadlineWithin(cls.Entities.Deadlines, now, 24*time.Hour):
		score = 3
	case extract.ContainsAny(text, urgencyPhrases):
		score = 3
	case deadlineWithin(cls.Entities.Deadlines, now, 7*24*time.Hour):
		score = 2
	case extract.ContainsAny(text, eventPhrases):
		score = 2
	case extract.ContainsAny(text, soonPhrases):
		score = 1
	}

	if cls.IntentCategory == core.IntentDeliveryDeadline && score < 2 {
		score = 2
	}

	if email.HighImportance {
		score += 0.5
		if score > 3 {
			score = 3
		}
	}

	return score
}

// SentimentScore rates emotional temperature 0-3.
func SentimentScore(s core.SentimentAnalysis) float64 {
	switch {
	case s.Label == core.SentimentVeryNegative && s.HasEmotion("angry", "frustrated"):
		return 3
	case s.Label == core.SentimentVeryNegative:
		return 2.5
	case s.Label == core.SentimentNegative && s.HasEmotion("disappointed", "upset"):
		return 2
	case s.Label == core.SentimentNegative:
		return 1.5
	case s.Label == core.SentimentNeutral && s.HasEmotion("concerned"):
		return 1
	default:
		return 0
	}
}

// BlockerScore rates how stuck the customer is 0-3.
func BlockerScore(cls *core.ClassificationResult, text string) float64 {
	score := 0.0
	switch {
	case extract.ContainsAny(text, severeBlockerPhrases):
		score = 3
	case extract.ContainsAny(text, moderateBlockerPhrases):
		score = 2
	case extract.ContainsAny(text, minorBlockerPhrases):
		score = 1
	}

	if cls.IntentCategory == core.IntentOrderIssue && score < 2 {
		score = 2
	}
	if cls.IntentCategory == core.IntentTechnicalHelp {
		if extract.ContainsAny(text, urgencyPhrases) {
			if score < 2 {
				score = 2
			}
		} else if score < 1 {
			score = 1
		}
	}

	return score
}

// ValueScore rates the monetary stake 0-3.
func ValueScore(entities *core.ExtractedEntities, text string) float64 {
	max := entities.MaxAmount()
	switch {
	case max > 100:
		return 3
	case extract.ContainsAny(text, repeatCustomerPhrases):
		return 3
	case max >= 25:
		return 2
	case max > 0:
		return 1
	case entities.OrderID != "":
		return 1
	default:
		return 0
	}
}

// AgeScore rates how long the conversation has waited 0-3. Age runs from the
// first message to now; follow-ups are messageCount-1.
func AgeScore(conv *core.Conversation, now time.Time) float64 {
	if conv.FirstMessageAt.IsZero() {
		return 0
	}
	ageDays := now.Sub(conv.FirstMessageAt).Hours() / 24
	followUps := conv.FollowUps()

	switch {
	case ageDays >= 14, ageDays >= 7 && followUps >= 3:
		return 3
	case ageDays >= 7, ageDays >= 3 && followUps >= 2:
		return 2
	case ageDays >= 3, ageDays >= 1 && followUps >= 1:
		return 1
	default:
		return 0
	}
}

// EscalationScore rates channel-hopping and repeated-contact pressure 0-3.
func EscalationScore(text string) float64 {
	switch {
	case extract.ContainsAny(text, channelHopPhrases):
		return 3
	case extract.ContainsAny(text, repeatContactPhrases):
		return 2
	case extract.ContainsAny(text, waitingPhrases):
		return 1
	default:
		return 0
	}
}

// scoringConfidence labels the trustworthiness of a pass per the published
// confidence rules.
func scoringConfidence(cls *core.ClassificationResult) core.ScoringConfidence {
	populated := cls.Entities.PopulatedCount()
	if cls.IntentConfidence >= 0.8 && cls.AutomationConfidence >= 0.8 && populated >= 2 {
		return core.ConfidenceHigh
	}
	if cls.IntentConfidence < 0.5 || cls.AutomationConfidence < 0.5 || populated == 0 {
		return core.ConfidenceLow
	}
	return core.ConfidenceMedium
}

func deadlineWithin(deadlines []time.Time, now time.Time, window time.Duration) bool {
	for _, d := range deadlines {
		diff := d.Sub(now)
		if diff >= 0 && diff <= window {
			return true
		}
	}
	return false
}

func isNegative(label core.SentimentLabel) bool {
	return label == core.SentimentNegative || label == core.SentimentVeryNegative
}
