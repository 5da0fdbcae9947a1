// Package rules implements the deterministic half of the triage classifier:
// an additive 0-100 scoring pass over extracted signals, keyword-driven
// intent category detection, and the 5-band sentiment matcher. It makes no
// external calls.
package rules

import (
	"strings"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/extract"
)

// CategoryOrder is the fixed evaluation order for intent detection. Ties on
// equal keyword-hit counts resolve to the earliest entry; this is a declared
// policy, not an artifact of map iteration.
var CategoryOrder = []core.IntentCategory{
	core.IntentRefundCancellation,
	core.IntentOrderIssue,
	core.IntentDeliveryDeadline,
	core.IntentTechnicalHelp,
	core.IntentFAQShipping,
	core.IntentFAQReturns,
	core.IntentProductQuestion,
	core.IntentGeneralEnquiry,
}

var categoryKeywords = map[core.IntentCategory][]string{
	core.IntentRefundCancellation: {
		"refund", "money back", "cancel", "return my item", "send it back",
	},
	core.IntentOrderIssue: {
		"wrong item", "missing", "damaged", "broken", "never arrived",
		"not received", "faulty", "defective",
	},
	core.IntentDeliveryDeadline: {
		"delivery", "arrive by", "need it by", "deadline", "in time for",
		"before the",
	},
	core.IntentTechnicalHelp: {
		"not working", "error", "can't log in", "cannot log in", "website",
		"checkout", "payment failed",
	},
	core.IntentFAQShipping: {
		"shipping cost", "how long does delivery", "do you ship",
		"shipping options", "postage",
	},
	core.IntentFAQReturns: {
		"return policy", "how do i return", "returns process",
		"exchange policy",
	},
	core.IntentProductQuestion: {
		"does it", "is it", "what size", "in stock", "available",
		"compatible", "material",
	},
	core.IntentGeneralEnquiry: {
		"question", "enquiry", "inquiry", "wondering",
	},
}

// Classification is the rule engine's verdict before any semantic merge.
type Classification struct {
	Score               float64
	Category            core.IntentCategory
	CategoryHits        int
	MatchedRiskKeyword  string
	RequiresHumanReview bool
	Sentiment           core.SentimentAnalysis
	SenderType          core.SenderType
	IntentConfidence    float64
}

// Classifier scores conversations from extracted signals alone.
type Classifier struct {
	riskKeywords    []string
	refundKeywords  []string
	urgencyKeywords []string
	logger          *zap.Logger
}

// NewClassifier creates a rule classifier from configured keyword lists.
func NewClassifier(cfg config.RulesConfig, logger *zap.Logger) *Classifier {
	return &Classifier{
		riskKeywords:    cfg.RiskKeywords,
		refundKeywords:  cfg.RefundKeywords,
		urgencyKeywords: cfg.UrgencyKeywords,
		logger:          logger,
	}
}

// Classify runs the deterministic scoring pass.
func (c *Classifier) Classify(email *core.EmailContent, conv *core.Conversation, sig *extract.Signals) Classification {
	text := strings.ToLower(email.Subject + "\n" + email.Body)

	result := Classification{
		SenderType: classifySender(email.FromAddress),
		Sentiment:  matchSentiment(sig),
	}

	score := 0.0

	if sig.Entities.OrderID != "" {
		score += 20
	}

	// First risk keyword in the configured ordered list wins; scan stops.
	for _, kw := range c.riskKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			score += 30
			result.MatchedRiskKeyword = kw
			result.RequiresHumanReview = true
			break
		}
	}

	// Refund keywords accumulate per match, independent of the risk scan.
	for _, kw := range c.refundKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			score += 20
			result.RequiresHumanReview = true
		}
	}

	if extract.ContainsAny(text, c.urgencyKeywords) {
		score += 10
	}

	negBonus := float64(sig.NegativeWords) * 5
	if negBonus > 15 {
		negBonus = 15
	}
	score += negBonus

	if conv.UnreadCount > 0 {
		score += 5
	}
	if conv.MessageCount > 1 {
		score += 5
	}

	result.Category, result.CategoryHits = detectCategory(text)
	if result.CategoryHits > 0 {
		score += 15
	}

	result.Score = core.ClipScore(score)
	result.IntentConfidence = intentConfidence(result.CategoryHits)

	if c.logger != nil {
		c.logger.Debug("Rule classification complete",
			zap.Float64("score", result.Score),
			zap.String("category", string(result.Category)),
			zap.Int("category_hits", result.CategoryHits),
			zap.Bool("requires_human_review", result.RequiresHumanReview))
	}

	return result
}

// detectCategory picks the category whose keyword set has the strictly
// greatest number of hits. Ties keep the earlier entry in CategoryOrder.
// Zero hits default to general enquiry with no boost.
func detectCategory(text string) (core.IntentCategory, int) {
	best := core.IntentGeneralEnquiry
	bestHits := 0
	for _, category := range CategoryOrder {
		hits := 0
		for _, kw := range categoryKeywords[category] {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = category
			bestHits = hits
		}
	}
	return best, bestHits
}

// matchSentiment maps positive/negative word tallies onto the 5-band scale.
// The continuous score always agrees in direction with the label.
func matchSentiment(sig *extract.Signals) core.SentimentAnalysis {
	diff := sig.PositiveWords - sig.NegativeWords

	var label core.SentimentLabel
	switch {
	case diff >= 3:
		label = core.SentimentVeryPositive
	case diff >= 1:
		label = core.SentimentPositive
	case diff <= -3:
		label = core.SentimentVeryNegative
	case diff <= -1:
		label = core.SentimentNegative
	default:
		label = core.SentimentNeutral
	}

	score := float64(diff) * 0.2
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}

	return core.SentimentAnalysis{
		Label:       label,
		Score:       score,
		EmotionTags: sig.EmotionTags,
	}
}

func intentConfidence(hits int) float64 {
	if hits == 0 {
		return 0.4
	}
	conf := 0.5 + 0.1*float64(hits)
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

var automatedSenderMarkers = []string{"noreply", "no-reply", "donotreply", "mailer-daemon", "notifications@"}

func classifySender(address string) core.SenderType {
	addr := strings.ToLower(address)
	if addr == "" {
		return core.SenderUnknown
	}
	for _, marker := range automatedSenderMarkers {
		if strings.Contains(addr, marker) {
			return core.SenderAutomated
		}
	}
	return core.SenderCustomer
}
