package rules

import (
	"time"

	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/extract"
)

// Merge resolves the rule and semantic verdicts into one ClassificationResult.
// A non-nil semantic result replaces the rule category, score and sentiment
// outright; RequiresHumanReview is the OR of every source and is never
// relaxed. The extracted risk flags feed into it directly: a legal threat,
// chargeback mention or refund requirement demands a human even when the
// classifier's own keyword scan missed it (the extractor's keyword sets are
// broader than the configured scan lists). usedFallback records that a
// semantic call was attempted but degraded, so callers and tests can observe
// the fallback path directly.
func Merge(rule Classification, sem *core.SemanticResult, sig *extract.Signals, usedFallback bool, now time.Time) core.ClassificationResult {
	result := core.ClassificationResult{
		SenderType:           rule.SenderType,
		IntentCategory:       rule.Category,
		IntentConfidence:     rule.IntentConfidence,
		RuleScore:            core.ClipScore(rule.Score),
		AutomationConfidence: rule.IntentConfidence,
		Entities:             sig.Entities,
		Sentiment:            rule.Sentiment,
		Risk:                 sig.Risk,
		RequiresHumanReview:  rule.RequiresHumanReview || riskDemandsReview(sig.Risk),
		Source:               core.SourceRules,
		UsedFallback:         usedFallback,
		ClassifiedAt:         now,
	}

	if sem == nil {
		return result
	}

	result.IntentCategory = sem.Category
	result.RuleScore = core.ClipScore(sem.PriorityScore)
	result.Sentiment = semanticSentiment(sem.Sentiment, rule.Sentiment)
	result.IntentConfidence = sem.Confidence
	result.AutomationConfidence = sem.Confidence
	result.RequiresHumanReview = result.RequiresHumanReview || sem.RequiresHumanReview
	result.Source = core.SourceSemantic
	result.UsedFallback = false

	return result
}

// riskDemandsReview reports whether the extracted flags alone require a human.
// A negative-review threat on its own does not; the other three flags do.
func riskDemandsReview(risk core.RiskFlags) bool {
	return risk.LegalThreat || risk.ChargebackMention || risk.RefundRequired
}

// semanticSentiment widens the classifier's 3-level sentiment onto the
// 5-band scale. When the semantic label agrees in direction with the rule
// sentiment, the rule band is kept (it carries the finer very_* resolution);
// otherwise the semantic direction wins at the plain band.
func semanticSentiment(sem core.SemanticSentiment, rule core.SentimentAnalysis) core.SentimentAnalysis {
	switch sem {
	case core.SemanticNegative:
		if rule.Label == core.SentimentVeryNegative || rule.Label == core.SentimentNegative {
			return rule
		}
		return core.SentimentAnalysis{Label: core.SentimentNegative, Score: -0.4, EmotionTags: rule.EmotionTags}
	case core.SemanticPositive:
		if rule.Label == core.SentimentVeryPositive || rule.Label == core.SentimentPositive {
			return rule
		}
		return core.SentimentAnalysis{Label: core.SentimentPositive, Score: 0.4, EmotionTags: rule.EmotionTags}
	default:
		return core.SentimentAnalysis{Label: core.SentimentNeutral, Score: 0, EmotionTags: rule.EmotionTags}
	}
}
