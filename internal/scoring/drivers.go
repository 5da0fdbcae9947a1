package scoring

import (
	"fmt"
	"sort"

	"github.com/mailpilot/triage-engine/internal/core"
)

type contribution struct {
	dimension string
	weighted  float64
	describe  func() string
}

// topDrivers returns up to three human-readable reasons for the score,
// ordered by weighted contribution. Only dimensions that actually contributed
// appear.
func (e *Engine) topDrivers(dims core.DimensionScores, cls *core.ClassificationResult) []string {
	contributions := []contribution{
		{"risk", dims.Risk * e.weights.Risk, func() string { return describeRisk(dims.Risk, cls) }},
		{"time", dims.Time * e.weights.Time, func() string { return describeTime(dims.Time) }},
		{"sentiment", dims.Sentiment * e.weights.Sentiment, func() string { return describeSentiment(dims.Sentiment) }},
		{"blocker", dims.Blocker * e.weights.Blocker, func() string { return describeBlocker(dims.Blocker) }},
		{"value", dims.Value * e.weights.Value, func() string { return describeValue(dims.Value, cls) }},
		{"age", dims.Age * e.weights.Age, func() string { return describeAge(dims.Age) }},
		{"escalation", dims.Escalation * e.weights.Escalation, func() string { return describeEscalation(dims.Escalation) }},
		{"category", dims.CategoryBase, func() string { return describeCategory(cls.IntentCategory) }},
	}

	var positive []contribution
	for _, c := range contributions {
		if c.weighted > 0 {
			positive = append(positive, c)
		}
	}
	sort.SliceStable(positive, func(i, j int) bool {
		return positive[i].weighted > positive[j].weighted
	})

	if len(positive) > 3 {
		positive = positive[:3]
	}

	drivers := make([]string, 0, len(positive))
	for _, c := range positive {
		drivers = append(drivers, c.describe())
	}
	return drivers
}

func describeRisk(score float64, cls *core.ClassificationResult) string {
	switch {
	case score >= 3 && cls.Risk.LegalThreat:
		return "High churn risk: legal threat detected"
	case score >= 3 && cls.Risk.ChargebackMention:
		return "High churn risk: chargeback mentioned"
	case score >= 3:
		return "High churn risk: customer threatening to leave"
	case score >= 2 && cls.Risk.NegativeReviewThreat:
		return "Churn risk: negative review threatened"
	case score >= 2:
		return "Churn risk: high-value refund or loss of future orders"
	default:
		return "Possible churn risk"
	}
}

func describeTime(score float64) string {
	switch {
	case score >= 3:
		return "Time critical: deadline within 24 hours or urgent wording"
	case score >= 2:
		return "Time sensitive: deadline or event approaching"
	default:
		return "Some time pressure mentioned"
	}
}

func describeSentiment(score float64) string {
	switch {
	case score >= 3:
		return "Customer is very upset and angry"
	case score >= 2.5:
		return "Strongly negative sentiment"
	case score >= 1.5:
		return "Negative sentiment"
	default:
		return "Customer sounds concerned"
	}
}

func describeBlocker(score float64) string {
	switch {
	case score >= 3:
		return "Customer is fully blocked (broken, failed or missing delivery)"
	case score >= 2:
		return "Order problem blocking the customer"
	default:
		return "Minor friction reported"
	}
}

func describeValue(score float64, cls *core.ClassificationResult) string {
	switch {
	case score >= 3 && cls.Entities.MaxAmount() > 100:
		return fmt.Sprintf("High order value at stake (%.2f)", cls.Entities.MaxAmount())
	case score >= 3:
		return "Repeat customer relationship at stake"
	case score >= 2:
		return "Moderate order value involved"
	default:
		return "Order reference or small amount involved"
	}
}

func describeAge(score float64) string {
	switch {
	case score >= 3:
		return "Conversation waiting a very long time"
	case score >= 2:
		return "Conversation waiting over a week"
	default:
		return "Conversation aging"
	}
}

func describeEscalation(score float64) string {
	switch {
	case score >= 3:
		return "Customer escalating across channels"
	case score >= 2:
		return "Repeated contact attempts"
	default:
		return "Customer chasing a reply"
	}
}

func describeCategory(category core.IntentCategory) string {
	switch category {
	case core.IntentRefundCancellation:
		return "Refund or cancellation request"
	case core.IntentOrderIssue:
		return "Problem with an order"
	case core.IntentDeliveryDeadline:
		return "Delivery deadline request"
	case core.IntentTechnicalHelp:
		return "Technical help needed"
	case core.IntentProductQuestion:
		return "Product question"
	case core.IntentFAQShipping:
		return "Shipping question"
	case core.IntentFAQReturns:
		return "Returns question"
	default:
		return "General enquiry"
	}
}
