package core

import (
	"time"
)

// EmailContent represents a single inbound email message. It is the immutable
// input to a triage pass.
type EmailContent struct {
	Subject        string
	Body           string
	FromAddress    string
	FromName       string
	ToAddresses    []string
	ReceivedTime   time.Time
	HasAttachments bool
	HighImportance bool
}

// MessagePreview is a short view of one message in a conversation, used when
// consulting the semantic classifier.
type MessagePreview struct {
	Subject string
	Preview string
	From    string
	SentAt  time.Time
}

// Conversation carries the thread-level metadata the triage pipeline reads.
type Conversation struct {
	ID               string
	Subject          string
	MessageCount     int
	UnreadCount      int
	FirstMessageAt   time.Time
	LastMessageAt    time.Time
	Messages         []MessagePreview
	VerifiedCustomer bool
}

// FollowUps returns the number of follow-up messages in the thread.
func (c *Conversation) FollowUps() int {
	if c.MessageCount <= 1 {
		return 0
	}
	return c.MessageCount - 1
}

// ExtractedEntities holds the structured signals pulled out of an email.
type ExtractedEntities struct {
	OrderID        string
	CustomerName   string
	Deadlines      []time.Time
	MoneyAmounts   []float64
	ProductNames   []string
	HasAddressInfo bool
}

// PopulatedCount reports how many of the fields used by scoring confidence
// carry a value: order id, deadlines, money amounts, customer name.
func (e *ExtractedEntities) PopulatedCount() int {
	n := 0
	if e.OrderID != "" {
		n++
	}
	if len(e.Deadlines) > 0 {
		n++
	}
	if len(e.MoneyAmounts) > 0 {
		n++
	}
	if e.CustomerName != "" {
		n++
	}
	return n
}

// MaxAmount returns the largest extracted money amount, or 0 when none.
func (e *ExtractedEntities) MaxAmount() float64 {
	max := 0.0
	for _, a := range e.MoneyAmounts {
		if a > max {
			max = a
		}
	}
	return max
}

// RiskFlags are four independent booleans derived from keyword hits.
// Within a single pass a flag is only ever set, never cleared.
type RiskFlags struct {
	LegalThreat          bool
	ChargebackMention    bool
	NegativeReviewThreat bool
	RefundRequired       bool
}

// Any reports whether any risk flag is set.
func (r RiskFlags) Any() bool {
	return r.LegalThreat || r.ChargebackMention || r.NegativeReviewThreat || r.RefundRequired
}

// EscalationRequired reports whether the flags alone force an escalation.
func (r RiskFlags) EscalationRequired() bool {
	return r.LegalThreat || r.ChargebackMention
}

// SentimentLabel is a 5-band ordered sentiment classification.
type SentimentLabel string

const (
	SentimentVeryNegative SentimentLabel = "very_negative"
	SentimentNegative     SentimentLabel = "negative"
	SentimentNeutral      SentimentLabel = "neutral"
	SentimentPositive     SentimentLabel = "positive"
	SentimentVeryPositive SentimentLabel = "very_positive"
)

// SentimentAnalysis pairs a sentiment label with a continuous score in [-1,1]
// (always consistent in direction with the label) and free-form emotion tags.
type SentimentAnalysis struct {
	Label       SentimentLabel
	Score       float64
	EmotionTags []string
}

// HasEmotion reports whether any of the given tags is present.
func (s SentimentAnalysis) HasEmotion(tags ...string) bool {
	for _, want := range tags {
		for _, got := range s.EmotionTags {
			if got == want {
				return true
			}
		}
	}
	return false
}

// SenderType classifies who sent the email.
type SenderType string

const (
	SenderCustomer  SenderType = "customer"
	SenderSupplier  SenderType = "supplier"
	SenderPartner   SenderType = "partner"
	SenderInternal  SenderType = "internal"
	SenderAutomated SenderType = "automated"
	SenderUnknown   SenderType = "unknown"
)

// IntentCategory is the classified purpose of the conversation.
type IntentCategory string

const (
	IntentRefundCancellation IntentCategory = "refund_cancellation"
	IntentOrderIssue         IntentCategory = "order_issue"
	IntentDeliveryDeadline   IntentCategory = "delivery_deadline"
	IntentProductQuestion    IntentCategory = "product_question"
	IntentTechnicalHelp      IntentCategory = "technical_help"
	IntentFAQShipping        IntentCategory = "faq_shipping"
	IntentFAQReturns         IntentCategory = "faq_returns"
	IntentGeneralEnquiry     IntentCategory = "general_enquiry"
)

// AutomationTag is the gate's decision for a conversation.
type AutomationTag string

const (
	TagAutoResolve   AutomationTag = "auto_resolve"
	TagAutoReply     AutomationTag = "auto_reply"
	TagHumanRequired AutomationTag = "human_required"
	TagEscalate      AutomationTag = "escalate"
)

// ClassificationSource records which classifier produced the merged result.
type ClassificationSource string

const (
	SourceRules    ClassificationSource = "rules"
	SourceSemantic ClassificationSource = "semantic"
)

// ClassificationResult is the single artifact downstream components consume.
// Once produced for a triage pass it is treated as immutable.
type ClassificationResult struct {
	SenderType           SenderType
	IntentCategory       IntentCategory
	IntentConfidence     float64
	RuleScore            float64
	AutomationTag        AutomationTag
	AutomationConfidence float64
	AutomationReason     string
	Entities             ExtractedEntities
	Sentiment            SentimentAnalysis
	Risk                 RiskFlags
	RequiresHumanReview  bool
	Source               ClassificationSource
	UsedFallback         bool
	ClassifiedAt         time.Time
}

// DimensionScores holds the eight priority sub-scores. The seven named
// dimensions are each in [0,3]; CategoryBase is an unbounded lookup value.
type DimensionScores struct {
	Risk         float64
	Time         float64
	Sentiment    float64
	Blocker      float64
	Value        float64
	Age          float64
	Escalation   float64
	CategoryBase float64
}

// PriorityBand is the coarse priority bucket.
type PriorityBand string

const (
	BandP0 PriorityBand = "P0"
	BandP1 PriorityBand = "P1"
	BandP2 PriorityBand = "P2"
	BandP3 PriorityBand = "P3"
)

// ScoringConfidence labels how much the priority score can be trusted.
type ScoringConfidence string

const (
	ConfidenceLow    ScoringConfidence = "low"
	ConfidenceMedium ScoringConfidence = "medium"
	ConfidenceHigh   ScoringConfidence = "high"
)

// PriorityResult is the output of the priority scoring engine.
type PriorityResult struct {
	Score      float64
	Band       PriorityBand
	Dimensions DimensionScores
	TopDrivers []string
	Confidence ScoringConfidence
}

// SafetyLevel is a per-template risk classification.
type SafetyLevel string

const (
	SafetySafe     SafetyLevel = "safe"
	SafetyModerate SafetyLevel = "moderate"
	SafetyRisky    SafetyLevel = "risky"
)

// Template is an operator-authored reply pattern. The engine only reads
// templates; operators edit them out of band.
type Template struct {
	ID                          string
	Name                        string
	Category                    IntentCategory
	SafetyLevel                 SafetyLevel
	AutoSendEnabled             bool
	AutoSendConfidenceThreshold float64
	TriggerIntents              []IntentCategory
	TriggerKeywords             []string
	ExcludeIfPresent            []string
	AvailableVariables          []string
	RequiredVariables           []string
	Body                        string
	UsageCount                  int
	LastUsedAt                  time.Time
	Active                      bool
}

// ConfidenceThreshold returns the template's auto-send threshold, falling
// back to the given default when the template leaves it unset.
func (t *Template) ConfidenceThreshold(def float64) float64 {
	if t.AutoSendConfidenceThreshold > 0 {
		return t.AutoSendConfidenceThreshold
	}
	return def
}

// CheckResult records the outcome of one gate check.
type CheckResult struct {
	Name   string
	Passed bool
	Detail string
}

// AutomationDecision is recomputed every time a send is attempted; it is
// never persisted as mutable state. CanAutoSend is true exactly when
// FailedChecks is empty.
type AutomationDecision struct {
	CanAutoSend     bool
	ChecksPerformed []CheckResult
	FailedChecks    []string
	Reason          string
}

// SemanticRequest is the payload sent to the semantic classifier.
type SemanticRequest struct {
	Subject      string
	Previews     []MessagePreview
	RuleScore    float64
	RuleCategory IntentCategory
}

// SemanticSentiment is the 3-level sentiment the semantic classifier returns.
type SemanticSentiment string

const (
	SemanticPositive SemanticSentiment = "positive"
	SemanticNeutral  SemanticSentiment = "neutral"
	SemanticNegative SemanticSentiment = "negative"
)

// SemanticResult is the semantic classifier's answer for an ambiguous pass.
type SemanticResult struct {
	Category            IntentCategory
	PriorityScore       float64
	Sentiment           SemanticSentiment
	RequiresHumanReview bool
	Confidence          float64
	ModelUsed           string
}

// ClipScore bounds a rule or merged score to [0,100].
func ClipScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// TriageResult bundles everything a single pass produced.
type TriageResult struct {
	PassID         string
	Classification ClassificationResult
	Priority       PriorityResult
	Decision       *AutomationDecision
	Elapsed        time.Duration
}
