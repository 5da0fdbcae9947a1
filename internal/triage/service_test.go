package triage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/automation"
	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/playbook"
	"github.com/mailpilot/triage-engine/internal/rules"
	"github.com/mailpilot/triage-engine/internal/scoring"
)

type stubSemantic struct {
	calls   int
	lastReq *core.SemanticRequest
	result  *core.SemanticResult
	err     error
	panics  bool
}

func (s *stubSemantic) Classify(ctx context.Context, req *core.SemanticRequest) (*core.SemanticResult, error) {
	s.calls++
	s.lastReq = req
	if s.panics {
		panic("semantic classifier blew up")
	}
	return s.result, s.err
}

type stubTemplateStore struct {
	templates []*core.Template
	usage     []string
}

func (s *stubTemplateStore) ListActive(ctx context.Context) ([]*core.Template, error) {
	return s.templates, nil
}

func (s *stubTemplateStore) Get(ctx context.Context, id string) (*core.Template, error) {
	for _, tpl := range s.templates {
		if tpl.ID == id {
			return tpl, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *stubTemplateStore) RecordUsage(ctx context.Context, id string, usedAt time.Time) error {
	s.usage = append(s.usage, id)
	return nil
}

type stubCounter struct {
	current    int
	admit      bool
	increments int
}

func (s *stubCounter) Current(ctx context.Context, day time.Time) (int, error) {
	return s.current, nil
}

func (s *stubCounter) IncrementIfBelow(ctx context.Context, day time.Time, max int) (bool, error) {
	if !s.admit {
		return false, nil
	}
	s.increments++
	return true, nil
}

type stubConversationStore struct {
	savedID string
	saves   int
}

func (s *stubConversationStore) SaveTriage(ctx context.Context, conversationID string, cls *core.ClassificationResult, priority *core.PriorityResult) error {
	s.savedID = conversationID
	s.saves++
	return nil
}

func testRulesConfig() config.RulesConfig {
	return config.RulesConfig{
		RiskKeywords: []string{
			"legal action", "lawyer", "solicitor", "sue you", "trading standards",
			"chargeback", "dispute the charge",
		},
		RefundKeywords: []string{
			"refund", "money back", "cancel my order", "return my item",
		},
		UrgencyKeywords: []string{
			"urgent", "asap", "immediately", "right away", "as soon as possible",
			"emergency",
		},
	}
}

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: config.DimensionWeights{
			Risk:       3,
			Time:       2.5,
			Sentiment:  2,
			Blocker:    2,
			Value:      1.5,
			Age:        1,
			Escalation: 2,
		},
		Thresholds: config.BandThresholds{P0: 28, P1: 18, P2: 9},
		BaseScores: map[string]float64{
			"refund_cancellation": 6,
			"order_issue":         5,
			"delivery_deadline":   5,
			"technical_help":      3,
			"product_question":    2,
			"faq_shipping":        1,
			"faq_returns":         1,
			"general_enquiry":     1,
		},
	}
}

func testAutomationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		AutoSendEnabled:            true,
		BusinessHours:              config.BusinessHours{Enabled: false},
		NeverAutoSend:              []string{"refund_cancellation"},
		DailyMax:                   50,
		DefaultConfidenceThreshold: 0.85,
		AutoResolveCategories:      []string{"faq_shipping", "faq_returns"},
		AutoReplyCategories:        []string{"product_question", "general_enquiry"},
	}
}

type serviceFixture struct {
	service       *Service
	semantic      *stubSemantic
	templates     *stubTemplateStore
	counter       *stubCounter
	conversations *stubConversationStore
}

func newServiceFixture(semantic *stubSemantic, semCfg config.SemanticConfig) *serviceFixture {
	logger := zap.NewNop()
	autoCfg := testAutomationConfig()

	f := &serviceFixture{
		semantic:      semantic,
		templates:     &stubTemplateStore{},
		counter:       &stubCounter{admit: true},
		conversations: &stubConversationStore{},
	}

	var sem core.SemanticClassifier
	if semantic != nil {
		sem = semantic
	}

	f.service = NewService(
		rules.NewClassifier(testRulesConfig(), logger),
		sem,
		scoring.NewEngine(testScoringConfig(), logger),
		automation.NewGate(autoCfg, logger),
		playbook.NewMatcher(autoCfg.DefaultConfidenceThreshold, logger),
		f.templates,
		f.counter,
		f.conversations,
		semCfg,
		autoCfg,
		logger,
	)
	return f
}

func testConversation(id string, messages int) *core.Conversation {
	now := time.Now()
	conv := &core.Conversation{
		ID:             id,
		MessageCount:   messages,
		UnreadCount:    1,
		FirstMessageAt: now.Add(-time.Hour),
		LastMessageAt:  now.Add(-time.Hour),
	}
	for i := 0; i < messages; i++ {
		conv.Messages = append(conv.Messages, core.MessagePreview{
			Subject: "msg",
			Preview: "preview",
			SentAt:  now.Add(-time.Duration(messages-i) * time.Minute),
		})
	}
	return conv
}

func TestTriageRulesOnly(t *testing.T) {
	f := newServiceFixture(nil, config.SemanticConfig{Enabled: false})

	email := &core.EmailContent{
		Subject:     "Refund please",
		Body:        "I want my money back for order #98765. Please refund me.",
		FromAddress: "jane@example.com",
	}
	conv := testConversation("conv-1", 1)

	result := f.service.Triage(context.Background(), email, conv)

	if result.PassID == "" {
		t.Error("expected a non-empty pass id")
	}
	cls := result.Classification
	if cls.RuleScore != 80 {
		t.Errorf("rule score = %v, want 80", cls.RuleScore)
	}
	if cls.IntentCategory != core.IntentRefundCancellation {
		t.Errorf("category = %s, want refund_cancellation", cls.IntentCategory)
	}
	if cls.Source != core.SourceRules {
		t.Errorf("source = %s, want rules", cls.Source)
	}
	if cls.AutomationTag != core.TagHumanRequired {
		t.Errorf("tag = %s, want human_required", cls.AutomationTag)
	}
	if !strings.Contains(cls.AutomationReason, "never auto-sent") {
		t.Errorf("reason = %q, want never-auto-sent explanation", cls.AutomationReason)
	}
	if result.Priority.Band == "" {
		t.Error("expected a priority band")
	}
	if f.conversations.savedID != "conv-1" {
		t.Errorf("saved conversation id = %q, want conv-1", f.conversations.savedID)
	}
}

func TestTriageConsultsSemanticInAmbiguousBand(t *testing.T) {
	sem := &stubSemantic{result: &core.SemanticResult{
		Category:      core.IntentProductQuestion,
		PriorityScore: 55,
		Sentiment:     core.SemanticNeutral,
		Confidence:    0.92,
		ModelUsed:     "gpt-4o-mini",
	}}
	f := newServiceFixture(sem, config.SemanticConfig{
		Enabled:       true,
		AmbiguousLow:  0,
		AmbiguousHigh: 100,
		Timeout:       time.Second,
		MaxPreviews:   2,
	})

	email := &core.EmailContent{
		Subject:     "Compatibility",
		Body:        "Is it compatible with the EU adapter?",
		FromAddress: "sam@example.com",
	}
	conv := testConversation("conv-2", 3)

	result := f.service.Triage(context.Background(), email, conv)

	if sem.calls != 1 {
		t.Fatalf("semantic calls = %d, want 1", sem.calls)
	}
	if len(sem.lastReq.Previews) != 2 {
		t.Errorf("previews sent = %d, want 2", len(sem.lastReq.Previews))
	}
	if sem.lastReq.RuleCategory != core.IntentProductQuestion {
		t.Errorf("rule category sent = %s, want product_question", sem.lastReq.RuleCategory)
	}

	cls := result.Classification
	if cls.Source != core.SourceSemantic {
		t.Errorf("source = %s, want semantic", cls.Source)
	}
	if cls.RuleScore != 55 {
		t.Errorf("merged score = %v, want 55", cls.RuleScore)
	}
	if cls.UsedFallback {
		t.Error("expected UsedFallback to be false after a successful consult")
	}
	if cls.AutomationTag != core.TagAutoReply {
		t.Errorf("tag = %s, want auto_reply", cls.AutomationTag)
	}
	if cls.AutomationConfidence != 0.92 {
		t.Errorf("automation confidence = %v, want 0.92", cls.AutomationConfidence)
	}
}

func TestTriageDegradedSemanticFallsBackToRules(t *testing.T) {
	sem := &stubSemantic{err: errors.New("upstream timeout")}
	f := newServiceFixture(sem, config.SemanticConfig{
		Enabled:       true,
		AmbiguousLow:  0,
		AmbiguousHigh: 100,
		Timeout:       time.Second,
		MaxPreviews:   5,
	})

	email := &core.EmailContent{
		Subject:     "Compatibility",
		Body:        "Is it compatible with the EU adapter?",
		FromAddress: "sam@example.com",
	}

	result := f.service.Triage(context.Background(), email, testConversation("conv-3", 1))

	cls := result.Classification
	if sem.calls != 1 {
		t.Fatalf("semantic calls = %d, want 1", sem.calls)
	}
	if !cls.UsedFallback {
		t.Error("expected UsedFallback after a degraded semantic call")
	}
	if cls.Source != core.SourceRules {
		t.Errorf("source = %s, want rules", cls.Source)
	}
	if cls.IntentCategory != core.IntentProductQuestion {
		t.Errorf("category = %s, want the rule category", cls.IntentCategory)
	}
}

func TestTriageSkipsSemanticOutsideBand(t *testing.T) {
	sem := &stubSemantic{result: &core.SemanticResult{Category: core.IntentOrderIssue, Confidence: 0.9}}
	f := newServiceFixture(sem, config.SemanticConfig{
		Enabled:       true,
		AmbiguousLow:  50,
		AmbiguousHigh: 75,
		Timeout:       time.Second,
		MaxPreviews:   5,
	})

	email := &core.EmailContent{
		Subject:     "Hello",
		Body:        "Quick question about your store.",
		FromAddress: "sam@example.com",
	}

	result := f.service.Triage(context.Background(), email, testConversation("conv-4", 1))

	if sem.calls != 0 {
		t.Fatalf("semantic calls = %d, want 0 for an unambiguous score", sem.calls)
	}
	if result.Classification.Source != core.SourceRules {
		t.Errorf("source = %s, want rules", result.Classification.Source)
	}
}

func TestTriagePanicDegradesToFallback(t *testing.T) {
	sem := &stubSemantic{panics: true}
	f := newServiceFixture(sem, config.SemanticConfig{
		Enabled:       true,
		AmbiguousLow:  0,
		AmbiguousHigh: 100,
		Timeout:       time.Second,
		MaxPreviews:   5,
	})

	email := &core.EmailContent{
		Subject:     "Compatibility",
		Body:        "Is it compatible with the EU adapter?",
		FromAddress: "sam@example.com",
	}

	result := f.service.Triage(context.Background(), email, testConversation("conv-5", 1))

	cls := result.Classification
	if cls.IntentCategory != core.IntentGeneralEnquiry {
		t.Errorf("category = %s, want the conservative general_enquiry", cls.IntentCategory)
	}
	if cls.AutomationTag != core.TagHumanRequired {
		t.Errorf("tag = %s, want human_required", cls.AutomationTag)
	}
	if cls.AutomationConfidence != 0.3 {
		t.Errorf("confidence = %v, want 0.3", cls.AutomationConfidence)
	}
	if !cls.RequiresHumanReview {
		t.Error("fallback must require human review")
	}
	if result.Priority.Band == "" {
		t.Error("scoring must still run after a classification failure")
	}
}

func autoReplyClassification() core.ClassificationResult {
	return core.ClassificationResult{
		SenderType:           core.SenderCustomer,
		IntentCategory:       core.IntentProductQuestion,
		IntentConfidence:     0.9,
		AutomationTag:        core.TagAutoReply,
		AutomationConfidence: 0.9,
		Sentiment:            core.SentimentAnalysis{Label: core.SentimentNeutral},
		Source:               core.SourceRules,
		ClassifiedAt:         time.Now(),
	}
}

func productTemplate() *core.Template {
	return &core.Template{
		ID:                 "tpl-product",
		Name:               "Product answer",
		Category:           core.IntentProductQuestion,
		SafetyLevel:        core.SafetySafe,
		AutoSendEnabled:    true,
		TriggerIntents:     []core.IntentCategory{core.IntentProductQuestion},
		AvailableVariables: []string{"customer_name", "order_id"},
		RequiredVariables:  []string{"customer_name"},
		Body:               "Hi {customer_name}, yes it does. We have noted order {order_id}.",
		Active:             true,
	}
}

func TestAttemptAutoSendNotEligible(t *testing.T) {
	f := newServiceFixture(nil, config.SemanticConfig{})

	cls := autoReplyClassification()
	cls.AutomationTag = core.TagHumanRequired
	result := &core.TriageResult{Classification: cls}

	_, _, err := f.service.AttemptAutoSend(context.Background(), result, &core.EmailContent{}, nil)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
}

func TestAttemptAutoSendNoTemplate(t *testing.T) {
	f := newServiceFixture(nil, config.SemanticConfig{})

	result := &core.TriageResult{Classification: autoReplyClassification()}

	_, _, err := f.service.AttemptAutoSend(context.Background(), result, &core.EmailContent{Subject: "hi"}, nil)
	if !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("err = %v, want ErrNoTemplate", err)
	}
}

func TestAttemptAutoSendRendersAndCounts(t *testing.T) {
	f := newServiceFixture(nil, config.SemanticConfig{})
	f.templates.templates = []*core.Template{productTemplate()}
	f.counter.current = 3

	cls := autoReplyClassification()
	cls.Entities.CustomerName = "Dana"
	cls.Entities.OrderID = "55512"
	result := &core.TriageResult{Classification: cls}

	email := &core.EmailContent{Subject: "Compatibility", Body: "Is it compatible?"}
	rendered, decision, err := f.service.AttemptAutoSend(context.Background(), result, email, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.CanAutoSend {
		t.Fatalf("decision blocked the send: %s", decision.Reason)
	}
	want := "Hi Dana, yes it does. We have noted order 55512."
	if rendered != want {
		t.Errorf("rendered = %q, want %q", rendered, want)
	}
	if f.counter.increments != 1 {
		t.Errorf("counter increments = %d, want 1", f.counter.increments)
	}
	if len(f.templates.usage) != 1 || f.templates.usage[0] != "tpl-product" {
		t.Errorf("usage recorded = %v, want [tpl-product]", f.templates.usage)
	}
	if result.Decision == nil {
		t.Error("decision was not attached to the triage result")
	}
}

func TestAttemptAutoSendCallerVarsOverrideEntities(t *testing.T) {
	f := newServiceFixture(nil, config.SemanticConfig{})
	f.templates.templates = []*core.Template{productTemplate()}

	cls := autoReplyClassification()
	cls.Entities.CustomerName = "Dana"
	cls.Entities.OrderID = "55512"
	result := &core.TriageResult{Classification: cls}

	email := &core.EmailContent{Subject: "Compatibility", Body: "Is it compatible?"}
	rendered, _, err := f.service.AttemptAutoSend(context.Background(), result, email,
		map[string]string{"customer_name": "Ms Reeves"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rendered, "Hi Ms Reeves,") {
		t.Errorf("rendered = %q, want the caller-supplied name", rendered)
	}
}

func TestAttemptAutoSendGateBlockWithoutIncrement(t *testing.T) {
	f := newServiceFixture(nil, config.SemanticConfig{})
	f.templates.templates = []*core.Template{productTemplate()}
	f.counter.current = 50 // already at the daily cap

	cls := autoReplyClassification()
	cls.Entities.CustomerName = "Dana"
	result := &core.TriageResult{Classification: cls}

	email := &core.EmailContent{Subject: "Compatibility", Body: "Is it compatible?"}
	rendered, decision, err := f.service.AttemptAutoSend(context.Background(), result, email, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rendered != "" {
		t.Errorf("rendered = %q, want empty when blocked", rendered)
	}
	if decision == nil || decision.CanAutoSend {
		t.Fatal("expected a blocking decision")
	}
	if f.counter.increments != 0 {
		t.Errorf("counter increments = %d, want 0", f.counter.increments)
	}
	if len(f.templates.usage) != 0 {
		t.Errorf("usage recorded = %v, want none", f.templates.usage)
	}
}

func TestAttemptAutoSendRenderFailureBeforeIncrement(t *testing.T) {
	f := newServiceFixture(nil, config.SemanticConfig{})
	f.templates.templates = []*core.Template{productTemplate()}

	// No customer name anywhere, so the required variable is missing.
	result := &core.TriageResult{Classification: autoReplyClassification()}

	email := &core.EmailContent{Subject: "Compatibility", Body: "Is it compatible?"}
	rendered, decision, err := f.service.AttemptAutoSend(context.Background(), result, email, nil)
	if !errors.Is(err, playbook.ErrMissingVariable) {
		t.Fatalf("err = %v, want ErrMissingVariable", err)
	}
	if rendered != "" {
		t.Errorf("rendered = %q, want empty on a render failure", rendered)
	}
	if decision == nil || !decision.CanAutoSend {
		t.Error("gate decision should have passed before rendering failed")
	}
	if f.counter.increments != 0 {
		t.Errorf("counter increments = %d, want 0", f.counter.increments)
	}
	if len(f.templates.usage) != 0 {
		t.Errorf("usage recorded = %v, want none", f.templates.usage)
	}
}

func TestAttemptAutoSendCounterRaceFlipsDecision(t *testing.T) {
	f := newServiceFixture(nil, config.SemanticConfig{})
	f.templates.templates = []*core.Template{productTemplate()}
	f.counter.current = 49
	f.counter.admit = false // another pass takes the last slot first

	cls := autoReplyClassification()
	cls.Entities.CustomerName = "Dana"
	result := &core.TriageResult{Classification: cls}

	email := &core.EmailContent{Subject: "Compatibility", Body: "Is it compatible?"}
	rendered, decision, err := f.service.AttemptAutoSend(context.Background(), result, email, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rendered != "" {
		t.Errorf("rendered = %q, want empty after losing the counter race", rendered)
	}
	if decision.CanAutoSend {
		t.Error("decision must flip when the counter rejects the send")
	}
	found := false
	for _, name := range decision.FailedChecks {
		if name == automation.CheckDailyLimit {
			found = true
		}
	}
	if !found {
		t.Errorf("failed checks = %v, want daily_limit recorded", decision.FailedChecks)
	}
	if len(f.templates.usage) != 0 {
		t.Errorf("usage recorded = %v, want none", f.templates.usage)
	}
}
