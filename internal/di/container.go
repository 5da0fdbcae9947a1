package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/automation"
	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/factory"
	"github.com/mailpilot/triage-engine/internal/logging"
	"github.com/mailpilot/triage-engine/internal/playbook"
	"github.com/mailpilot/triage-engine/internal/rules"
	"github.com/mailpilot/triage-engine/internal/scoring"
	"github.com/mailpilot/triage-engine/internal/triage"
	"github.com/mailpilot/triage-engine/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register typed config sections
	if err := container.Provide(func(cfg *config.Config) config.SemanticConfig {
		return cfg.GetSemantic()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config) config.RulesConfig {
		return cfg.GetRules()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config) config.ScoringConfig {
		return cfg.GetScoring()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config) config.AutomationConfig {
		return cfg.GetAutomation()
	}); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewFilterFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register semantic classifier
	if err := container.Provide(func(f *factory.LLMFactory) (core.SemanticClassifier, error) {
		return f.CreateSemanticClassifier()
	}); err != nil {
		return nil, err
	}

	// Register the persistence backend and its three port views
	if err := container.Provide(func(f *factory.StoreFactory) (factory.TriageStore, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s factory.TriageStore) core.TemplateStore {
		return s
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s factory.TriageStore) core.SendCounter {
		return s
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s factory.TriageStore) core.ConversationStore {
		return s
	}); err != nil {
		return nil, err
	}

	// Register pipeline components
	if err := container.Provide(rules.NewClassifier); err != nil {
		return nil, err
	}
	if err := container.Provide(scoring.NewEngine); err != nil {
		return nil, err
	}
	if err := container.Provide(automation.NewGate); err != nil {
		return nil, err
	}
	if err := container.Provide(func(autoCfg config.AutomationConfig, logger *zap.Logger) *playbook.Matcher {
		return playbook.NewMatcher(autoCfg.DefaultConfidenceThreshold, logger)
	}); err != nil {
		return nil, err
	}

	// Register triage service
	if err := container.Provide(triage.NewService); err != nil {
		return nil, err
	}

	// Register email filter
	if err := container.Provide(func(f *factory.FilterFactory) (factory.EmailFilter, error) {
		return f.CreateEmailFilter()
	}); err != nil {
		return nil, err
	}

	return container, nil
}
