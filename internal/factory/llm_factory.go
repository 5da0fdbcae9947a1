package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/adapters/bedrock"
	"github.com/mailpilot/triage-engine/internal/adapters/gemini"
	"github.com/mailpilot/triage-engine/internal/adapters/openai"
	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/utils"
)

// LLMFactory creates semantic classifier clients
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateSemanticClassifier creates a classifier client based on the
// configured provider. When the semantic pass is disabled it returns nil,
// which the triage service treats as rules-only operation.
func (f *LLMFactory) CreateSemanticClassifier() (core.SemanticClassifier, error) {
	semCfg := f.cfg.GetSemantic()
	if !semCfg.Enabled {
		f.logger.Info("Semantic classification disabled, running rules only")
		return nil, nil
	}

	switch semCfg.Provider {
	case "bedrock":
		factory := bedrock.NewFactory(f.cfg, f.logger, f.textProcessor)
		return factory.CreateClient()
	case "gemini":
		factory := gemini.NewFactory(f.cfg, f.logger, f.textProcessor)
		return factory.CreateClient()
	case "openai":
		factory := openai.NewFactory(f.cfg, f.logger, f.textProcessor)
		return factory.CreateClient()
	default:
		return nil, fmt.Errorf("unsupported semantic provider: %s", semCfg.Provider)
	}
}
