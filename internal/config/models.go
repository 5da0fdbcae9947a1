package config

import "time"

// SemanticConfig represents the configuration for the semantic classifier
type SemanticConfig struct {
	Provider      string
	Enabled       bool
	AmbiguousLow  float64
	AmbiguousHigh float64
	Timeout       time.Duration
	MaxPreviews   int
}

// RulesConfig represents the keyword lists the rule classifier reads
type RulesConfig struct {
	RiskKeywords    []string
	RefundKeywords  []string
	UrgencyKeywords []string
}

// DimensionWeights represents the per-dimension priority weights
type DimensionWeights struct {
	Risk       float64
	Time       float64
	Sentiment  float64
	Blocker    float64
	Value      float64
	Age        float64
	Escalation float64
}

// BandThresholds represents the priority band cutoffs, evaluated top-down
type BandThresholds struct {
	P0 float64
	P1 float64
	P2 float64
}

// ScoringConfig represents the configuration for the priority engine
type ScoringConfig struct {
	Weights    DimensionWeights
	Thresholds BandThresholds
	BaseScores map[string]float64
}

// BusinessHours represents the auto-send window; From > To wraps overnight
type BusinessHours struct {
	Enabled bool
	From    string
	To      string
}

// AutomationConfig represents the configuration for the eligibility gate
type AutomationConfig struct {
	AutoSendEnabled            bool
	BusinessHours              BusinessHours
	NeverAutoSend              []string
	DailyMax                   int
	DefaultConfidenceThreshold float64
	AutoResolveCategories      []string
	AutoReplyCategories        []string
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// StoreConfig represents the configuration for the template/counter stores
type StoreConfig struct {
	Type             string
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
}

// ServerConfig represents the configuration for the SMTP triage filter
type ServerConfig struct {
	ListenAddress  string
	RelayAddress   string
	RelayPort      int
	RelayEnabled   bool
	TagHeader      string
	PriorityHeader string
	ScoreHeader    string
	ReasonHeader   string
	ModifySubject  bool
	SubjectPrefix  string
}

// GetSemantic returns the semantic classifier configuration
func (c *Config) GetSemantic() SemanticConfig {
	timeout, err := c.GetDuration("semantic.timeout")
	if err != nil {
		timeout = 10 * time.Second
	}
	return SemanticConfig{
		Provider:      c.GetString("semantic.provider"),
		Enabled:       c.GetBool("semantic.enabled"),
		AmbiguousLow:  c.GetFloat64("semantic.ambiguous_low"),
		AmbiguousHigh: c.GetFloat64("semantic.ambiguous_high"),
		Timeout:       timeout,
		MaxPreviews:   c.GetInt("semantic.max_previews"),
	}
}

// GetRules returns the rule classifier configuration
func (c *Config) GetRules() RulesConfig {
	return RulesConfig{
		RiskKeywords:    c.GetStringSlice("rules.risk_keywords"),
		RefundKeywords:  c.GetStringSlice("rules.refund_keywords"),
		UrgencyKeywords: c.GetStringSlice("rules.urgency_keywords"),
	}
}

// GetScoring returns the priority engine configuration
func (c *Config) GetScoring() ScoringConfig {
	baseScores := make(map[string]float64)
	for category := range c.v.GetStringMap("scoring.base_scores") {
		baseScores[category] = c.GetFloat64("scoring.base_scores." + category)
	}
	return ScoringConfig{
		Weights: DimensionWeights{
			Risk:       c.GetFloat64("scoring.weights.risk"),
			Time:       c.GetFloat64("scoring.weights.time"),
			Sentiment:  c.GetFloat64("scoring.weights.sentiment"),
			Blocker:    c.GetFloat64("scoring.weights.blocker"),
			Value:      c.GetFloat64("scoring.weights.value"),
			Age:        c.GetFloat64("scoring.weights.age"),
			Escalation: c.GetFloat64("scoring.weights.escalation"),
		},
		Thresholds: BandThresholds{
			P0: c.GetFloat64("scoring.thresholds.p0"),
			P1: c.GetFloat64("scoring.thresholds.p1"),
			P2: c.GetFloat64("scoring.thresholds.p2"),
		},
		BaseScores: baseScores,
	}
}

// GetAutomation returns the eligibility gate configuration
func (c *Config) GetAutomation() AutomationConfig {
	return AutomationConfig{
		AutoSendEnabled: c.GetBool("automation.auto_send_enabled"),
		BusinessHours: BusinessHours{
			Enabled: c.GetBool("automation.business_hours.enabled"),
			From:    c.GetString("automation.business_hours.from"),
			To:      c.GetString("automation.business_hours.to"),
		},
		NeverAutoSend:              c.GetStringSlice("automation.never_auto_send"),
		DailyMax:                   c.GetInt("automation.daily_max"),
		DefaultConfidenceThreshold: c.GetFloat64("automation.default_confidence_threshold"),
		AutoResolveCategories:      c.GetStringSlice("automation.auto_resolve_categories"),
		AutoReplyCategories:        c.GetStringSlice("automation.auto_reply_categories"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetStore returns the store configuration
func (c *Config) GetStore() StoreConfig {
	freq, err := c.GetDuration("store.cleanup_frequency")
	if err != nil {
		freq = time.Hour
	}
	return StoreConfig{
		Type:             c.GetString("store.type"),
		CleanupFrequency: freq,
		SQLitePath:       c.GetString("store.sqlite_path"),
		MySQLDSN:         c.GetString("store.mysql_dsn"),
	}
}

// GetServer returns the SMTP filter configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		ListenAddress:  c.GetString("server.listen_address"),
		RelayAddress:   c.GetString("server.relay_address"),
		RelayPort:      c.GetInt("server.relay_port"),
		RelayEnabled:   c.GetBool("server.relay_enabled"),
		TagHeader:      c.GetString("server.headers.tag"),
		PriorityHeader: c.GetString("server.headers.priority"),
		ScoreHeader:    c.GetString("server.headers.score"),
		ReasonHeader:   c.GetString("server.headers.reason"),
		ModifySubject:  c.GetBool("server.modify_subject"),
		SubjectPrefix:  c.GetString("server.subject_prefix"),
	}
}
