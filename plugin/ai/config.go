package ai

import (
	"errors"

	"github.com/ariavoice/aria/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Enabled bool

	LLM LLMConfig
}

// LLMConfig represents LLM configuration. Any OpenAI-compatible endpoint
// works; the base URL selects the provider.
type LLMConfig struct {
	BaseURL      string
	APIKey       string
	ChatModel    string // model for conversational replies
	SummaryModel string // model for context summarization, defaults to ChatModel
	MaxTokens    int    // default: 2048
	Temperature  float32
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
	}
	if !cfg.Enabled {
		return cfg
	}

	cfg.LLM = LLMConfig{
		BaseURL:      p.AIBaseURL,
		APIKey:       p.AIAPIKey,
		ChatModel:    p.AIChatModel,
		SummaryModel: p.AISummaryModel,
		MaxTokens:    p.AIMaxTokens,
		Temperature:  0.7,
	}
	if cfg.LLM.ChatModel == "" {
		cfg.LLM.ChatModel = "gpt-4o-mini"
	}
	if cfg.LLM.SummaryModel == "" {
		cfg.LLM.SummaryModel = cfg.LLM.ChatModel
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return errors.New("LLM requires an API key or a base URL")
	}
	if c.LLM.ChatModel == "" {
		return errors.New("LLM chat model is required")
	}
	return nil
}
