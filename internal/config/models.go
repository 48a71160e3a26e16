package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Model is one model role used by the app
type Model struct {
	ID        string `yaml:"id"`
	MaxTokens int    `yaml:"max_tokens"`
}

// ModelsConfig names the model used for each call site
type ModelsConfig struct {
	Chat       Model `yaml:"chat"`
	Classifier Model `yaml:"classifier"`
	Summary    Model `yaml:"summary"`
}

// DefaultModelsConfig returns the models used when no file is configured
func DefaultModelsConfig() *ModelsConfig {
	return &ModelsConfig{
		Chat:       Model{ID: "claude-sonnet-4-6", MaxTokens: 2048},
		Classifier: Model{ID: "claude-haiku-4-5-20251001", MaxTokens: 256},
		Summary:    Model{ID: "claude-haiku-4-5-20251001", MaxTokens: 512},
	}
}

// NewModelsConfig loads a models file on top of the defaults.
// A missing file is not an error; a malformed one is.
func NewModelsConfig(configPath string) (*ModelsConfig, error) {
	mc := DefaultModelsConfig()
	if configPath == "" {
		return mc, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return mc, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, mc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}
	if err := mc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid models config %s: %w", configPath, err)
	}
	return mc, nil
}

// Validate checks every role has a model id and a positive token limit
func (mc *ModelsConfig) Validate() error {
	roles := map[string]Model{"chat": mc.Chat, "classifier": mc.Classifier, "summary": mc.Summary}
	for name, m := range roles {
		if m.ID == "" {
			return fmt.Errorf("%s model id is empty", name)
		}
		if m.MaxTokens <= 0 {
			return fmt.Errorf("%s max_tokens must be positive, got %d", name, m.MaxTokens)
		}
	}
	return nil
}
