package app

import (
	"sage-app/internal/auth"
	"sage-app/internal/config"
	"sage-app/internal/repository/db"
	"sage-app/internal/service/checkpoint"
	"sage-app/internal/service/classifier"
	"sage-app/internal/service/conversation"
	"sage-app/internal/service/llm"
	"sage-app/internal/service/manual"
	"sage-app/internal/service/session"
	"sage-app/internal/service/summary"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Database interface for data persistence
	DB db.Database
	// Centralized application configuration
	AppConfig *config.AppConfig
	// Model service client shared by every call site
	LLM llm.Client

	Tokens        *auth.TokenService
	Auth          *auth.Service
	Conversations *conversation.ConversationService
	Sessions      *session.Orchestrator
	Checkpoints   *checkpoint.Service
	Manuals       *manual.ManualService
	Summaries     *summary.SummaryService
}

// NewConfig wires the services on top of a store and a model client
func NewConfig(database db.Database, client llm.Client, appConfig *config.AppConfig) *Config {
	if appConfig.Models == nil {
		appConfig.Models = config.DefaultModelsConfig()
	}
	models := appConfig.Models

	tokens := auth.NewTokenService(appConfig.Auth)
	sessions := session.New(database, client, classifier.New(client, models.Classifier), session.OptionsFromConfig(appConfig))

	return &Config{
		DB:            database,
		AppConfig:     appConfig,
		LLM:           client,
		Tokens:        tokens,
		Auth:          auth.NewService(database, tokens),
		Conversations: conversation.NewConversationService(database),
		Sessions:      sessions,
		Checkpoints:   checkpoint.NewService(database, sessions),
		Manuals:       manual.NewManualService(database),
		Summaries:     summary.NewSummaryService(database, client, models.Summary),
	}
}

// ModelsConfig returns the configured models
func (c *Config) ModelsConfig() *config.ModelsConfig {
	return c.AppConfig.Models
}
