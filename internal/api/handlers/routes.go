package handlers

import (
	"net/http"

	"sage-app/internal/app"
)

// NewRouter registers every route. Protected routes answer 401 before any
// handler runs; chat and checkpoint streams are also rate limited per user.
func NewRouter(cfg *app.Config) http.Handler {
	chat := NewChatHandlers(cfg)
	authHandlers := NewAuthHandlers(cfg.Auth)

	protected := AuthMiddleware(cfg.Tokens)
	limited := Chain(protected, RateLimitMiddleware(NewRateLimiter(cfg.AppConfig.RateLimit)))

	mux := http.NewServeMux()

	// Auth routes
	mux.HandleFunc("POST /api/login", authHandlers.LoginHandler)
	mux.HandleFunc("POST /api/register", authHandlers.RegisterHandler)

	// Session routes
	mux.Handle("POST /api/chat", limited(http.HandlerFunc(chat.ChatStreamHandler)))
	mux.Handle("POST /api/checkpoint/confirm", limited(http.HandlerFunc(chat.ConfirmCheckpointHandler)))
	mux.Handle("POST /api/session/summary", protected(http.HandlerFunc(chat.SummarizeHandler)))
	mux.Handle("GET /api/manual", protected(http.HandlerFunc(chat.GetManualHandler)))

	// Conversation routes
	mux.Handle("GET /api/conversations", protected(http.HandlerFunc(chat.GetConversationsHandler)))
	mux.Handle("GET /api/conversations/latest", protected(http.HandlerFunc(chat.GetLatestConversationHandler)))
	mux.Handle("GET /api/conversations/{id}/messages", protected(http.HandlerFunc(chat.GetConversationMessagesHandler)))

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return Chain(
		RecoveryMiddleware,
		LoggingMiddleware,
		CORSMiddleware(cfg.AppConfig.Server.AllowedOrigin),
	)(mux)
}
