package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sage-app/internal/app"
	"sage-app/internal/auth"
	"sage-app/internal/config"
	"sage-app/internal/repository/db"
	"sage-app/internal/sse"
	"sage-app/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainVerdict = `{"is_checkpoint":false,"layer":null,"type":null,"name":null,"processing_text":"noticing the pull"}`

type fixture struct {
	store  *testutil.MockDatabase
	client *testutil.MockLLMClient
	cfg    *app.Config
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMockDatabase()
	client := &testutil.MockLLMClient{
		StreamChunks: testutil.Chunks("Hello", " there"),
		CompleteText: plainVerdict,
	}
	appConfig := &config.AppConfig{
		Server: config.ServerConfig{AllowedOrigin: "http://localhost:3000"},
		Session: config.SessionConfig{
			HistoryHead:       4,
			HistoryTail:       46,
			ClassifierWindow:  4,
			GenerationTimeout: time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret:       []byte(strings.Repeat("k", 32)),
			TokenExpiration: time.Hour,
		},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
	}
	cfg := app.NewConfig(store, client, appConfig)
	return &fixture{store: store, client: client, cfg: cfg, router: NewRouter(cfg)}
}

// user registers a user and returns its bearer token and id
func (f *fixture) user(t *testing.T, name string) (string, string) {
	t.Helper()
	token, err := f.cfg.Auth.Register(context.Background(), name, "", "secret123")
	require.NoError(t, err)
	claims, err := f.cfg.Tokens.ValidateToken(token)
	require.NoError(t, err)
	return token, claims.UserID()
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// checkpointMessage stores an assistant reply judged to be a checkpoint
func (f *fixture) checkpointMessage(t *testing.T, convID string, meta db.CheckpointMeta) *db.Message {
	t.Helper()
	ctx := context.Background()
	msg, err := f.store.AddMessage(ctx, db.NewMessage{
		ConversationID: convID,
		Role:           db.RoleAssistant,
		Kind:           db.KindAssistantContent,
		Content:        "You go quiet when voices rise.",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateMessageClassification(ctx, msg.ID, db.Classification{
		ProcessingText: "a loop",
		Meta:           &meta,
	}))
	return msg
}

func events(t *testing.T, body io.Reader) []sse.Event {
	t.Helper()
	var out []sse.Event
	d := sse.NewDecoder(body)
	for {
		e, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func strPtr(s string) *string { return &s }

func TestProtectedRoutes_RequireToken(t *testing.T) {
	f := newFixture(t)

	routes := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/chat"},
		{http.MethodPost, "/api/checkpoint/confirm"},
		{http.MethodPost, "/api/session/summary"},
		{http.MethodGet, "/api/manual"},
		{http.MethodGet, "/api/conversations"},
		{http.MethodGet, "/api/conversations/latest"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := f.do(t, rt.method, rt.path, "", map[string]string{})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, http.StatusUnauthorized, decodeError(t, rec).Code)

			rec = f.do(t, rt.method, rt.path, "garbage", map[string]string{})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	assert.Empty(t, f.client.StreamRequests(), "no model call before authentication")
}

func TestChatStream_NewConversation(t *testing.T) {
	f := newFixture(t)
	token, userID := f.user(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/chat", token, ChatRequest{Message: strPtr("I keep avoiding conflict")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	got := events(t, rec.Body)
	require.Len(t, got, 3)
	assert.Equal(t, sse.TextDelta("Hello"), got[0])
	assert.Equal(t, sse.TextDelta(" there"), got[1])

	complete := got[2]
	assert.Equal(t, sse.TypeMessageComplete, complete.Type)
	assert.Nil(t, complete.Checkpoint)
	assert.Equal(t, "noticing the pull", complete.ProcessingText)

	conv, err := f.store.GetConversation(context.Background(), complete.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, userID, conv.UserID)

	msgs, err := f.store.GetConversationMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello there", msgs[1].Content)
	assert.Equal(t, complete.MessageID, msgs[1].ID)
}

func TestChatStream_OpenerWithoutMessage(t *testing.T) {
	f := newFixture(t)
	token, _ := f.user(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/chat", token, map[string]interface{}{"message": nil})
	require.Equal(t, http.StatusOK, rec.Code)

	got := events(t, rec.Body)
	require.NotEmpty(t, got)
	assert.Equal(t, sse.TypeMessageComplete, got[len(got)-1].Type)

	reqs := f.client.StreamRequests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, db.RoleUser, reqs[0].Messages[0].Role)
}

func TestChatStream_RejectsBeforeStreaming(t *testing.T) {
	f := newFixture(t)
	token, _ := f.user(t, "alice")
	_, otherID := f.user(t, "bob")

	foreign, err := f.store.CreateConversation(context.Background(), otherID)
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"empty message", ChatRequest{Message: strPtr("")}, http.StatusBadRequest},
		{"malformed conversation id", ChatRequest{Message: strPtr("hi"), ConversationID: "nope"}, http.StatusBadRequest},
		{"unknown conversation", ChatRequest{Message: strPtr("hi"), ConversationID: "6f1e3c0a-2b7d-4c55-8e0f-9a1b2c3d4e5f"}, http.StatusNotFound},
		{"another user's conversation", ChatRequest{Message: strPtr("hi"), ConversationID: foreign.ID}, http.StatusForbidden},
		{"invalid json", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/chat", token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
	assert.Empty(t, f.client.StreamRequests())
}

func TestChatStream_GenerationFailureIsStreamError(t *testing.T) {
	f := newFixture(t)
	f.client.StreamErr = errors.New("upstream down")
	token, _ := f.user(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/chat", token, ChatRequest{Message: strPtr("hi")})
	require.Equal(t, http.StatusOK, rec.Code)

	got := events(t, rec.Body)
	require.Len(t, got, 1)
	assert.Equal(t, sse.TypeError, got[0].Type)
	assert.NotEmpty(t, got[0].Message)
}

func TestConfirmCheckpoint_ConfirmedPattern(t *testing.T) {
	f := newFixture(t)
	token, userID := f.user(t, "alice")
	ctx := context.Background()

	conv, err := f.store.CreateConversation(ctx, userID)
	require.NoError(t, err)
	msg := f.checkpointMessage(t, conv.ID, db.CheckpointMeta{
		Layer: 3, Type: db.TypePattern, Name: strPtr("  Conflict Avoidance "), Status: db.StatusPending,
	})

	rec := f.do(t, http.MethodPost, "/api/checkpoint/confirm", token, ConfirmRequest{
		MessageID: msg.ID, Action: "confirmed", ConversationID: conv.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := events(t, rec.Body)
	require.NotEmpty(t, got)
	assert.Equal(t, sse.TypeMessageComplete, got[len(got)-1].Type)

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusConfirmed, stored.CheckpointMeta.Status)

	rec = f.do(t, http.MethodGet, "/api/manual", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var manual ManualResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&manual))
	require.Len(t, manual.Components, 1)
	assert.Equal(t, 3, manual.Components[0].Layer)
	assert.Equal(t, "pattern", manual.Components[0].Type)
	require.NotNil(t, manual.Components[0].Name)
	assert.Equal(t, "conflict avoidance", *manual.Components[0].Name)
	assert.False(t, manual.GateReached)

	// The decision reaches the model as a user turn
	reqs := f.client.StreamRequests()
	require.Len(t, reqs, 1)
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	assert.Equal(t, db.RoleUser, last.Role)
	assert.Equal(t, "I confirmed that checkpoint. That resonates.", last.Content)
}

func TestConfirmCheckpoint_Errors(t *testing.T) {
	f := newFixture(t)
	token, userID := f.user(t, "alice")
	_, otherID := f.user(t, "bob")
	ctx := context.Background()

	own, err := f.store.CreateConversation(ctx, userID)
	require.NoError(t, err)
	foreign, err := f.store.CreateConversation(ctx, otherID)
	require.NoError(t, err)

	checkpointMsg := f.checkpointMessage(t, own.ID, db.CheckpointMeta{Layer: 1, Type: db.TypeComponent, Status: db.StatusPending})
	foreignMsg := f.checkpointMessage(t, foreign.ID, db.CheckpointMeta{Layer: 1, Type: db.TypeComponent, Status: db.StatusPending})
	plainMsg, err := f.store.AddMessage(ctx, db.NewMessage{
		ConversationID: own.ID, Role: db.RoleAssistant, Kind: db.KindAssistantContent, Content: "plain",
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    ConfirmRequest
		status int
	}{
		{"unknown message", ConfirmRequest{MessageID: "6f1e3c0a-2b7d-4c55-8e0f-9a1b2c3d4e5f", Action: "confirmed"}, http.StatusNotFound},
		{"another user's message", ConfirmRequest{MessageID: foreignMsg.ID, Action: "confirmed"}, http.StatusForbidden},
		{"not a checkpoint", ConfirmRequest{MessageID: plainMsg.ID, Action: "rejected"}, http.StatusBadRequest},
		{"invalid action", ConfirmRequest{MessageID: checkpointMsg.ID, Action: "maybe"}, http.StatusBadRequest},
		{"wrong conversation", ConfirmRequest{MessageID: checkpointMsg.ID, Action: "rejected", ConversationID: foreign.ID}, http.StatusBadRequest},
		{"missing message id", ConfirmRequest{Action: "rejected"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/checkpoint/confirm", token, tt.req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, decodeError(t, rec).Code)
		})
	}

	stored, err := f.store.GetMessage(ctx, checkpointMsg.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, stored.CheckpointMeta.Status, "rejected requests must not change the checkpoint")
	assert.Empty(t, f.client.StreamRequests())
}

func TestGetManual_Empty(t *testing.T) {
	f := newFixture(t)
	token, _ := f.user(t, "alice")

	rec := f.do(t, http.MethodGet, "/api/manual", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"components":[],"gateReached":false}`, rec.Body.String())
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	token, userID := f.user(t, "alice")
	_, otherID := f.user(t, "bob")
	ctx := context.Background()

	empty, err := f.store.CreateConversation(ctx, userID)
	require.NoError(t, err)
	foreign, err := f.store.CreateConversation(ctx, otherID)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/session/summary", token, SummarizeRequest{ConversationID: empty.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":""}`, rec.Body.String())
	assert.Empty(t, f.client.CompleteRequests())

	rec = f.do(t, http.MethodPost, "/api/session/summary", token, SummarizeRequest{ConversationID: foreign.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = f.store.AddMessage(ctx, db.NewMessage{ConversationID: empty.ID, Role: db.RoleUser, Kind: db.KindUserContent, Content: "hi"})
	require.NoError(t, err)
	f.client.CompleteText = "Explored conflict."

	rec = f.do(t, http.MethodPost, "/api/session/summary", token, SummarizeRequest{ConversationID: empty.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"Explored conflict."}`, rec.Body.String())

	conv, err := f.store.GetConversation(ctx, empty.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.Summary)
	assert.Equal(t, "Explored conflict.", *conv.Summary)
}

func TestConversations(t *testing.T) {
	f := newFixture(t)
	token, userID := f.user(t, "alice")
	ctx := context.Background()

	rec := f.do(t, http.MethodGet, "/api/conversations/latest", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	conv, err := f.store.CreateConversation(ctx, userID)
	require.NoError(t, err)
	for _, m := range []db.NewMessage{
		{ConversationID: conv.ID, Role: db.RoleUser, Kind: db.KindUserContent, Content: "hi"},
		{ConversationID: conv.ID, Role: db.RoleSystem, Kind: db.KindCheckpointDecision, Content: db.DecisionRejected.Marker()},
		{ConversationID: conv.ID, Role: db.RoleAssistant, Kind: db.KindAssistantContent, Content: "hello"},
	} {
		_, err := f.store.AddMessage(ctx, m)
		require.NoError(t, err)
	}

	rec = f.do(t, http.MethodGet, "/api/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ConversationsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, conv.ID, list.Conversations[0].ID)

	rec = f.do(t, http.MethodGet, "/api/conversations/latest", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest ConversationInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&latest))
	assert.Equal(t, conv.ID, latest.ID)

	rec = f.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var transcript MessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&transcript))
	require.Len(t, transcript.Messages, 2)
	for _, m := range transcript.Messages {
		assert.NotEqual(t, db.RoleSystem, m.Role)
	}

	otherToken, _ := f.user(t, "bob")
	rec = f.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/conversations/not-a-uuid/messages", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "carol", Password: "secret123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg RegisterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reg))
	assert.NotEmpty(t, reg.Token)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"duplicate username", "/api/register", RegisterRequest{Username: "carol", Password: "secret123"}, http.StatusConflict},
		{"short password", "/api/register", RegisterRequest{Username: "dave", Password: "123"}, http.StatusBadRequest},
		{"login", "/api/login", LoginRequest{Username: " carol ", Password: "secret123"}, http.StatusOK},
		{"wrong password", "/api/login", LoginRequest{Username: "carol", Password: "nope123"}, http.StatusUnauthorized},
		{"unknown user", "/api/login", LoginRequest{Username: "erin", Password: "secret123"}, http.StatusUnauthorized},
		{"missing fields", "/api/login", LoginRequest{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func(userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		claims := &auth.Claims{Username: userID}
		claims.Subject = userID
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, request("u1"))
	assert.Equal(t, http.StatusTooManyRequests, request("u1"))
	assert.Equal(t, http.StatusNoContent, request("u2"), "buckets are per user")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodOptions, "/api/chat", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusInternalServerError, decodeError(t, rec).Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
