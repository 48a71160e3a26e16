package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"sage-app/internal/api/handlers"
	"sage-app/internal/sse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer replays scripted event streams and records request bodies
type fakeServer struct {
	mu      sync.Mutex
	scripts [][]sse.Event
	bodies  []map[string]interface{}
	paths   []string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	var body map[string]interface{}
	json.NewDecoder(r.Body).Decode(&body)
	f.bodies = append(f.bodies, body)
	f.paths = append(f.paths, r.URL.Path)
	var script []sse.Event
	if len(f.scripts) > 0 {
		script, f.scripts = f.scripts[0], f.scripts[1:]
	}
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(handlers.ErrorResponse{Code: 401, Message: "Invalid token"})
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		panic(err)
	}
	for _, e := range script {
		stream.Send(e)
	}
}

func newTestSession(t *testing.T, scripts ...[]sse.Event) (*Session, *fakeServer, *strings.Builder) {
	t.Helper()
	fake := &fakeServer{scripts: scripts}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	var out strings.Builder
	return NewSession(NewClient(server.URL, "tok"), "", &out), fake, &out
}

func name(s string) *string { return &s }

func TestSession_SendPrintsDeltasAndTracksConversation(t *testing.T) {
	s, fake, out := newTestSession(t, []sse.Event{
		sse.TextDelta("Hel"),
		sse.TextDelta("lo"),
		sse.MessageComplete("m1", "c1", nil, "listening..."),
	})

	require.NoError(t, s.Send(context.Background(), name("hi")))

	assert.Contains(t, out.String(), "Hello")
	assert.Contains(t, out.String(), "(listening...)")
	assert.Equal(t, "c1", s.conversationID)
	assert.Equal(t, "hi", fake.bodies[0]["message"])
	assert.Nil(t, s.last, "a completed turn leaves nothing to retry")
}

func TestSession_OpenerSendsNullMessage(t *testing.T) {
	s, fake, _ := newTestSession(t, []sse.Event{sse.MessageComplete("m1", "c1", nil, "x")})

	require.NoError(t, s.Send(context.Background(), nil))

	msg, present := fake.bodies[0]["message"]
	assert.True(t, present)
	assert.Nil(t, msg)
}

func TestSession_RetryResendsLastAttempt(t *testing.T) {
	s, fake, out := newTestSession(t,
		[]sse.Event{sse.Error("Sage took too long to respond. Please try again.")},
		[]sse.Event{sse.TextDelta("ok"), sse.MessageComplete("m2", "c1", nil, "x")},
	)
	ctx := context.Background()

	err := s.Send(ctx, name("are you there?"))
	assert.ErrorIs(t, err, errTurnFailed)
	assert.Contains(t, out.String(), "took too long")
	assert.Contains(t, out.String(), "/retry")
	require.Len(t, fake.bodies, 1, "failures are never retried automatically")

	require.NoError(t, s.Retry(ctx))
	require.Len(t, fake.bodies, 2)
	assert.Equal(t, "are you there?", fake.bodies[1]["message"])

	assert.Error(t, s.Retry(ctx), "nothing left to retry")
}

func TestSession_DroppedStreamIsRetryable(t *testing.T) {
	s, _, out := newTestSession(t, []sse.Event{sse.TextDelta("partial")})

	assert.ErrorIs(t, s.Send(context.Background(), name("hi")), errTurnFailed)
	assert.Contains(t, out.String(), "Connection lost")
	assert.NotNil(t, s.last)
}

func TestSession_CheckpointDecision(t *testing.T) {
	s, fake, out := newTestSession(t,
		[]sse.Event{sse.MessageComplete("m1", "c1", &sse.Checkpoint{
			IsCheckpoint: true, Layer: 3, Type: "pattern", Name: name("Conflict Avoidance"),
		}, "a loop")},
		[]sse.Event{sse.MessageComplete("m2", "c1", nil, "x")},
	)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, name("hi")))
	assert.Contains(t, out.String(), `layer 3 pattern "Conflict Avoidance"`)

	require.NoError(t, s.Decide(ctx, "confirmed"))
	assert.Equal(t, "/api/checkpoint/confirm", fake.paths[1])
	assert.Equal(t, "m1", fake.bodies[1]["messageId"])
	assert.Equal(t, "confirmed", fake.bodies[1]["action"])
	assert.Equal(t, "c1", fake.bodies[1]["conversationId"])

	assert.Error(t, s.Decide(ctx, "rejected"), "the checkpoint was answered")
}

func TestSession_LoopCommands(t *testing.T) {
	s, fake, out := newTestSession(t,
		[]sse.Event{sse.Error("Something went wrong generating a response. Please try again.")},
		[]sse.Event{sse.MessageComplete("m1", "c1", nil, "x")},
	)

	in := strings.NewReader("hello\n/retry\n/bogus\n/quit\nnever sent\n")
	require.NoError(t, s.Loop(context.Background(), in))

	require.Len(t, fake.bodies, 2)
	assert.Equal(t, "hello", fake.bodies[1]["message"])
	assert.Contains(t, out.String(), "commands:")
}

func TestClient_APIError(t *testing.T) {
	fake := &fakeServer{}
	server := httptest.NewServer(fake)
	defer server.Close()

	err := NewClient(server.URL, "wrong").Chat(context.Background(), nil, "", sse.Handlers{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Equal(t, "Invalid token", apiErr.Message)
}

func TestClient_LatestConversationNone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"","code":404,"message":"No conversations yet"}`)
	}))
	defer server.Close()

	id, err := NewClient(server.URL, "tok").LatestConversation(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}
