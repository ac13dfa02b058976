package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/config"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/db"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/llm"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/pipeline"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestApp wires the full stack over in-memory sqlite, a mock chat
// platform and an LLM server that always returns content.
func newTestApp(t *testing.T, content string) (*app, *chat.MockPlatform) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)

	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	require.NoError(t, db.SeedAgents(gdb, []config.AgentConfig{
		{ExternalID: "U123", Name: "Ada", Documents: []config.DocumentConfig{{Title: "Bio", Content: "Ada writes compilers."}}},
		{ExternalID: "U456", Name: "Grace"},
	}))

	client, err := llm.New(llm.Opts{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	platform := chat.NewMockPlatform()
	a, err := buildApp(appDeps{DB: gdb, Platform: platform, LLM: client})
	require.NoError(t, err)
	return a, platform
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	log, err = newLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	log.Debug("dbg")
	assert.Contains(t, buf.String(), "msg=dbg")

	_, err = newLogger(config.LoggingConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}

func TestBuildApp_ProcessesMention(t *testing.T) {
	a, platform := newTestApp(t, "hello from the model")

	env, err := chat.ParseEnvelope([]byte(`{"type":"event_callback","event":{"type":"app_mention","channel":"C1","user":"UHUMAN","text":"<@U123> hi","ts":"1.1","client_msg_id":"k1"}}`))
	require.NoError(t, err)

	status, err := a.pipeline.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusRouted, status)

	posts := platform.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "hello from the model", posts[0].Text)
	assert.Equal(t, "1.1", posts[0].ThreadTS)
}

func TestRunAsk_DeliversChosenAgent(t *testing.T) {
	a, platform := newTestApp(t, `{"agent_id": 2, "agent_name": "Grace", "reply_text": "Grace here", "confidence": 0.9}`)

	var out bytes.Buffer
	err := runAsk(context.Background(), &out, a.router, router.Inbound{Channel: "C1", Text: "who debugs?"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Agent:      Grace (id 2)")
	assert.Contains(t, out.String(), "Confidence: 0.90")
	assert.Contains(t, out.String(), "Outcome:    delivered")
	require.Equal(t, 1, platform.PostCount())
	assert.Equal(t, "Grace here", platform.Posts()[0].Text)
}

func TestRunAsk_UnknownAgent(t *testing.T) {
	a, platform := newTestApp(t, `{"agent_id": 99, "agent_name": "Nobody", "reply_text": "x", "confidence": 0.1}`)

	var out bytes.Buffer
	err := runAsk(context.Background(), &out, a.router, router.Inbound{Channel: "C1", Text: "anyone?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, router.ErrUnresolvedAgent)
	assert.True(t, strings.Contains(out.String(), "Outcome:    unresolved"), "output = %q", out.String())
	assert.Zero(t, platform.PostCount())
}
