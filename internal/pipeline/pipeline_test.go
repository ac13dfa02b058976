package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/db"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/dedup"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/delivery"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/grounding"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/identity"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/llm"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/mention"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/router"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an OpenAI-compatible server that answers as the persona
// named in the system turn.
type fakeBackend struct {
	mu       sync.Mutex
	contexts map[string]string // persona -> context turn
	fail     map[string]bool
	calls    int
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []llm.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 4 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	system := req.Messages[0].Content
	persona := strings.TrimSuffix(strings.SplitN(strings.TrimPrefix(system, "You are an assistant for the bot named "), ". Use", 2)[0], ".")

	b.mu.Lock()
	b.calls++
	b.contexts[persona] = req.Messages[1].Content
	fail := b.fail[persona]
	b.mu.Unlock()

	if fail {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": persona + " replies"}}},
	})
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type harness struct {
	pipeline *Pipeline
	store    *store.Store
	platform *chat.MockPlatform
	backend  *fakeBackend
	ada      models.Agent
	grace    models.Agent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	s, err := store.New(gdb)
	require.NoError(t, err)

	h := &harness{
		store:    s,
		platform: chat.NewMockPlatform(),
		backend:  &fakeBackend{contexts: map[string]string{}, fail: map[string]bool{}},
	}
	h.ada = models.Agent{ExternalID: "U123", Name: "Ada"}
	h.grace = models.Agent{ExternalID: "U456", Name: "Grace"}
	require.NoError(t, gdb.Create(&h.ada).Error)
	require.NoError(t, gdb.Create(&h.grace).Error)
	require.NoError(t, gdb.Create(&models.Document{Title: "bio", Content: "Ada writes compilers.", AgentID: h.ada.ID}).Error)
	require.NoError(t, gdb.Create(&models.Document{Title: "bio", Content: "Grace debugs moths.", AgentID: h.grace.ID}).Error)
	h.platform.SetProfile("UHUMAN", chat.Profile{Username: "alice", Email: "alice@example.com"})

	srv := httptest.NewServer(h.backend)
	t.Cleanup(srv.Close)
	client, err := llm.New(llm.Opts{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	ids, err := identity.New(identity.Opts{Store: s, Directory: h.platform})
	require.NoError(t, err)
	rt, err := router.New(router.Opts{
		Grounder:  grounding.New(s),
		Completer: client,
		Deliverer: delivery.New(h.platform, s, nil),
		Roster:    s,
	})
	require.NoError(t, err)
	h.pipeline, err = New(Opts{
		Dedup:      dedup.New(s),
		Identities: ids,
		Claimer:    s,
		Mentions:   mention.New(s, nil),
		Router:     rt,
	})
	require.NoError(t, err)
	return h
}

func envelope(eventType, text, ts, key string) chat.Envelope {
	return chat.Envelope{
		Type: "event_callback",
		Event: &chat.Event{
			Type:        eventType,
			Channel:     "C1",
			User:        "UHUMAN",
			Text:        text,
			TS:          ts,
			ClientMsgID: key,
		},
	}
}

func (h *harness) messages(t *testing.T) []models.Message {
	t.Helper()
	var msgs []models.Message
	require.NoError(t, h.store.DB().Order("id").Find(&msgs).Error)
	return msgs
}

func (h *harness) botMessages(t *testing.T) []models.Message {
	t.Helper()
	var out []models.Message
	for _, m := range h.messages(t) {
		if m.IsBot {
			out = append(out, m)
		}
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{})
	assert.EqualError(t, err, "pipeline: dedup is required")
}

func TestProcess_ExplicitMentionRepliesOnce(t *testing.T) {
	h := newHarness(t)

	status, err := h.pipeline.Process(context.Background(), envelope("app_mention", "<@U123> what about Grace?", "1.0001", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusRouted, status)

	posts := h.platform.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "Ada replies", posts[0].Text)
	assert.Equal(t, "1.0001", posts[0].ThreadTS)
	assert.Equal(t, "Here is some context information: Ada writes compilers.", h.backend.contexts["Ada"])
	assert.NotContains(t, h.backend.contexts, "Grace")
}

func TestProcess_UnknownMentionYieldsNoReply(t *testing.T) {
	h := newHarness(t)

	status, err := h.pipeline.Process(context.Background(), envelope("app_mention", "<@U999> hello", "1.0001", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusNoCandidates, status)
	assert.Zero(t, h.platform.PostCount())
	assert.Zero(t, h.backend.callCount())

	// The inbound message is still recorded.
	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsBot)
}

func TestProcess_ReplayedKeyHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	env := envelope("app_mention", "<@U123> hi", "1.0001", "key-1")

	_, err := h.pipeline.Process(context.Background(), env)
	require.NoError(t, err)
	before := len(h.messages(t))
	lookups := h.platform.LookupCount()

	// Same key, different ts: still a duplicate.
	env.Event.TS = "1.0002"
	status, err := h.pipeline.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, status)
	assert.Len(t, h.messages(t), before)
	assert.Equal(t, 1, h.platform.PostCount())
	assert.Equal(t, lookups, h.platform.LookupCount())
	assert.Equal(t, 1, h.backend.callCount())
}

func TestProcess_FallbackKeyWithoutClientMsgID(t *testing.T) {
	h := newHarness(t)
	env := envelope("message", "hello Ada", "1.0001", "")

	_, err := h.pipeline.Process(context.Background(), env)
	require.NoError(t, err)
	status, err := h.pipeline.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, status)
	assert.Equal(t, 1, h.platform.PostCount())
}

func TestProcess_TwoNamedAgentsFailureIsolated(t *testing.T) {
	h := newHarness(t)
	h.backend.fail["Ada"] = true

	status, err := h.pipeline.Process(context.Background(), envelope("message", "ada and GRACE, thoughts?", "1.0001", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusRouted, status)
	assert.Equal(t, 2, h.backend.callCount(), "both agents attempted")

	posts := h.platform.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "Grace replies", posts[0].Text)

	bots := h.botMessages(t)
	require.Len(t, bots, 1)
	require.NotNil(t, bots[0].AgentID)
	assert.Equal(t, h.grace.ID, *bots[0].AgentID)
}

func TestProcess_ReplyRoundTrip(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.Process(context.Background(), envelope("app_mention", "<@U456> hi", "1.0001", "key-1"))
	require.NoError(t, err)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	in, reply := msgs[0], msgs[1]

	assert.False(t, in.IsBot)
	require.NotNil(t, in.UserID)
	assert.Nil(t, in.AgentID)
	require.NotNil(t, in.IdempotencyKey)
	assert.Equal(t, "key-1", *in.IdempotencyKey)

	assert.Equal(t, in.Channel, reply.Channel)
	assert.True(t, reply.IsBot)
	require.NotNil(t, reply.AgentID)
	assert.Equal(t, h.grace.ID, *reply.AgentID)
	assert.Nil(t, reply.UserID)
	assert.Equal(t, h.platform.Posts()[0].TS, reply.ExternalTS)
}

func TestProcess_HistoryFeedsLaterContext(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.Process(context.Background(), envelope("app_mention", "<@U123> one", "1.0001", "key-1"))
	require.NoError(t, err)
	_, err = h.pipeline.Process(context.Background(), envelope("app_mention", "<@U123> two", "1.0002", "key-2"))
	require.NoError(t, err)

	assert.Equal(t, "Here is some context information: Ada writes compilers.\n\nBot: Ada replies", h.backend.contexts["Ada"])
}

func TestProcess_Ignored(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*chat.Envelope)
	}{
		{"no event", func(e *chat.Envelope) { e.Event = nil }},
		{"bot message", func(e *chat.Envelope) { e.Event.BotID = "B1" }},
		{"edit subtype", func(e *chat.Envelope) { e.Event.Subtype = "message_changed" }},
		{"other type", func(e *chat.Envelope) { e.Event.Type = "reaction_added" }},
		{"no user", func(e *chat.Envelope) { e.Event.User = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			env := envelope("message", "hello Ada", "1.0001", "key-1")
			tt.mutate(&env)

			status, err := h.pipeline.Process(context.Background(), env)
			require.NoError(t, err)
			assert.Equal(t, StatusIgnored, status)
			assert.Empty(t, h.messages(t))
			assert.Zero(t, h.platform.LookupCount())
		})
	}
}

func TestProcess_DegradedIdentity(t *testing.T) {
	h := newHarness(t)
	env := envelope("message", "hello Ada", "1.0001", "key-1")
	env.Event.User = "UNKNOWN"

	status, err := h.pipeline.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, StatusRouted, status)

	var u models.User
	require.NoError(t, h.store.DB().Where("external_id = ?", "UNKNOWN").First(&u).Error)
	assert.Equal(t, "user_UNKNOWN", u.Username)
}

func TestProcess_ConcurrentSameKeyRepliesOnce(t *testing.T) {
	h := newHarness(t)

	const n = 4
	var wg sync.WaitGroup
	statuses := make([]Status, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.pipeline.Process(context.Background(), envelope("app_mention", "<@U123> hi", "1.0001", "same-key"))
			assert.NoError(t, err)
			statuses[i] = s
		}(i)
	}
	wg.Wait()

	routed := 0
	for _, s := range statuses {
		if s == StatusRouted {
			routed++
		} else {
			assert.Equal(t, StatusDuplicate, s)
		}
	}
	assert.Equal(t, 1, routed)
	assert.Len(t, h.botMessages(t), 1)
	assert.Equal(t, 1, h.platform.PostCount())
}

func TestHandle_ReturnsStorageErrors(t *testing.T) {
	h := newHarness(t)
	sqlDB, err := h.store.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = h.pipeline.Handle(context.Background(), envelope("message", "hello Ada", "1.0001", "key-1"))
	assert.Error(t, err)
}
