package grounding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/db"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	s, err := store.New(gdb)
	require.NoError(t, err)
	return s
}

func seedAgent(t *testing.T, s *store.Store, docs ...string) models.Agent {
	t.Helper()
	a := models.Agent{ExternalID: "U123", Name: "Ada"}
	require.NoError(t, s.DB().Create(&a).Error)
	for i, content := range docs {
		d := models.Document{Title: fmt.Sprintf("doc %d", i), Content: content, AgentID: a.ID}
		require.NoError(t, s.DB().Create(&d).Error)
	}
	return a
}

func addReply(t *testing.T, s *store.Store, agent models.Agent, channel, text string) {
	t.Helper()
	m := &models.Message{Channel: channel, Text: text, ExternalTS: "ts-" + text, IsBot: true, AgentID: &agent.ID}
	require.NoError(t, s.InsertMessage(context.Background(), m))
}

func TestBuildContext_DocumentsOnly(t *testing.T) {
	s := newTestStore(t)
	a := seedAgent(t, s, "Ada writes compilers.", "She likes chess.")

	got, err := New(s).BuildContext(context.Background(), a, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Ada writes compilers. She likes chess.", got)
}

func TestBuildContext_NoDocumentsNoHistory(t *testing.T) {
	s := newTestStore(t)
	a := seedAgent(t, s)

	got, err := New(s).BuildContext(context.Background(), a, "C1")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestBuildContext_WithHistory(t *testing.T) {
	s := newTestStore(t)
	a := seedAgent(t, s, "Doc one.", "Doc two.")
	addReply(t, s, a, "C1", "first")
	addReply(t, s, a, "C1", "second")
	addReply(t, s, a, "C2", "other channel")

	got, err := New(s).BuildContext(context.Background(), a, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Doc one. Doc two.\n\nBot: first\nBot: second", got)
}

func TestBuildContext_HistoryCappedAtTenMostRecent(t *testing.T) {
	s := newTestStore(t)
	a := seedAgent(t, s, "Doc.")
	for i := 0; i < 15; i++ {
		addReply(t, s, a, "C1", fmt.Sprintf("m%02d", i))
	}

	got, err := New(s).BuildContext(context.Background(), a, "C1")
	require.NoError(t, err)

	parts := strings.SplitN(got, "\n\n", 2)
	require.Len(t, parts, 2)
	lines := strings.Split(parts[1], "\n")
	require.Len(t, lines, HistoryLimit)
	assert.Equal(t, "Bot: m05", lines[0])
	assert.Equal(t, "Bot: m14", lines[9])
}

func TestDocumentContext(t *testing.T) {
	s := newTestStore(t)
	a := seedAgent(t, s, "one", "two", "three")

	got, err := New(s).DocumentContext(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "one two three", got)
}

func TestWriteHistory_RoleTags(t *testing.T) {
	uid, aid := uint(1), uint(2)
	var w strings.Builder
	writeHistory(&w, []models.Message{
		{Text: "newest", IsBot: true, AgentID: &aid},
		{Text: "oldest", UserID: &uid},
	})
	assert.Equal(t, "User: oldest\nBot: newest", w.String())
}

type failingStore struct{ docsErr, historyErr error }

func (f failingStore) Documents(ctx context.Context, id uint) ([]models.Document, error) {
	return nil, f.docsErr
}

func (f failingStore) RecentMessages(ctx context.Context, id uint, ch string, n int) ([]models.Message, error) {
	return nil, f.historyErr
}

func TestBuildContext_StoreErrors(t *testing.T) {
	cause := errors.New("db down")

	_, err := New(failingStore{docsErr: cause}).BuildContext(context.Background(), models.Agent{ID: 1}, "C1")
	assert.ErrorIs(t, err, cause)

	_, err = New(failingStore{historyErr: cause}).BuildContext(context.Background(), models.Agent{ID: 1}, "C1")
	assert.ErrorIs(t, err, cause)
}
