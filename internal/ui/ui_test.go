package ui

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/saravenpi/unimatch/internal/auth"
	"github.com/saravenpi/unimatch/internal/chat"
	"github.com/saravenpi/unimatch/internal/models"
	"github.com/saravenpi/unimatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = models.Actor{ID: "alice", Verified: true}

func testEnv(t *testing.T) (*Env, *store.SQLite) {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ui.db"))
	require.NoError(t, err)
	db.SetPollInterval(10 * time.Millisecond)
	t.Cleanup(func() { db.Close() })

	return &Env{
		Store:   db,
		Guard:   auth.NewGuard(auth.Static{Actor: &alice}, zerolog.Nop()),
		Names:   store.NewNameCache(db),
		Log:     zerolog.Nop(),
		Options: chat.Options{OfflineTimeout: time.Second},
	}, db
}

func key(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "unknown"},
		{now.Add(-30 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-30 * time.Hour), "yesterday"},
		{now.Add(-72 * time.Hour), "3d ago"},
		{now.Add(-30 * 24 * time.Hour), "Feb 12"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTimeAgo(tt.at, now))
	}
}

func TestSplitPaths(t *testing.T) {
	assert.Equal(t, []string{"a.png", "b c.jpg"}, splitPaths(" a.png, ,b c.jpg "))
	assert.Empty(t, splitPaths("  "))
}

func TestRenderRow(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 5, 0, 0, time.Local)
	out := renderRow(chat.Row{
		ID:         "x",
		SenderName: "You",
		Mine:       true,
		Kind:       chat.RowText,
		Text:       "see you at the library",
		CreatedAt:  &at,
		Read:       true,
		Reply:      &chat.ReplyPreview{Text: "study date?", SenderName: "Bob"},
		Reactions:  []chat.ReactionGroup{{Emoji: "❤️", Count: 2, Mine: true}},
	}, rowRender{width: 80, cursor: true, menu: true})

	assert.Contains(t, out, "✓✓")
	assert.Contains(t, out, "9:05 AM")
	assert.Contains(t, out, "Bob: study date?")
	assert.Contains(t, out, "[❤️ 2]")
	assert.Contains(t, out, "r: reply")

	deleted := renderRow(chat.Row{ID: "d", SenderName: "Bob", Kind: chat.RowDeleted, Text: chat.DeletedPlaceholder}, rowRender{width: 80})
	assert.Contains(t, deleted, chat.DeletedPlaceholder)
}

func TestPresenceLine(t *testing.T) {
	now := time.Now()
	seen := now.Add(-10 * time.Minute)
	assert.Contains(t, presenceLine(models.Profile{Typing: true, Online: true}, now), "typing")
	assert.Contains(t, presenceLine(models.Profile{Online: true}, now), "Online")
	assert.Contains(t, presenceLine(models.Profile{LastSeen: &seen}, now), "last seen 10m ago")
}

func TestConversationReplyFlow(t *testing.T) {
	env, db := testEnv(t)
	ctx := context.Background()
	conv, err := db.CreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, db.UpsertProfile(ctx, "bob", "Bob"))
	_, err = db.AddMessage(ctx, conv.ID, models.NewMessage{SenderID: "bob", Payload: models.TextPayload{Text: "coffee later?"}})
	require.NoError(t, err)

	m := NewConversationModel(env, alice, conv.ID, "Bob")
	model, _ := m.Update(m.enterCmd()())
	m = model.(ConversationModel)
	require.NotNil(t, m.session)
	t.Cleanup(m.session.Dispose)

	require.Eventually(t, func() bool { return m.session.View().Loaded }, time.Second, 10*time.Millisecond)
	m.refresh(nil)
	assert.Contains(t, m.View(), "coffee later?")
	assert.Contains(t, m.View(), "💬 Bob")

	model, _ = m.Update(key("r"))
	m = model.(ConversationModel)
	assert.True(t, m.composing)
	assert.Contains(t, m.View(), "Replying to Bob: coffee later?")

	model, _ = m.Update(key("esc"))
	m = model.(ConversationModel)
	assert.False(t, m.composing)
	assert.Equal(t, "replying", m.view.State.ModeName())

	model, _ = m.Update(key("esc"))
	m = model.(ConversationModel)
	assert.Equal(t, "normal", m.view.State.ModeName())
}

func TestConversationAccessDenied(t *testing.T) {
	env, _ := testEnv(t)

	m := NewConversationModel(env, alice, "alice_nobody", "Nobody")
	model, _ := m.Update(m.enterCmd()())
	m = model.(ConversationModel)

	assert.Nil(t, m.session)
	assert.Contains(t, m.View(), "You don't have access to this conversation.")

	model, _ = m.Update(key("esc"))
	_, ok := model.(MatchesModel)
	assert.True(t, ok)
}

func TestAttachReportsMissingFile(t *testing.T) {
	env, _ := testEnv(t)
	m := NewAttachModel(NewConversationModel(env, alice, "alice_bob", "Bob"))
	m.imagesInput.SetValue(filepath.Join(t.TempDir(), "missing.png"))

	model, cmd := m.Update(key("enter"))
	m = model.(AttachModel)
	assert.Nil(t, cmd)
	require.Error(t, m.err)
	assert.Contains(t, m.View(), "missing.png")
	assert.False(t, m.parent.sending)
}

func TestConversationForgetsRenamedProfile(t *testing.T) {
	env, db := testEnv(t)
	ctx := context.Background()
	conv, err := db.CreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, db.UpsertProfile(ctx, "bob", "Bob"))
	require.Equal(t, "Bob", env.Names.Name(ctx, "bob"))

	require.NoError(t, db.UpsertProfile(ctx, "bob", "Robert"))
	assert.Equal(t, "Bob", env.Names.Name(ctx, "bob"))

	m := NewConversationModel(env, alice, conv.ID, "Bob")
	model, _ := m.Update(m.enterCmd()())
	m = model.(ConversationModel)
	require.NotNil(t, m.session)
	t.Cleanup(m.session.Dispose)

	require.Eventually(t, func() bool { return m.session.View().Other.Name == "Robert" }, time.Second, 10*time.Millisecond)
	m.refresh(nil)
	assert.Equal(t, "Robert", m.displayName())
	assert.Equal(t, "Robert", env.Names.Name(ctx, "bob"))
}
