package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/saravenpi/unimatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "unimatch.db"))
	require.NoError(t, err)
	s.SetPollInterval(20 * time.Millisecond)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateConversationIsIdempotent(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", first.ID)
	assert.Equal(t, [2]string{"alice", "bob"}, first.Participants)

	second, err := s.CreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.CreateConversation(ctx, "alice", "alice")
	assert.Error(t, err)
}

func TestGetConversationNotFound(t *testing.T) {
	s := openTestDB(t)
	_, err := s.GetConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddAndListMessages(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	reply := &models.ReplyRef{ID: "m0", Text: "earlier", SenderID: "bob"}
	id, err := s.AddMessage(ctx, "alice_bob", models.NewMessage{
		SenderID: "alice",
		Payload:  models.TextPayload{Text: "hello"},
		ReplyTo:  reply,
	})
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "alice_bob", models.NewMessage{SenderID: "bob", Payload: models.ImagePayload{URL: "blob:1"}})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, "alice_bob")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, models.TextPayload{Text: "hello"}, msgs[0].Payload)
	assert.Equal(t, reply, msgs[0].ReplyTo)
	assert.NotNil(t, msgs[0].CreatedAt)
	assert.False(t, msgs[0].Read)
	assert.Equal(t, models.ImagePayload{URL: "blob:1"}, msgs[1].Payload)
}

func TestAddMessageKeepsClientID(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	id, err := s.AddMessage(ctx, "c", models.NewMessage{ID: "client-1", SenderID: "alice", Payload: models.TextPayload{Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "client-1", id)

	_, err = s.AddMessage(ctx, "c", models.NewMessage{ID: "client-1", SenderID: "alice", Payload: models.TextPayload{Text: "again"}})
	assert.Error(t, err)

	msgs, err := s.ListMessages(ctx, "c")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "client-1", msgs[0].ID)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	id, err := s.AddMessage(ctx, "c", models.NewMessage{SenderID: "bob", Payload: models.TextPayload{Text: "hi"}})
	require.NoError(t, err)

	require.NoError(t, s.MarkRead(ctx, "c", id))
	var rev int64
	require.NoError(t, s.db.QueryRow(`SELECT rev FROM messages WHERE id = ?`, id).Scan(&rev))

	require.NoError(t, s.MarkRead(ctx, "c", id))
	var revAfter int64
	require.NoError(t, s.db.QueryRow(`SELECT rev FROM messages WHERE id = ?`, id).Scan(&revAfter))
	assert.Equal(t, rev, revAfter)

	msgs, err := s.ListMessages(ctx, "c")
	require.NoError(t, err)
	assert.True(t, msgs[0].Read)

	assert.ErrorIs(t, s.MarkRead(ctx, "c", "missing"), ErrNotFound)
}

func TestSoftDeleteRequiresSender(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	id, err := s.AddMessage(ctx, "c", models.NewMessage{SenderID: "alice", Payload: models.TextPayload{Text: "oops"}})
	require.NoError(t, err)

	assert.ErrorIs(t, s.SoftDelete(ctx, "c", id, "bob"), ErrPermissionDenied)
	require.NoError(t, s.SoftDelete(ctx, "c", id, "alice"))

	msgs, err := s.ListMessages(ctx, "c")
	require.NoError(t, err)
	assert.True(t, msgs[0].Deleted)
	require.NotNil(t, msgs[0].DeletedAt)
	first := *msgs[0].DeletedAt

	s.now = func() time.Time { return first.Add(time.Hour) }
	require.NoError(t, s.SoftDelete(ctx, "c", id, "alice"))
	msgs, err = s.ListMessages(ctx, "c")
	require.NoError(t, err)
	assert.True(t, first.Equal(*msgs[0].DeletedAt))
}

func TestUpdateReactions(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	id, err := s.AddMessage(ctx, "c", models.NewMessage{SenderID: "bob", Payload: models.TextPayload{Text: "hi"}})
	require.NoError(t, err)

	toggle := func(cur map[string]string) map[string]string {
		return models.ToggleReaction(cur, "alice", "❤️")
	}
	require.NoError(t, s.UpdateReactions(ctx, "c", id, toggle))
	msgs, err := s.ListMessages(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "❤️"}, msgs[0].Reactions)

	require.NoError(t, s.UpdateReactions(ctx, "c", id, toggle))
	msgs, err = s.ListMessages(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, msgs[0].Reactions)
}

func TestPresenceAndBlockList(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProfile(ctx, "alice", "Alice"))
	require.NoError(t, s.UpdatePresence(ctx, "alice", models.PresenceUpdate{Online: models.Bool(true), Typing: models.Bool(true)}))

	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.True(t, p.Typing)
	assert.Nil(t, p.LastSeen)

	require.NoError(t, s.UpdatePresence(ctx, "alice", models.PresenceUpdate{Online: models.Bool(false), TouchLastSeen: true}))
	p, err = s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, p.Online)
	assert.True(t, p.Typing)
	assert.NotNil(t, p.LastSeen)

	require.NoError(t, s.AppendBlocked(ctx, "alice", "bob"))
	require.NoError(t, s.AppendBlocked(ctx, "alice", "bob"))
	p, err = s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, p.Blocked)
	assert.Equal(t, "Alice", p.Name)
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, c.ID, models.NewMessage{SenderID: "alice", Payload: models.TextPayload{Text: "hi"}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, c.ID))
	_, err = s.GetConversation(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.DeleteConversation(ctx, c.ID), ErrNotFound)
}

func TestWatchMessagesDeliversSnapshots(t *testing.T) {
	s := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var snapshots [][]models.Message
	done := make(chan error, 1)
	go func() {
		done <- s.WatchMessages(ctx, "c", func(msgs []models.Message) {
			mu.Lock()
			snapshots = append(snapshots, msgs)
			mu.Unlock()
		})
	}()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots)
	}
	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	_, err := s.AddMessage(context.Background(), "c", models.NewMessage{SenderID: "bob", Payload: models.TextPayload{Text: "hi"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Empty(t, snapshots[0])
	assert.Len(t, snapshots[1], 1)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNameCache(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProfile(ctx, "bob", "Bob"))

	names := NewNameCache(s)
	assert.Equal(t, "Bob", names.Name(ctx, "bob"))
	assert.Equal(t, "ghost", names.Name(ctx, "ghost"))

	require.NoError(t, s.UpsertProfile(ctx, "bob", "Robert"))
	assert.Equal(t, "Bob", names.Name(ctx, "bob"))
	names.Forget("bob")
	assert.Equal(t, "Robert", names.Name(ctx, "bob"))
}
