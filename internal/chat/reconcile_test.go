package chat

import (
	"testing"
	"time"

	"github.com/saravenpi/unimatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time { return &t }

func reconcile(snapshot []models.Message, pending ...models.Message) Render {
	return Reconcile(ReconcileInput{
		Snapshot:  snapshot,
		Pending:   pending,
		ActorID:   "alice",
		OtherName: "Bob",
		Location:  time.UTC,
		Now:       now,
	})
}

func itemKeys(items []Item) []string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.itemKey()
	}
	return keys
}

func TestReconcileOrdersByCreatedAtWithUntimestampedLast(t *testing.T) {
	a := textMsg("a", "bob", "a")
	a.CreatedAt = at(now.Add(-time.Minute))
	b := textMsg("b", "alice", "b")
	c := textMsg("c", "bob", "c")
	c.CreatedAt = at(now.Add(-2 * time.Minute))
	p := textMsg("local-1", "alice", "p")
	p.Pending = true

	r := reconcile([]models.Message{a, b, c}, p)

	assert.Equal(t, []string{"date:2026-03-14", "msg:c", "msg:a", "msg:b", "msg:local-1"}, itemKeys(r.Items))
	assert.Equal(t, "a", a.ID, "input must not be reordered")
}

func TestReconcileDateMarkers(t *testing.T) {
	older := textMsg("o", "bob", "o")
	older.CreatedAt = at(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	yesterday := textMsg("y", "bob", "y")
	yesterday.CreatedAt = at(time.Date(2026, 3, 13, 23, 59, 0, 0, time.UTC))
	today := textMsg("t", "bob", "t")
	today.CreatedAt = at(time.Date(2026, 3, 14, 0, 1, 0, 0, time.UTC))
	today2 := textMsg("t2", "alice", "t2")
	today2.CreatedAt = at(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))

	r := reconcile([]models.Message{older, yesterday, today, today2})

	var labels []string
	for _, it := range r.Items {
		if d, ok := it.(DateMarker); ok {
			labels = append(labels, d.Label)
		}
	}
	assert.Equal(t, []string{"Tue, Mar 10 2026", "Yesterday", "Today"}, labels)
	assert.Len(t, r.Items, 7)
}

func TestReconcileMarkRead(t *testing.T) {
	unread := textMsg("u", "bob", "u")
	read := textMsg("r", "bob", "r")
	read.Read = true
	mine := textMsg("m", "alice", "m")
	gone := textMsg("g", "bob", "g")
	gone.Deleted = true

	r := reconcile([]models.Message{unread, read, mine, gone})
	assert.Equal(t, []string{"u"}, r.MarkRead)
}

func TestReconcileRedactsDeleted(t *testing.T) {
	m := textMsg("d", "bob", "secret")
	m.Deleted = true
	m.ReplyTo = &models.ReplyRef{ID: "x", Text: "quoted", SenderID: "alice"}
	m.Reactions = map[string]string{"alice": "👍"}

	r := reconcile([]models.Message{m})
	require.Len(t, r.Items, 2)
	row := r.Items[1].(Row)
	assert.Equal(t, RowDeleted, row.Kind)
	assert.Equal(t, DeletedPlaceholder, row.Text)
	assert.Nil(t, row.Reply)
	assert.Empty(t, row.Reactions)
}

func TestReconcileMalformedPayload(t *testing.T) {
	r := reconcile([]models.Message{{ID: "bad", SenderID: "bob"}})
	require.Len(t, r.Items, 2)
	row := r.Items[1].(Row)
	assert.Equal(t, RowUnsupported, row.Kind)
	assert.Equal(t, UnsupportedPlaceholder, row.Text)
}

func TestReconcileRows(t *testing.T) {
	m := textMsg("x", "bob", "hey")
	m.ReplyTo = &models.ReplyRef{ID: "y", Text: "earlier", SenderID: "alice"}
	img := models.Message{ID: "i", SenderID: "alice", Payload: models.ImagePayload{URL: "https://cdn/i.png"}, Read: true}

	r := reconcile([]models.Message{m, img})
	rows := r.Items[1:]

	first := rows[0].(Row)
	assert.Equal(t, "Bob", first.SenderName)
	assert.False(t, first.Mine)
	assert.Equal(t, &ReplyPreview{ID: "y", Text: "earlier", SenderName: "You"}, first.Reply)

	second := rows[1].(Row)
	assert.True(t, second.Mine)
	assert.True(t, second.Read)
	assert.Equal(t, RowImage, second.Kind)
	assert.Equal(t, "https://cdn/i.png", second.URL)
}

func TestGroupReactions(t *testing.T) {
	groups := GroupReactions(map[string]string{
		"alice": "❤️",
		"bob":   "😂",
		"carol": "❤️",
		"dave":  "👍",
	}, "alice")

	assert.Equal(t, []ReactionGroup{
		{Emoji: "❤️", Count: 2, Mine: true},
		{Emoji: "👍", Count: 1},
		{Emoji: "😂", Count: 1},
	}, groups)
	assert.Nil(t, GroupReactions(nil, "alice"))
}

func TestDayLabelUsesLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("tzdata not available")
	}
	late := time.Date(2026, 3, 13, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "Yesterday", DayLabel(late, now, time.UTC))
	assert.Equal(t, "Today", DayLabel(late, now, paris))
}
