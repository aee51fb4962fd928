package chat

import (
	"sort"
	"time"

	"github.com/saravenpi/unimatch/internal/models"
)

// Item is one line of the rendered timeline: a DateMarker or a Row.
type Item interface {
	itemKey() string
}

type DateMarker struct {
	Label string
	Day   time.Time
}

type RowKind int

const (
	RowText RowKind = iota
	RowImage
	RowVoice
	RowDeleted
	RowUnsupported
)

type ReplyPreview struct {
	ID         string
	Text       string
	SenderName string
}

type ReactionGroup struct {
	Emoji string
	Count int
	Mine  bool
}

type Row struct {
	ID         string
	SenderID   string
	SenderName string
	Mine       bool
	Kind       RowKind
	// Text is the message body, or the placeholder for deleted and unsupported rows.
	Text      string
	URL       string
	CreatedAt *time.Time
	Pending   bool
	Read      bool
	Reply     *ReplyPreview
	Reactions []ReactionGroup
}

func (d DateMarker) itemKey() string { return "date:" + d.Day.Format("2006-01-02") }
func (r Row) itemKey() string        { return "msg:" + r.ID }

type ReconcileInput struct {
	Snapshot  []models.Message
	Pending   []models.Message
	ActorID   string
	OtherName string
	Location  *time.Location
	Now       time.Time
}

type Render struct {
	Items []Item
	// MarkRead lists unread messages from the other participant seen in this pass.
	MarkRead []string
}

// Reconcile turns a whole snapshot plus local pending messages into the timeline. It never
// mutates its input.
func Reconcile(in ReconcileInput) Render {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}

	messages := make([]models.Message, 0, len(in.Snapshot)+len(in.Pending))
	messages = append(messages, in.Snapshot...)
	messages = append(messages, in.Pending...)
	sortMessages(messages)

	var out Render
	out.Items = make([]Item, 0, len(messages)+4)

	var lastDay time.Time
	for i, m := range messages {
		at := in.Now
		if m.CreatedAt != nil {
			at = *m.CreatedAt
		}
		day := startOfDay(at, loc)
		if i == 0 || !day.Equal(lastDay) {
			out.Items = append(out.Items, DateMarker{Label: DayLabel(day, in.Now, loc), Day: day})
			lastDay = day
		}

		out.Items = append(out.Items, buildRow(m, in))

		if !m.Pending && !m.Deleted && !m.Read && m.SenderID != in.ActorID {
			out.MarkRead = append(out.MarkRead, m.ID)
		}
	}
	return out
}

// sortMessages orders by CreatedAt, untimestamped last, keeping input order for ties.
func sortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i].CreatedAt, messages[j].CreatedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
}

func buildRow(m models.Message, in ReconcileInput) Row {
	row := Row{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Mine:      m.SenderID == in.ActorID,
		CreatedAt: m.CreatedAt,
		Pending:   m.Pending,
		Read:      m.Read,
	}
	row.SenderName = senderName(m.SenderID, in)

	if m.Deleted {
		row.Kind = RowDeleted
		row.Text = DeletedPlaceholder
		return row
	}

	switch p := m.Payload.(type) {
	case models.TextPayload:
		row.Kind = RowText
		row.Text = p.Text
	case models.ImagePayload:
		row.Kind = RowImage
		row.URL = p.URL
	case models.VoicePayload:
		row.Kind = RowVoice
		row.URL = p.URL
	default:
		row.Kind = RowUnsupported
		row.Text = UnsupportedPlaceholder
	}

	if m.ReplyTo != nil {
		row.Reply = &ReplyPreview{
			ID:         m.ReplyTo.ID,
			Text:       m.ReplyTo.Text,
			SenderName: senderName(m.ReplyTo.SenderID, in),
		}
	}
	row.Reactions = GroupReactions(m.Reactions, in.ActorID)
	return row
}

func senderName(id string, in ReconcileInput) string {
	if id == in.ActorID {
		return "You"
	}
	if in.OtherName != "" {
		return in.OtherName
	}
	return id
}

// GroupReactions counts reactions per emoji, most used first.
func GroupReactions(reactions map[string]string, actorID string) []ReactionGroup {
	if len(reactions) == 0 {
		return nil
	}
	index := make(map[string]int)
	var groups []ReactionGroup
	for user, emoji := range reactions {
		if emoji == "" {
			continue
		}
		i, ok := index[emoji]
		if !ok {
			i = len(groups)
			index[emoji] = i
			groups = append(groups, ReactionGroup{Emoji: emoji})
		}
		groups[i].Count++
		if user == actorID {
			groups[i].Mine = true
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Emoji < groups[j].Emoji
	})
	return groups
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayLabel names a calendar day relative to now.
func DayLabel(day, now time.Time, loc *time.Location) string {
	day = startOfDay(day, loc)
	today := startOfDay(now, loc)
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	}
	return day.Format("Mon, Jan 2 2006")
}
