package chat

import (
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/saravenpi/unimatch/internal/models"
)

const (
	DeletedPlaceholder     = "This message was deleted"
	UnsupportedPlaceholder = "Unsupported message"

	replySnippetRunes = 60
)

// Mode is the interaction mode: exactly one of Normal, Replying or Selecting.
type Mode interface {
	modeName() string
}

type Normal struct{}

// Replying holds the reply target captured when the reply started.
type Replying struct {
	Target models.ReplyRef
}

// Selecting holds the selected message ids in selection order.
type Selecting struct {
	IDs []string
}

func (Normal) modeName() string    { return "normal" }
func (Replying) modeName() string  { return "replying" }
func (Selecting) modeName() string { return "selecting" }

func (s Selecting) Has(id string) bool {
	return slices.Contains(s.IDs, id)
}

// ViewState is the local, unpersisted interaction state of one conversation.
type ViewState struct {
	Mode           Mode
	Menu           string
	TypingDeadline *time.Time
}

func NewViewState() ViewState {
	return ViewState{Mode: Normal{}}
}

func (v ViewState) ModeName() string {
	if v.Mode == nil {
		return Normal{}.modeName()
	}
	return v.Mode.modeName()
}

func (v ViewState) clone() ViewState {
	out := v
	if sel, ok := v.Mode.(Selecting); ok {
		out.Mode = Selecting{IDs: slices.Clone(sel.IDs)}
	}
	if v.TypingDeadline != nil {
		d := *v.TypingDeadline
		out.TypingDeadline = &d
	}
	return out
}

// BeginReply enters Replying with a snapshot of m. Starting a reply while already replying
// retargets it.
func (v *ViewState) BeginReply(m models.Message) error {
	if _, ok := v.Mode.(Selecting); ok {
		return fmt.Errorf("reply: %w", ErrModeConflict)
	}
	if m.Deleted {
		return invalid("deleted messages cannot be replied to")
	}
	if m.Pending {
		return invalid("wait until the message is sent")
	}
	v.Mode = Replying{Target: models.ReplyRef{ID: m.ID, Text: ReplySnippet(m), SenderID: m.SenderID}}
	v.Menu = ""
	return nil
}

func (v *ViewState) CancelReply() error {
	if _, ok := v.Mode.(Replying); !ok {
		return fmt.Errorf("cancel reply: %w", ErrModeConflict)
	}
	v.Mode = Normal{}
	return nil
}

// BeginSelect enters Selecting seeded with id.
func (v *ViewState) BeginSelect(id string) error {
	if _, ok := v.Mode.(Replying); ok {
		return fmt.Errorf("select: %w", ErrModeConflict)
	}
	if sel, ok := v.Mode.(Selecting); ok {
		if !sel.Has(id) {
			v.Mode = Selecting{IDs: append(slices.Clone(sel.IDs), id)}
		}
		return nil
	}
	v.Mode = Selecting{IDs: []string{id}}
	v.Menu = ""
	return nil
}

// ToggleSelect adds id to the selection or removes it. An emptied selection stays in
// Selecting until cancelled.
func (v *ViewState) ToggleSelect(id string) error {
	sel, ok := v.Mode.(Selecting)
	if !ok {
		return fmt.Errorf("toggle selection: %w", ErrModeConflict)
	}
	if i := slices.Index(sel.IDs, id); i >= 0 {
		v.Mode = Selecting{IDs: slices.Delete(slices.Clone(sel.IDs), i, i+1)}
	} else {
		v.Mode = Selecting{IDs: append(slices.Clone(sel.IDs), id)}
	}
	return nil
}

func (v *ViewState) CancelSelect() error {
	if _, ok := v.Mode.(Selecting); !ok {
		return fmt.Errorf("cancel selection: %w", ErrModeConflict)
	}
	v.Mode = Normal{}
	return nil
}

// OpenMenu opens the contextual menu of one message, closing any other.
func (v *ViewState) OpenMenu(id string) error {
	if _, ok := v.Mode.(Selecting); ok {
		return fmt.Errorf("open menu: %w", ErrModeConflict)
	}
	v.Menu = id
	return nil
}

func (v *ViewState) CloseMenu() {
	v.Menu = ""
}

// Escape backs out of the innermost thing open: the menu, then the mode. It reports whether
// anything was open.
func (v *ViewState) Escape() bool {
	if v.Menu != "" {
		v.Menu = ""
		return true
	}
	switch v.Mode.(type) {
	case Replying, Selecting:
		v.Mode = Normal{}
		return true
	}
	return false
}

// ReplySnippet is the text stored in a reply's snapshot of its target.
func ReplySnippet(m models.Message) string {
	if m.Deleted {
		return DeletedPlaceholder
	}
	switch p := m.Payload.(type) {
	case models.TextPayload:
		return truncate(p.Text, replySnippetRunes)
	case models.ImagePayload:
		return "📷 Photo"
	case models.VoicePayload:
		return "🎤 Voice message"
	}
	return "Message"
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
