package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/saravenpi/unimatch/internal/auth"
	"github.com/saravenpi/unimatch/internal/chat"
	"github.com/saravenpi/unimatch/internal/models"
	"github.com/saravenpi/unimatch/internal/store"
)

// Store is what the screens need from the document store.
type Store interface {
	chat.Store
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

// Env carries the services shared by every screen.
type Env struct {
	Store   Store
	Blobs   chat.BlobStore
	Guard   *auth.Guard
	Names   *store.NameCache
	Log     zerolog.Logger
	Options chat.Options
}

func (e *Env) chatDeps() chat.Deps {
	return chat.Deps{
		Store:   e.Store,
		Blobs:   e.Blobs,
		Log:     e.Log,
		Options: e.Options,
	}
}

// resize replays the last window size into a freshly built screen.
func resize(model tea.Model, width, height int) (tea.Model, tea.Cmd) {
	if width <= 0 {
		return model, nil
	}
	return model.Update(tea.WindowSizeMsg{Width: width, Height: height})
}
