// Package auth resolves the signed-in actor once per process and gates the chat screens on it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/saravenpi/unimatch/internal/models"
)

var (
	ErrSignedOut  = errors.New("not signed in")
	ErrUnverified = errors.New("email not verified")
)

// Provider reports the current actor, or nil when nobody is signed in.
type Provider interface {
	CurrentActor(ctx context.Context) (*models.Actor, error)
}

// Static is a Provider backed by configuration.
type Static struct {
	Actor *models.Actor
}

func (s Static) CurrentActor(context.Context) (*models.Actor, error) {
	if s.Actor == nil || s.Actor.ID == "" {
		return nil, nil
	}
	a := *s.Actor
	return &a, nil
}

type presenceWriter interface {
	UpdatePresence(ctx context.Context, userID string, u models.PresenceUpdate) error
}

// Guard asks the provider once and answers every later Require from that first answer, so a
// provider that flickers during token refresh cannot sign the user out mid-session.
type Guard struct {
	provider Provider
	log      zerolog.Logger

	once  sync.Once
	actor *models.Actor
	err   error

	mu        sync.Mutex
	signedOut bool
}

func NewGuard(provider Provider, log zerolog.Logger) *Guard {
	return &Guard{provider: provider, log: log}
}

// Require returns the verified actor, ErrSignedOut or ErrUnverified.
func (g *Guard) Require(ctx context.Context) (models.Actor, error) {
	g.once.Do(func() {
		g.actor, g.err = g.provider.CurrentActor(ctx)
		if g.err != nil {
			g.err = fmt.Errorf("failed to resolve actor: %w", g.err)
		}
	})

	g.mu.Lock()
	signedOut := g.signedOut
	g.mu.Unlock()

	switch {
	case g.err != nil:
		return models.Actor{}, g.err
	case signedOut || g.actor == nil:
		return models.Actor{}, ErrSignedOut
	case !g.actor.Verified:
		return models.Actor{}, ErrUnverified
	}
	return *g.actor, nil
}

// SignOut marks the actor offline and makes every later Require fail. The presence write is
// best effort.
func (g *Guard) SignOut(ctx context.Context, presence presenceWriter) error {
	actor, err := g.Require(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.signedOut = true
	g.mu.Unlock()

	err = presence.UpdatePresence(ctx, actor.ID, models.PresenceUpdate{
		Online:        models.Bool(false),
		Typing:        models.Bool(false),
		TouchLastSeen: true,
	})
	if err != nil {
		g.log.Warn().Err(err).Str("actor", actor.ID).Msg("failed to mark offline on sign out")
	}
	g.log.Info().Str("actor", actor.ID).Msg("signed out")
	return nil
}
