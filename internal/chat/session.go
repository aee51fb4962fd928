// Package chat is the conversation core: it bootstraps a session, reconciles the live message
// stream into a timeline, tracks the local interaction mode and dispatches user actions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/saravenpi/unimatch/internal/metrics"
	"github.com/saravenpi/unimatch/internal/models"
	"github.com/saravenpi/unimatch/internal/store"
)

// Store is the document store a session reads and writes.
type Store interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	WatchProfile(ctx context.Context, userID string, fn func(models.Profile)) error
	UpdatePresence(ctx context.Context, userID string, u models.PresenceUpdate) error
	AppendBlocked(ctx context.Context, userID, blockedID string) error
	WatchMessages(ctx context.Context, conversationID string, fn func([]models.Message)) error
	AddMessage(ctx context.Context, conversationID string, m models.NewMessage) (string, error)
	MarkRead(ctx context.Context, conversationID, messageID string) error
	SoftDelete(ctx context.Context, conversationID, messageID, actorID string) error
	UpdateReactions(ctx context.Context, conversationID, messageID string, fn func(map[string]string) map[string]string) error
}

// BlobStore holds uploaded media.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

type Options struct {
	MaxImageBytes     int64
	MaxVoiceBytes     int64
	TypingIdle        time.Duration
	OfflineTimeout    time.Duration
	UploadConcurrency int
	Location          *time.Location
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = 25 << 20
	}
	if o.MaxVoiceBytes <= 0 {
		o.MaxVoiceBytes = 10 << 20
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 800 * time.Millisecond
	}
	if o.OfflineTimeout <= 0 {
		o.OfflineTimeout = 2 * time.Second
	}
	if o.UploadConcurrency <= 0 {
		o.UploadConcurrency = 4
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Deps struct {
	Store   Store
	Blobs   BlobStore
	Log     zerolog.Logger
	Options Options
}

// View is an immutable picture of the session handed to listeners.
type View struct {
	Version        uint64
	ConversationID string
	ActorID        string
	Other          models.Profile
	State          ViewState
	Items          []Item
	// Loaded turns true with the first message snapshot.
	Loaded bool
	// WatchErr is the last subscription failure, if any.
	WatchErr error
}

type pendingMessage struct {
	msg   models.Message
	ackID string
}

type Session struct {
	store        Store
	blobs        BlobStore
	log          zerolog.Logger
	opts         Options
	actor        models.Actor
	conversation models.Conversation
	otherID      string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	typist *typist

	mu        sync.Mutex
	disposed  bool
	state     ViewState
	snapshot  []models.Message
	byID      map[string]models.Message
	pending   []pendingMessage
	other     models.Profile
	items     []Item
	loaded    bool
	watchErr  error
	version   uint64
	listeners map[int]func(View)
	nextID    int
	updates   chan View
}

// Enter validates that actor belongs to the conversation, marks the actor online and starts
// the message and presence subscriptions. ErrAccessDenied means the caller must leave.
func Enter(ctx context.Context, deps Deps, actor models.Actor, conversationID string) (*Session, error) {
	if actor.ID == "" || !actor.Verified {
		return nil, fmt.Errorf("enter %s: %w", conversationID, ErrAccessDenied)
	}

	conv, err := deps.Store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrPermissionDenied) {
		return nil, fmt.Errorf("enter %s: %w: %w", conversationID, ErrAccessDenied, err)
	}
	if err != nil {
		return nil, classify("load conversation", err)
	}
	if !conv.Has(actor.ID) {
		return nil, fmt.Errorf("enter %s: %w", conversationID, ErrAccessDenied)
	}
	otherID, _ := conv.Other(actor.ID)

	log := deps.Log.With().Str("conversation", conv.ID).Str("actor", actor.ID).Logger()

	if err := deps.Store.UpdatePresence(ctx, actor.ID, models.PresenceUpdate{Online: models.Bool(true)}); err != nil {
		log.Warn().Err(err).Msg("failed to mark online")
	}

	other, err := deps.Store.GetProfile(ctx, otherID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		other = models.Profile{ID: otherID}
	case err != nil:
		return nil, classify("load profile", err)
	}

	opts := deps.Options.withDefaults()
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:        deps.Store,
		blobs:        deps.Blobs,
		log:          log,
		opts:         opts,
		actor:        actor,
		conversation: conv,
		otherID:      otherID,
		ctx:          sctx,
		cancel:       cancel,
		state:        NewViewState(),
		byID:         make(map[string]models.Message),
		other:        other,
		listeners:    make(map[int]func(View)),
		updates:      make(chan View, 1),
	}
	s.typist = newTypist(opts.TypingIdle, opts.Now, s.writeTyping, func(d *time.Time) {
		s.dispatch(typingDeadlineEvent{deadline: d})
	})

	s.watch("messages", func(ctx context.Context) error {
		return s.store.WatchMessages(ctx, conv.ID, func(msgs []models.Message) {
			s.dispatch(snapshotEvent{messages: msgs})
		})
	})
	s.watch("profile", func(ctx context.Context) error {
		return s.store.WatchProfile(ctx, otherID, func(p models.Profile) {
			s.dispatch(presenceEvent{profile: p})
		})
	})

	log.Info().Msg("conversation opened")
	return s, nil
}

func (s *Session) watch(name string, run func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(s.ctx); err != nil {
			s.log.Error().Err(err).Str("subscription", name).Msg("subscription ended")
			s.dispatch(watchErrorEvent{err: classify("watch "+name, err)})
		}
	}()
}

func (s *Session) OtherID() string { return s.otherID }

// Dispose stops the subscriptions and the typing timer, then marks the actor offline on a
// best-effort basis. Failures are only logged. Safe to call more than once.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	close(s.updates)
	s.listeners = nil
	s.mu.Unlock()

	s.cancel()
	s.typist.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OfflineTimeout)
	defer cancel()
	err := s.store.UpdatePresence(ctx, s.actor.ID, models.PresenceUpdate{
		Online:        models.Bool(false),
		Typing:        models.Bool(false),
		TouchLastSeen: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to mark offline")
	}

	s.wg.Wait()
	s.log.Info().Msg("conversation closed")
}

// OnViewStateChanged registers fn to receive every new View. fn runs on the goroutine that
// caused the change and must not block.
func (s *Session) OnViewStateChanged(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Updates delivers the latest View; intermediate views are dropped when the reader lags.
// The channel is closed by Dispose.
func (s *Session) Updates() <-chan View {
	return s.updates
}

// View returns the current picture without waiting for a change.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	return View{
		Version:        s.version,
		ConversationID: s.conversation.ID,
		ActorID:        s.actor.ID,
		Other:          s.other,
		State:          s.state.clone(),
		Items:          s.items,
		Loaded:         s.loaded,
		WatchErr:       s.watchErr,
	}
}

type event interface{}

type snapshotEvent struct {
	messages []models.Message
}

type presenceEvent struct {
	profile models.Profile
}

type modeEvent struct {
	apply func(*ViewState) error
}

type sendStartedEvent struct {
	pending models.Message
}

type sendFinishedEvent struct {
	localID string
	id      string
	reply   *models.ReplyRef
	err     error
}

type typingDeadlineEvent struct {
	deadline *time.Time
}

type watchErrorEvent struct {
	err error
}

// dispatch runs one event through reduce and publishes the resulting View.
func (s *Session) dispatch(ev event) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrClosed
	}
	markRead, err := s.reduce(ev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.version++
	v := s.viewLocked()
	listeners := make([]func(View), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.offerLocked(v)
	s.mu.Unlock()

	if len(markRead) > 0 {
		s.markRead(markRead)
	}
	for _, fn := range listeners {
		fn(v)
	}
	return nil
}

func (s *Session) offerLocked(v View) {
	select {
	case s.updates <- v:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- v:
	default:
	}
}

// echoed reports whether the snapshot already carries the pending message, either under the
// id the client chose or under the id the store acknowledged.
func (s *Session) echoed(p pendingMessage) bool {
	if _, ok := s.byID[p.msg.ID]; ok {
		return true
	}
	_, ok := s.byID[p.ackID]
	return p.ackID != "" && ok
}

// reduce is the single place session state changes. Snapshots never touch the mode.
func (s *Session) reduce(ev event) ([]string, error) {
	switch ev := ev.(type) {
	case snapshotEvent:
		s.snapshot = ev.messages
		s.byID = make(map[string]models.Message, len(ev.messages))
		for _, m := range ev.messages {
			s.byID[m.ID] = m
		}
		kept := s.pending[:0:0]
		for _, p := range s.pending {
			if s.echoed(p) {
				continue
			}
			kept = append(kept, p)
		}
		s.pending = kept
		s.loaded = true
		s.watchErr = nil
		metrics.IncSnapshot()
		return s.rerender(), nil

	case presenceEvent:
		s.other = ev.profile
		s.rerender()
		return nil, nil

	case modeEvent:
		next := s.state.clone()
		if err := ev.apply(&next); err != nil {
			return nil, err
		}
		s.state = next
		return nil, nil

	case sendStartedEvent:
		s.pending = append(s.pending, pendingMessage{msg: ev.pending})
		s.rerender()
		return nil, nil

	case sendFinishedEvent:
		kept := s.pending[:0:0]
		for _, p := range s.pending {
			if p.msg.ID != ev.localID {
				kept = append(kept, p)
				continue
			}
			if ev.err != nil {
				continue
			}
			if _, echoed := s.byID[ev.id]; echoed {
				continue
			}
			p.ackID = ev.id
			kept = append(kept, p)
		}
		s.pending = kept
		if ev.err == nil && ev.reply != nil {
			if r, ok := s.state.Mode.(Replying); ok && r.Target.ID == ev.reply.ID {
				s.state.Mode = Normal{}
			}
		}
		s.rerender()
		return nil, nil

	case typingDeadlineEvent:
		s.state.TypingDeadline = ev.deadline
		return nil, nil

	case watchErrorEvent:
		s.watchErr = ev.err
		return nil, nil
	}
	return nil, fmt.Errorf("unknown event %T", ev)
}

func (s *Session) rerender() []string {
	pending := make([]models.Message, 0, len(s.pending))
	for _, p := range s.pending {
		pending = append(pending, p.msg)
	}
	r := Reconcile(ReconcileInput{
		Snapshot:  s.snapshot,
		Pending:   pending,
		ActorID:   s.actor.ID,
		OtherName: s.other.DisplayName(),
		Location:  s.opts.Location,
		Now:       s.opts.Now(),
	})
	s.items = r.Items
	return r.MarkRead
}

// markRead issues one write per id. Failures are logged and dropped.
func (s *Session) markRead(ids []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, id := range ids {
			if err := s.store.MarkRead(s.ctx, s.conversation.ID, id); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				metrics.IncMarkReadFailure()
				s.log.Warn().Err(err).Str("message", id).Msg("failed to mark message read")
			}
		}
	}()
}

func (s *Session) writeTyping(typing bool) {
	err := s.store.UpdatePresence(s.ctx, s.actor.ID, models.PresenceUpdate{Typing: models.Bool(typing)})
	if err != nil && s.ctx.Err() == nil {
		s.log.Warn().Err(err).Bool("typing", typing).Msg("failed to update typing")
	}
}
