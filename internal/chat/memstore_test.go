package chat

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/saravenpi/unimatch/internal/models"
	"github.com/saravenpi/unimatch/internal/store"
	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory Store that delivers snapshots synchronously on every write.
type memStore struct {
	mu        sync.Mutex
	clock     time.Time
	convs     map[string]models.Conversation
	profiles  map[string]models.Profile
	messages  map[string][]models.Message
	presence  []models.PresenceUpdate
	watchers  map[int]func([]models.Message)
	nextWatch int
	seq       int

	addErr     error
	deleteErrs map[string]error
	markReads  int
}

func newMemStore(convs ...models.Conversation) *memStore {
	m := &memStore{
		clock:      time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		convs:      make(map[string]models.Conversation),
		profiles:   make(map[string]models.Profile),
		messages:   make(map[string][]models.Message),
		watchers:   make(map[int]func([]models.Message)),
		deleteErrs: make(map[string]error),
	}
	for _, c := range convs {
		m.convs[c.ID] = c
	}
	return m
}

func (m *memStore) snapshot(conversationID string) []models.Message {
	msgs := m.messages[conversationID]
	out := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		if msg.ReplyTo != nil {
			r := *msg.ReplyTo
			msg.ReplyTo = &r
		}
		if msg.Reactions != nil {
			r := make(map[string]string, len(msg.Reactions))
			for k, v := range msg.Reactions {
				r[k] = v
			}
			msg.Reactions = r
		}
		out[i] = msg
	}
	return out
}

// publish must be called without m.mu held.
func (m *memStore) publish(conversationID string) {
	m.mu.Lock()
	snap := m.snapshot(conversationID)
	fns := make([]func([]models.Message), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (m *memStore) GetConversation(_ context.Context, id string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return models.Conversation{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.convs, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) GetProfile(_ context.Context, userID string) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return models.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) WatchProfile(ctx context.Context, userID string, fn func(models.Profile)) error {
	<-ctx.Done()
	return nil
}

func (m *memStore) UpdatePresence(_ context.Context, userID string, u models.PresenceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = append(m.presence, u)
	p := m.profiles[userID]
	p.ID = userID
	if u.Online != nil {
		p.Online = *u.Online
	}
	if u.Typing != nil {
		p.Typing = *u.Typing
	}
	m.profiles[userID] = p
	return nil
}

func (m *memStore) AppendBlocked(_ context.Context, userID, blockedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	p.ID = userID
	if !slices.Contains(p.Blocked, blockedID) {
		p.Blocked = append(p.Blocked, blockedID)
	}
	m.profiles[userID] = p
	return nil
}

func (m *memStore) WatchMessages(ctx context.Context, conversationID string, fn func([]models.Message)) error {
	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = fn
	snap := m.snapshot(conversationID)
	m.mu.Unlock()

	fn(snap)
	<-ctx.Done()

	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
	return nil
}

// put stores a message from the other side as if it arrived over the network.
func (m *memStore) put(conversationID string, msg models.Message) {
	m.mu.Lock()
	m.seq++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m%d", m.seq)
	}
	if msg.CreatedAt == nil {
		at := m.clock.Add(time.Duration(m.seq) * time.Second)
		msg.CreatedAt = &at
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	m.mu.Unlock()
	m.publish(conversationID)
}

func (m *memStore) AddMessage(_ context.Context, conversationID string, nm models.NewMessage) (string, error) {
	m.mu.Lock()
	if m.addErr != nil {
		m.mu.Unlock()
		return "", m.addErr
	}
	m.seq++
	id := nm.ID
	if id == "" {
		id = fmt.Sprintf("m%d", m.seq)
	}
	at := m.clock.Add(time.Duration(m.seq) * time.Second)
	m.messages[conversationID] = append(m.messages[conversationID], models.Message{
		ID:        id,
		SenderID:  nm.SenderID,
		CreatedAt: &at,
		Payload:   nm.Payload,
		ReplyTo:   nm.ReplyTo,
	})
	m.mu.Unlock()
	m.publish(conversationID)
	return id, nil
}

func (m *memStore) update(conversationID, messageID string, fn func(*models.Message) error) error {
	m.mu.Lock()
	msgs := m.messages[conversationID]
	i := slices.IndexFunc(msgs, func(x models.Message) bool { return x.ID == messageID })
	if i < 0 {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	if err := fn(&msgs[i]); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	m.publish(conversationID)
	return nil
}

func (m *memStore) MarkRead(_ context.Context, conversationID, messageID string) error {
	return m.update(conversationID, messageID, func(msg *models.Message) error {
		m.markReads++
		msg.Read = true
		return nil
	})
}

func (m *memStore) SoftDelete(_ context.Context, conversationID, messageID, actorID string) error {
	m.mu.Lock()
	err := m.deleteErrs[messageID]
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.update(conversationID, messageID, func(msg *models.Message) error {
		if msg.SenderID != actorID {
			return store.ErrPermissionDenied
		}
		if msg.Deleted {
			return nil
		}
		now := m.clock
		msg.Deleted = true
		msg.DeletedAt = &now
		return nil
	})
}

func (m *memStore) UpdateReactions(_ context.Context, conversationID, messageID string, fn func(map[string]string) map[string]string) error {
	return m.update(conversationID, messageID, func(msg *models.Message) error {
		msg.Reactions = fn(msg.Reactions)
		return nil
	})
}

func (m *memStore) message(conversationID, id string) (models.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[conversationID] {
		if msg.ID == id {
			return msg, true
		}
	}
	return models.Message{}, false
}

func (m *memStore) last(conversationID string) models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return models.Message{}
	}
	return msgs[len(msgs)-1]
}

func (m *memStore) count(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[conversationID])
}

func (m *memStore) lastPresence() models.PresenceUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.presence) == 0 {
		return models.PresenceUpdate{}
	}
	return m.presence[len(m.presence)-1]
}

type mockBlobs struct {
	mock.Mock
}

func (b *mockBlobs) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	args := b.Called(ctx, key, contentType, data)
	return args.String(0), args.Error(1)
}

func (b *mockBlobs) Delete(ctx context.Context, url string) error {
	args := b.Called(ctx, url)
	return args.Error(0)
}
