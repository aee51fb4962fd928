package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/saravenpi/unimatch/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type matchDoc struct {
	Users     []string  `firestore:"users"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type replyDoc struct {
	ID       string `firestore:"id"`
	Text     string `firestore:"text"`
	SenderID string `firestore:"senderId"`
}

type messageDoc struct {
	SenderID  string            `firestore:"senderId"`
	Text      string            `firestore:"text,omitempty"`
	ImageURL  string            `firestore:"imageUrl,omitempty"`
	VoiceURL  string            `firestore:"voiceUrl,omitempty"`
	CreatedAt *time.Time        `firestore:"createdAt"`
	Read      bool              `firestore:"read"`
	Deleted   bool              `firestore:"deleted"`
	DeletedAt *time.Time        `firestore:"deletedAt"`
	ReplyTo   *replyDoc         `firestore:"replyTo"`
	Reactions map[string]string `firestore:"reactions"`
}

type userDoc struct {
	Name     string     `firestore:"name"`
	Online   bool       `firestore:"online"`
	LastSeen *time.Time `firestore:"lastSeen"`
	Typing   bool       `firestore:"typing"`
	Blocked  []string   `firestore:"blocked"`
}

// Firestore talks to the same collections as the web client.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

// mapErr folds gRPC status codes into the store sentinels.
func mapErr(op string, err error) error {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%s: %w: %w", op, ErrPermissionDenied, err)
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (f *Firestore) messages(conversationID string) *firestore.CollectionRef {
	return f.client.Collection(chatsCollection).Doc(conversationID).Collection(messagesCollection)
}

func toConversation(id string, d matchDoc) (models.Conversation, error) {
	if len(d.Users) != 2 {
		return models.Conversation{}, fmt.Errorf("conversation %s has %d participants", id, len(d.Users))
	}
	return models.Conversation{
		ID:           id,
		Participants: [2]string{d.Users[0], d.Users[1]},
		CreatedAt:    d.CreatedAt,
	}, nil
}

func (f *Firestore) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	snap, err := f.client.Collection(matchesCollection).Doc(id).Get(ctx)
	if err != nil {
		return models.Conversation{}, mapErr("get conversation", err)
	}
	var d matchDoc
	if err := snap.DataTo(&d); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return toConversation(snap.Ref.ID, d)
}

func (f *Firestore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	docs, err := f.client.Collection(matchesCollection).
		Where("users", "array-contains", userID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, mapErr("list conversations", err)
	}

	conversations := make([]models.Conversation, 0, len(docs))
	for _, doc := range docs {
		var d matchDoc
		if err := doc.DataTo(&d); err != nil {
			continue
		}
		c, err := toConversation(doc.Ref.ID, d)
		if err != nil {
			continue
		}
		conversations = append(conversations, c)
	}
	return conversations, nil
}

func (f *Firestore) CreateConversation(ctx context.Context, a, b string) (models.Conversation, error) {
	if a == "" || b == "" || a == b {
		return models.Conversation{}, fmt.Errorf("conversation needs two distinct participants")
	}
	id := models.ConversationID(a, b)
	_, err := f.client.Collection(matchesCollection).Doc(id).Create(ctx, map[string]interface{}{
		"users":     []string{a, b},
		"createdAt": firestore.ServerTimestamp,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return models.Conversation{}, mapErr("create conversation", err)
	}
	return f.GetConversation(ctx, id)
}

func (f *Firestore) DeleteConversation(ctx context.Context, id string) error {
	if _, err := f.client.Collection(matchesCollection).Doc(id).Delete(ctx); err != nil {
		return mapErr("delete conversation", err)
	}
	return nil
}

func toProfile(id string, d userDoc) models.Profile {
	return models.Profile{
		ID:       id,
		Name:     d.Name,
		Online:   d.Online,
		LastSeen: d.LastSeen,
		Typing:   d.Typing,
		Blocked:  d.Blocked,
	}
}

func (f *Firestore) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	snap, err := f.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		return models.Profile{}, mapErr("get profile", err)
	}
	var d userDoc
	if err := snap.DataTo(&d); err != nil {
		return models.Profile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	return toProfile(userID, d), nil
}

func (f *Firestore) WatchProfile(ctx context.Context, userID string, fn func(models.Profile)) error {
	it := f.client.Collection(usersCollection).Doc(userID).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if ctx.Err() != nil || status.Code(err) == codes.Canceled {
			return nil
		}
		if err != nil {
			return mapErr("watch profile", err)
		}
		if !snap.Exists() {
			continue
		}
		var d userDoc
		if err := snap.DataTo(&d); err != nil {
			continue
		}
		fn(toProfile(userID, d))
	}
}

func (f *Firestore) UpdatePresence(ctx context.Context, userID string, u models.PresenceUpdate) error {
	var updates []firestore.Update
	if u.Online != nil {
		updates = append(updates, firestore.Update{Path: "online", Value: *u.Online})
	}
	if u.Typing != nil {
		updates = append(updates, firestore.Update{Path: "typing", Value: *u.Typing})
	}
	if u.TouchLastSeen {
		updates = append(updates, firestore.Update{Path: "lastSeen", Value: firestore.ServerTimestamp})
	}
	if len(updates) == 0 {
		return nil
	}
	if _, err := f.client.Collection(usersCollection).Doc(userID).Update(ctx, updates); err != nil {
		return mapErr("update presence", err)
	}
	return nil
}

func (f *Firestore) AppendBlocked(ctx context.Context, userID, blockedID string) error {
	_, err := f.client.Collection(usersCollection).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "blocked", Value: firestore.ArrayUnion(blockedID)},
	})
	if err != nil {
		return mapErr("block user", err)
	}
	return nil
}

func (f *Firestore) AddMessage(ctx context.Context, conversationID string, m models.NewMessage) (string, error) {
	text, imageURL, voiceURL := models.EncodePayload(m.Payload)
	data := map[string]interface{}{
		"senderId":  m.SenderID,
		"createdAt": firestore.ServerTimestamp,
		"read":      false,
		"deleted":   false,
		"reactions": map[string]string{},
	}
	switch {
	case text != "":
		data["text"] = text
	case imageURL != "":
		data["imageUrl"] = imageURL
	case voiceURL != "":
		data["voiceUrl"] = voiceURL
	}
	if m.ReplyTo != nil {
		data["replyTo"] = map[string]interface{}{
			"id":       m.ReplyTo.ID,
			"text":     m.ReplyTo.Text,
			"senderId": m.ReplyTo.SenderID,
		}
	}

	ref := f.messages(conversationID).NewDoc()
	if m.ID != "" {
		ref = f.messages(conversationID).Doc(m.ID)
	}
	if _, err := ref.Create(ctx, data); err != nil {
		return "", mapErr("add message", err)
	}
	return ref.ID, nil
}

func toMessage(id string, d messageDoc) models.Message {
	msg := models.Message{
		ID:        id,
		SenderID:  d.SenderID,
		CreatedAt: d.CreatedAt,
		Payload:   models.DecodePayload(d.Text, d.ImageURL, d.VoiceURL),
		Read:      d.Read,
		Deleted:   d.Deleted,
		DeletedAt: d.DeletedAt,
		Reactions: d.Reactions,
	}
	if d.ReplyTo != nil {
		msg.ReplyTo = &models.ReplyRef{ID: d.ReplyTo.ID, Text: d.ReplyTo.Text, SenderID: d.ReplyTo.SenderID}
	}
	return msg
}

func (f *Firestore) WatchMessages(ctx context.Context, conversationID string, fn func([]models.Message)) error {
	it := f.messages(conversationID).OrderBy("createdAt", firestore.Asc).Snapshots(ctx)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if ctx.Err() != nil || status.Code(err) == codes.Canceled {
			return nil
		}
		if err != nil {
			return mapErr("watch messages", err)
		}

		messages := make([]models.Message, 0, qs.Size)
		for {
			doc, err := qs.Documents.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return mapErr("read snapshot", err)
			}
			var d messageDoc
			if err := doc.DataTo(&d); err != nil {
				continue
			}
			messages = append(messages, toMessage(doc.Ref.ID, d))
		}
		fn(messages)
	}
}

func (f *Firestore) MarkRead(ctx context.Context, conversationID, messageID string) error {
	_, err := f.messages(conversationID).Doc(messageID).Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
	})
	if err != nil {
		return mapErr("mark read", err)
	}
	return nil
}

func (f *Firestore) SoftDelete(ctx context.Context, conversationID, messageID, actorID string) error {
	ref := f.messages(conversationID).Doc(messageID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		sender, err := snap.DataAt("senderId")
		if err != nil {
			return err
		}
		if sender != actorID {
			return ErrPermissionDenied
		}
		if deleted, err := snap.DataAt("deleted"); err == nil && deleted == true {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "deleted", Value: true},
			{Path: "deletedAt", Value: firestore.ServerTimestamp},
		})
	})
	if errors.Is(err, ErrPermissionDenied) {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	if err != nil {
		return mapErr("delete message", err)
	}
	return nil
}

func (f *Firestore) UpdateReactions(ctx context.Context, conversationID, messageID string, fn func(map[string]string) map[string]string) error {
	ref := f.messages(conversationID).Doc(messageID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var d messageDoc
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		current := d.Reactions
		if current == nil {
			current = map[string]string{}
		}
		return tx.Update(ref, []firestore.Update{{Path: "reactions", Value: fn(current)}})
	})
	if err != nil {
		return mapErr("update reactions", err)
	}
	return nil
}
