package models

import (
	"sort"
	"strings"
	"time"
)

// Actor is the authenticated user driving the client.
type Actor struct {
	ID       string
	Verified bool
}

type Conversation struct {
	ID           string
	Participants [2]string
	CreatedAt    time.Time
}

// ConversationID derives the id shared by both participants: the sorted pair joined by "_".
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

func (c Conversation) Has(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) (string, bool) {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	}
	return "", false
}

// Payload is the body of a message. Exactly one of TextPayload, ImagePayload or VoicePayload;
// a nil Payload marks a record that carried none of them.
type Payload interface {
	isPayload()
}

type TextPayload struct {
	Text string
}

type ImagePayload struct {
	URL string
}

type VoicePayload struct {
	URL string
}

func (TextPayload) isPayload()  {}
func (ImagePayload) isPayload() {}
func (VoicePayload) isPayload() {}

// DecodePayload picks the variant from the raw record fields. Text wins over media when a
// record carries several.
func DecodePayload(text, imageURL, voiceURL string) Payload {
	switch {
	case text != "":
		return TextPayload{Text: text}
	case imageURL != "":
		return ImagePayload{URL: imageURL}
	case voiceURL != "":
		return VoicePayload{URL: voiceURL}
	}
	return nil
}

// EncodePayload is the inverse of DecodePayload.
func EncodePayload(p Payload) (text, imageURL, voiceURL string) {
	switch p := p.(type) {
	case TextPayload:
		return p.Text, "", ""
	case ImagePayload:
		return "", p.URL, ""
	case VoicePayload:
		return "", "", p.URL
	}
	return "", "", ""
}

// ReplyRef is a copy of the replied-to message taken when the reply was written.
type ReplyRef struct {
	ID       string
	Text     string
	SenderID string
}

type Message struct {
	ID        string
	SenderID  string
	CreatedAt *time.Time
	Payload   Payload
	Read      bool
	Deleted   bool
	DeletedAt *time.Time
	ReplyTo   *ReplyRef
	Reactions map[string]string
	Pending   bool
}

// NewMessage is what the client writes; the store assigns the timestamp. ID is chosen by the
// client so an optimistic row and its echo share it. An empty ID lets the store pick one.
type NewMessage struct {
	ID       string
	SenderID string
	Payload  Payload
	ReplyTo  *ReplyRef
}

// ToggleReaction returns the reaction map after userID reacts with emoji: the same emoji
// removes the entry, anything else replaces it. The input map is not modified.
func ToggleReaction(reactions map[string]string, userID, emoji string) map[string]string {
	next := make(map[string]string, len(reactions)+1)
	for k, v := range reactions {
		next[k] = v
	}
	if next[userID] == emoji {
		delete(next, userID)
	} else {
		next[userID] = emoji
	}
	return next
}

type Profile struct {
	ID       string
	Name     string
	Online   bool
	LastSeen *time.Time
	Typing   bool
	Blocked  []string
}

// DisplayName falls back to the id for profiles without a name.
func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// PresenceUpdate names the presence fields a write touches; nil fields are left alone.
type PresenceUpdate struct {
	Online        *bool
	Typing        *bool
	TouchLastSeen bool
}

func Bool(v bool) *bool {
	return &v
}
