// Package store holds the document store adapters the conversation core runs against: a local
// sqlite database and Cloud Firestore.
package store

import "errors"

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Collection and field names shared with the web client.
const (
	matchesCollection  = "matches"
	chatsCollection    = "chats"
	messagesCollection = "messages"
	usersCollection    = "users"
)
