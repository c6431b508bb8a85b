package domain

import (
	"math/rand/v2"
	"time"
)

// Message roles as stored in a conversation transcript.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message is a single chat transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation tracks the chat state for one flashcard. Messages are
// append-only and in insertion order. FirstPending is true until the
// first question is asked against this conversation; the first question
// gets the flashcard context embedded into its prompt.
type Conversation struct {
	ID           string
	Messages     []Message
	FirstPending bool
}

// NewConversation creates a fresh conversation with a new identifier.
func NewConversation() *Conversation {
	return &Conversation{
		ID:           NewConversationID(),
		FirstPending: true,
	}
}

const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewConversationID generates a ULID-like 26-character identifier in
// Crockford base32: a 10-character millisecond-timestamp prefix followed
// by 16 random characters. The timestamp prefix makes identifiers
// lexicographically sortable by creation time, which the upstream chat
// service expects for conversation ids.
func NewConversationID() string {
	return conversationIDAt(time.Now().UnixMilli())
}

func conversationIDAt(millis int64) string {
	var b [26]byte
	t := millis
	for i := 9; i >= 0; i-- {
		b[i] = crockfordBase32[t%32]
		t /= 32
	}
	for i := 10; i < 26; i++ {
		b[i] = crockfordBase32[rand.IntN(32)]
	}
	return string(b[:])
}
