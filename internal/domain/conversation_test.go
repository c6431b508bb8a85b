package domain

import (
	"strings"
	"testing"
)

func TestNewConversationIDShape(t *testing.T) {
	t.Parallel()

	id := NewConversationID()
	if len(id) != 26 {
		t.Fatalf("Expected 26-character id, got %d: %q", len(id), id)
	}
	for _, r := range id {
		if !strings.ContainsRune(crockfordBase32, r) {
			t.Fatalf("Unexpected character %q in id %q", r, id)
		}
	}
}

func TestConversationIDSortableByTime(t *testing.T) {
	t.Parallel()

	earlier := conversationIDAt(1700000000000)
	later := conversationIDAt(1700000000001)
	if earlier[:10] >= later[:10] {
		t.Errorf("Expected timestamp prefix ordering: %q !< %q", earlier[:10], later[:10])
	}

	// Same millisecond shares the prefix; only the random suffix differs.
	a := conversationIDAt(1700000000000)
	b := conversationIDAt(1700000000000)
	if a[:10] != b[:10] {
		t.Errorf("Expected identical prefixes for same timestamp: %q vs %q", a[:10], b[:10])
	}
}

func TestNewConversation(t *testing.T) {
	t.Parallel()

	conv := NewConversation()
	if !conv.FirstPending {
		t.Error("Expected new conversation to have FirstPending set")
	}
	if len(conv.Messages) != 0 {
		t.Errorf("Expected empty message list, got %d", len(conv.Messages))
	}
	if conv.ID == "" {
		t.Error("Expected non-empty conversation id")
	}
}
