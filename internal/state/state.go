// Package state holds the shared application state: the loaded daily
// challenge, flashcard navigation and per-flashcard conversations.
package state

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/dailystack/dailystack/internal/domain"
	"github.com/dailystack/dailystack/internal/stackspot"
)

// Relay streams a chat exchange with the remote agent.
type Relay interface {
	Chat(ctx context.Context, conversationID, prompt string) iter.Seq2[*stackspot.ChatChunk, error]
}

// Fetcher retrieves the daily challenge.
type Fetcher interface {
	FetchDailyChallenge(ctx context.Context) (*domain.DailyChallenge, error)
}

// App is the single shared application state. One mutex covers flashcard
// navigation, conversation bookkeeping and challenge reloads; the chat
// relay's streaming phase runs outside the held lock so a stalled stream
// cannot block navigation or status requests.
type App struct {
	relay  Relay
	logger *slog.Logger

	mu            sync.Mutex
	challenge     *domain.DailyChallenge
	index         int
	conversations map[int]*domain.Conversation
	currentConvID string
	loading       bool
	lastError     string
}

// New creates an empty App in the loading state.
func New(relay Relay, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		relay:         relay,
		logger:        logger,
		conversations: make(map[int]*domain.Conversation),
		loading:       true,
	}
}

// LoadChallenge fetches the daily challenge and installs it, replacing
// all conversation state. The fetch itself runs without the state lock.
// Returns false when the fetch failed; the error is retained for the
// status endpoint.
func (a *App) LoadChallenge(ctx context.Context, fetcher Fetcher) bool {
	a.BeginLoading()

	challenge, err := fetcher.FetchDailyChallenge(ctx)
	if err != nil {
		a.logger.Error("Failed to load daily challenge", "error", err)
		a.SetError(err.Error())
		return false
	}

	a.SetChallenge(challenge)
	a.logger.Info("Daily challenge loaded", "date", challenge.Date, "flashcards", len(challenge.Flashcards))
	return true
}

// BeginLoading marks the state as loading and clears the last error.
func (a *App) BeginLoading() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loading = true
	a.lastError = ""
}

// SetChallenge installs a freshly loaded challenge. Conversations are
// replaced wholesale and a conversation is initialized for the first
// flashcard.
func (a *App) SetChallenge(challenge *domain.DailyChallenge) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.challenge = challenge
	a.index = 0
	a.conversations = make(map[int]*domain.Conversation)
	a.initConversationLocked(0)
	a.loading = false
	a.lastError = ""
}

// SetError records a load failure and ends the loading state.
func (a *App) SetError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loading = false
	a.lastError = msg
}

// Status reports the loading flag, data availability and last error.
func (a *App) Status() (loading, hasData bool, lastError string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loading, a.challenge != nil, a.lastError
}

// Scenario returns the current scenario, or false when no challenge is
// loaded.
func (a *App) Scenario() (domain.Scenario, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.challenge == nil {
		return domain.Scenario{}, false
	}
	return a.challenge.Scenario, true
}

// Date returns the current challenge date, or "" when none is loaded.
func (a *App) Date() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.challenge == nil {
		return ""
	}
	return a.challenge.Date
}

// FlashcardCount returns the number of flashcards in the current deck.
func (a *App) FlashcardCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.challenge == nil {
		return 0
	}
	return len(a.challenge.Flashcards)
}

// CurrentIndex returns the current flashcard index.
func (a *App) CurrentIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index
}

// CurrentFlashcard returns the flashcard at the current index. An index
// left out of range by a reload is clamped back to 0.
func (a *App) CurrentFlashcard() (domain.Flashcard, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentFlashcardLocked()
}

func (a *App) currentFlashcardLocked() (domain.Flashcard, bool) {
	if a.challenge == nil || len(a.challenge.Flashcards) == 0 {
		return domain.Flashcard{}, false
	}
	if a.index >= len(a.challenge.Flashcards) {
		a.index = 0
	}
	return a.challenge.Flashcards[a.index], true
}

// NextFlashcard advances to the next flashcard, wrapping around at the
// end of the deck. An existing conversation for the new index is
// restored as current; otherwise a fresh one is created. With an empty
// deck this is a no-op returning no flashcard.
func (a *App) NextFlashcard() (domain.Flashcard, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.challenge == nil || len(a.challenge.Flashcards) == 0 {
		return domain.Flashcard{}, false
	}

	a.index++
	if a.index >= len(a.challenge.Flashcards) {
		a.index = 0
	}

	if conv, ok := a.conversations[a.index]; ok {
		a.currentConvID = conv.ID
	} else {
		a.initConversationLocked(a.index)
	}

	return a.challenge.Flashcards[a.index], true
}

// InitializeConversation creates (or replaces) the conversation for the
// given flashcard index and makes it current. Returns the new
// conversation id.
func (a *App) InitializeConversation(index int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initConversationLocked(index).ID
}

func (a *App) initConversationLocked(index int) *domain.Conversation {
	conv := domain.NewConversation()
	a.conversations[index] = conv
	a.currentConvID = conv.ID
	return conv
}

// Conversation returns the conversation tracked for the given flashcard
// index, or nil when the index was never current.
func (a *App) Conversation(index int) *domain.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversations[index]
}

// History returns a copy of the current conversation's transcript.
func (a *App) History() []domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[a.index]
	if !ok {
		return nil
	}
	history := make([]domain.Message, len(conv.Messages))
	copy(history, conv.Messages)
	return history
}

// Ask dispatches a question about the current flashcard and returns the
// relay's chunk sequence. Unless hidden, the question is appended to the
// transcript before dispatch. The first question against a conversation
// has the flashcard's question and answer embedded into the prompt, and
// consumes the first-message flag whether or not it is hidden. Once the
// stream ends, normally or on an upstream error, the accumulated answer
// text is appended as a single bot message; abandoning the stream early
// leaves no bot message.
func (a *App) Ask(ctx context.Context, question string, hidden bool) iter.Seq2[*stackspot.ChatChunk, error] {
	a.mu.Lock()

	conv, ok := a.conversations[a.index]
	if !ok {
		conv = a.initConversationLocked(a.index)
	}

	if !hidden {
		conv.Messages = append(conv.Messages, domain.Message{Role: domain.RoleUser, Content: question})
	}
	if a.currentConvID == "" {
		a.currentConvID = conv.ID
	}

	prompt := question
	if conv.FirstPending {
		if flashcard, ok := a.currentFlashcardLocked(); ok {
			prompt = fmt.Sprintf(
				"dada a questão: %s e dada a resposta %s Responda a mensagem do usuário: %s",
				flashcard.Question, flashcard.ContextAnswer(), question,
			)
			conv.FirstPending = false
		}
	}

	conversationID := conv.ID
	a.mu.Unlock()

	return func(yield func(*stackspot.ChatChunk, error) bool) {
		var answer strings.Builder

		for chunk, err := range a.relay.Chat(ctx, conversationID, prompt) {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				break
			}
			if chunk != nil && chunk.Answer != "" {
				answer.WriteString(chunk.Answer)
			}
			if !yield(chunk, nil) {
				// Consumer abandoned the stream; treat as interrupted.
				return
			}
		}

		if answer.Len() > 0 {
			a.mu.Lock()
			conv.Messages = append(conv.Messages, domain.Message{Role: domain.RoleBot, Content: answer.String()})
			a.mu.Unlock()
		}
	}
}
