package stackspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dailystack/dailystack/internal/domain"
)

// Errors distinguishing the two parse failure modes of the challenge
// response envelope.
var (
	ErrEnvelopeMessage = errors.New("challenge response missing or invalid message field")
	ErrChallengeJSON   = errors.New("challenge message is not valid JSON")
)

// challengeTrigger is the exact message the agent's system prompt reacts
// to by generating a new scenario and flashcard deck.
const challengeTrigger = "proximo cenário"

// challengeConversationID is sent with every daily challenge fetch.
// TODO: every fetch appends to this one agent-side conversation, so its
// history grows without bound across days; switch to a fresh id per
// fetch once product confirms the shared history is not relied upon.
const challengeConversationID = "01KB1ATKQDKNWZXSV3JNCP72KB"

// ChallengeClient fetches the daily challenge from the provisioned agent.
type ChallengeClient struct {
	auth        *Authenticator
	provisioner *Provisioner
	httpClient  *http.Client
	baseURL     string
	logger      *slog.Logger
}

// NewChallengeClient creates a challenge client against the inference API.
func NewChallengeClient(auth *Authenticator, provisioner *Provisioner, baseURL string, httpClient *http.Client, logger *slog.Logger) *ChallengeClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChallengeClient{
		auth:        auth,
		provisioner: provisioner,
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger,
	}
}

// agentChatRequest is the non-streaming chat request used for the
// challenge fetch.
type agentChatRequest struct {
	Streaming          bool   `json:"streaming"`
	UserPrompt         string `json:"user_prompt"`
	StackspotKnowledge bool   `json:"stackspot_knowledge"`
	ReturnKSInResponse bool   `json:"return_ks_in_response"`
	UseConversation    bool   `json:"use_conversation"`
	ConversationID     string `json:"conversation_id"`
}

// agentChatEnvelope is the outer response object. The informative
// payload is itself a JSON string inside Message and needs a second
// parse pass.
type agentChatEnvelope struct {
	Message *string `json:"message"`
}

// FetchDailyChallenge provisions the agent if needed, sends the trigger
// message and double-parses the response envelope into a typed
// DailyChallenge. All failures return an error; nothing panics.
func (c *ChallengeClient) FetchDailyChallenge(ctx context.Context) (*domain.DailyChallenge, error) {
	agentID, err := c.provisioner.EnsureAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create agent: %w", err)
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	payload := agentChatRequest{
		Streaming:          false,
		UserPrompt:         challengeTrigger,
		StackspotKnowledge: false,
		ReturnKSInResponse: false,
		UseConversation:    true,
		ConversationID:     challengeConversationID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/agent/%s/chat", c.baseURL, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build challenge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Challenge fetch failed", "error", err)
		return nil, fmt.Errorf("challenge request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close challenge response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Error("Challenge fetch rejected", "status", resp.StatusCode)
		return nil, fmt.Errorf("challenge request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var envelope agentChatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.logger.Error("Challenge envelope parse failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeMessage, err)
	}
	if envelope.Message == nil {
		c.logger.Error("Challenge envelope has no message field")
		return nil, ErrEnvelopeMessage
	}

	challenge, err := domain.ChallengeFromPayload([]byte(*envelope.Message))
	if err != nil {
		c.logger.Error("Challenge payload parse failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrChallengeJSON, err)
	}

	c.logger.Info("Daily challenge fetched",
		"date", challenge.Date,
		"flashcards", len(challenge.Flashcards),
	)
	return challenge, nil
}
