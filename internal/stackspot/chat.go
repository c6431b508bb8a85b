package stackspot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
)

// stackspotAIVersion is the client version tag sent with every streamed
// chat request.
const stackspotAIVersion = "2.3.0"

// streamEndMarker terminates iteration when it appears on a stream line.
const streamEndMarker = "event: end_event"

// streamDataPrefix marks lines carrying a JSON event payload.
const streamDataPrefix = "data: "

var (
	errChatStatus   = errors.New("chat request rejected")
	errChatUpstream = errors.New("chat stream returned error")
)

// ChatChunk is one unit of a streamed chat response: a piece of the
// answer text. Errors travel on the iterator's error position and
// terminate the stream.
type ChatChunk struct {
	Answer string `json:"answer"`
}

// streamEvent is the decoded form of one `data:` line.
type streamEvent struct {
	Answer *string `json:"answer"`
	Error  *string `json:"error"`
}

// ChatClient streams chat exchanges with the code buddy API.
type ChatClient struct {
	auth       *Authenticator
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewChatClient creates a streaming chat client. The HTTP client should
// have no overall timeout (streams can be long) but a bounded
// response-header timeout on its transport so a stalled upstream cannot
// block indefinitely before the stream starts.
func NewChatClient(auth *Authenticator, baseURL string, httpClient *http.Client, logger *slog.Logger) *ChatClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClient{
		auth:       auth,
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

type chatStreamContext struct {
	ConversationID     string `json:"conversation_id"`
	StackspotAIVersion string `json:"stackspot_ai_version"`
}

type chatStreamRequest struct {
	Context    chatStreamContext `json:"context"`
	UserPrompt string            `json:"user_prompt"`
}

// Chat opens a fresh streamed exchange and returns a finite,
// forward-only sequence of chunks. Failure modes:
//
//   - authentication or transport failure yields one error and ends;
//   - a non-200 response yields one error carrying status and body;
//   - a malformed `data:` line is logged and skipped;
//   - a `data:` line carrying an error field yields that error and
//     terminates immediately;
//   - the end_event marker terminates iteration normally.
//
// Stopping consumption early closes the underlying connection.
func (c *ChatClient) Chat(ctx context.Context, conversationID, prompt string) iter.Seq2[*ChatChunk, error] {
	return func(yield func(*ChatChunk, error) bool) {
		token, err := c.auth.Token(ctx)
		if err != nil {
			c.logger.Error("Chat authentication failed", "error", err)
			yield(nil, fmt.Errorf("failed to authenticate: %w", err))
			return
		}

		body, err := json.Marshal(chatStreamRequest{
			Context: chatStreamContext{
				ConversationID:     conversationID,
				StackspotAIVersion: stackspotAIVersion,
			},
			UserPrompt: prompt,
		})
		if err != nil {
			yield(nil, fmt.Errorf("failed to encode chat request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/chat", bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("failed to build chat request: %w", err))
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error("Chat request failed", "error", err, "conversation_id", conversationID)
			yield(nil, fmt.Errorf("chat request failed: %w", err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Debug("Failed to close chat response body", "error", closeErr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			c.logger.Error("Chat request rejected", "status", resp.StatusCode, "conversation_id", conversationID)
			yield(nil, fmt.Errorf("%w: status %d: %s", errChatStatus, resp.StatusCode, strings.TrimSpace(string(detail))))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if strings.Contains(line, streamEndMarker) {
				return
			}
			if !strings.HasPrefix(line, streamDataPrefix) {
				continue
			}

			payload := strings.TrimSpace(line[len(streamDataPrefix):])
			if payload == "" {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				// A single bad line does not abort the stream.
				c.logger.Warn("Skipping malformed stream line", "error", err, "line", line)
				continue
			}

			if event.Error != nil {
				c.logger.Error("Chat stream returned error", "error", *event.Error, "conversation_id", conversationID)
				yield(nil, fmt.Errorf("%w: %s", errChatUpstream, *event.Error))
				return
			}
			if event.Answer != nil {
				if !yield(&ChatChunk{Answer: *event.Answer}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			c.logger.Error("Chat stream read failed", "error", err, "conversation_id", conversationID)
			yield(nil, fmt.Errorf("chat stream read failed: %w", err))
		}
	}
}
