package stackspot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// challengeFixture builds the full client stack against one stub server
// handling token, agent list and agent chat endpoints.
func challengeFixture(t *testing.T, chat http.HandlerFunc) (*ChallengeClient, func()) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/acme/oidc/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "tok", "expires_in": 3600}`))
	})
	mux.HandleFunc("/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": "agent-1", "name": "Flashcards - Java/Python/AWS"}]`))
	})
	mux.HandleFunc("/v1/agent/agent-1/chat", chat)

	srv := httptest.NewServer(mux)
	auth := NewAuthenticator(testCredentials(), srv.URL, srv.Client(), nil)
	provisioner := NewProvisioner(auth, testAgentConfig(), srv.URL, srv.Client(), nil)
	client := NewChallengeClient(auth, provisioner, srv.URL, srv.Client(), nil)
	return client, srv.Close
}

func TestFetchDailyChallenge(t *testing.T) {
	t.Parallel()

	inner := `{"date":"2025-11-02","scenario":{"title":"T","problem_description":"P"},"flashcards":[{"question":"q","short_answer":"a"}]}`
	client, closeSrv := challengeFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req agentChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode chat request: %v", err)
		}
		if req.Streaming {
			t.Error("Expected streaming=false")
		}
		if req.UserPrompt != challengeTrigger {
			t.Errorf("Unexpected trigger prompt: %q", req.UserPrompt)
		}
		if req.ConversationID != challengeConversationID {
			t.Errorf("Unexpected conversation id: %q", req.ConversationID)
		}
		envelope, _ := json.Marshal(map[string]string{"message": inner})
		_, _ = w.Write(envelope)
	})
	defer closeSrv()

	challenge, err := client.FetchDailyChallenge(context.Background())
	if err != nil {
		t.Fatalf("FetchDailyChallenge failed: %v", err)
	}
	if challenge.Scenario.Title != "T" {
		t.Errorf("Unexpected title: %q", challenge.Scenario.Title)
	}
	if len(challenge.Flashcards) != 1 || challenge.Flashcards[0].Answer != "a" {
		t.Errorf("Unexpected flashcards: %+v", challenge.Flashcards)
	}
}

func TestFetchDailyChallengeMissingMessageField(t *testing.T) {
	t.Parallel()

	client, closeSrv := challengeFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"something_else": true}`))
	})
	defer closeSrv()

	_, err := client.FetchDailyChallenge(context.Background())
	if !errors.Is(err, ErrEnvelopeMessage) {
		t.Fatalf("Expected ErrEnvelopeMessage, got %v", err)
	}
}

func TestFetchDailyChallengeInvalidInnerJSON(t *testing.T) {
	t.Parallel()

	client, closeSrv := challengeFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message": "this is not json"}`))
	})
	defer closeSrv()

	_, err := client.FetchDailyChallenge(context.Background())
	if !errors.Is(err, ErrChallengeJSON) {
		t.Fatalf("Expected ErrChallengeJSON, got %v", err)
	}
}

func TestFetchDailyChallengeUpstreamFailure(t *testing.T) {
	t.Parallel()

	client, closeSrv := challengeFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	defer closeSrv()

	if _, err := client.FetchDailyChallenge(context.Background()); err == nil {
		t.Fatal("Expected error for 503 response")
	}
}
