package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dailystack/dailystack/internal/config"
	"github.com/dailystack/dailystack/internal/domain"
	"github.com/dailystack/dailystack/internal/stackspot"
	"github.com/dailystack/dailystack/internal/state"
)

type fakeRelay struct {
	chunks []string
	err    error
}

func (f *fakeRelay) Chat(ctx context.Context, conversationID, prompt string) iter.Seq2[*stackspot.ChatChunk, error] {
	return func(yield func(*stackspot.ChatChunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(&stackspot.ChatChunk{Answer: c}, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

type fakeFetcher struct {
	challenge *domain.DailyChallenge
	err       error
}

func (f *fakeFetcher) FetchDailyChallenge(ctx context.Context) (*domain.DailyChallenge, error) {
	return f.challenge, f.err
}

func testChallenge() *domain.DailyChallenge {
	return &domain.DailyChallenge{
		Date:     "2025-11-02",
		Scenario: domain.Scenario{Title: "T", Description: "D"},
		Flashcards: []domain.Flashcard{
			{Question: "q0", Answer: "a0"},
			{Question: "q1", Answer: "a1"},
		},
	}
}

type fixture struct {
	handler *Handler
	app     *state.App
	router  chi.Router
	close   func()
}

func newFixture(t *testing.T, relay state.Relay, fetcher state.Fetcher) *fixture {
	t.Helper()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "tok", "expires_in": 3600}`))
	}))

	cfg := &config.Config{
		Port:    "0",
		EnvFile: filepath.Join(t.TempDir(), ".env"),
		RateLimit: config.RateLimitConfig{
			RequestsPerWindow: 100,
			WindowDuration:    time.Minute,
		},
	}

	creds := config.Credentials{ClientID: "id", ClientKey: "key", Realm: "acme"}
	auth := stackspot.NewAuthenticator(creds, tokenSrv.URL, tokenSrv.Client(), nil)

	app := state.New(relay, nil)
	h := NewHandler(app, fetcher, auth, cfg, nil)

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	return &fixture{handler: h, app: app, router: r, close: tokenSrv.Close}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{}, &fakeFetcher{challenge: testChallenge()})
	defer f.close()

	body := decodeBody(t, f.get(t, "/api/status"))
	if body["loading"] != true || body["has_data"] != false {
		t.Errorf("Expected initial loading state, got %v", body)
	}

	f.app.SetChallenge(testChallenge())

	body = decodeBody(t, f.get(t, "/api/status"))
	if body["loading"] != false || body["has_data"] != true || body["error"] != "" {
		t.Errorf("Expected loaded state, got %v", body)
	}
}

func TestScenarioNotFoundThenOK(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{}, &fakeFetcher{})
	defer f.close()

	if rec := f.get(t, "/api/scenario"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before load, got %d", rec.Code)
	}

	f.app.SetChallenge(testChallenge())

	rec := f.get(t, "/api/scenario")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["title"] != "T" {
		t.Errorf("Unexpected scenario: %v", body)
	}
}

func TestFlashcardNavigation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{}, &fakeFetcher{})
	defer f.close()
	f.app.SetChallenge(testChallenge())

	body := decodeBody(t, f.get(t, "/api/flashcard/current"))
	if body["index"].(float64) != 0 || body["total"].(float64) != 2 {
		t.Errorf("Unexpected current flashcard: %v", body)
	}

	body = decodeBody(t, f.post(t, "/api/flashcard/next", ""))
	if body["index"].(float64) != 1 {
		t.Errorf("Expected index 1 after next, got %v", body)
	}

	// Advancing past the last card wraps back to the first.
	body = decodeBody(t, f.post(t, "/api/flashcard/next", ""))
	if body["index"].(float64) != 0 {
		t.Errorf("Expected wraparound to index 0, got %v", body)
	}
}

func TestAskStreamsSSE(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{chunks: []string{"Hel", "lo"}}, &fakeFetcher{})
	defer f.close()
	f.app.SetChallenge(testChallenge())

	rec := f.post(t, "/api/ask-llm", `{"question": "oi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected event-stream content type, got %q", ct)
	}

	var answers []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
			t.Fatalf("Malformed SSE line %q: %v", line, err)
		}
		if payload["error"] != "" {
			t.Fatalf("Unexpected error event: %q", payload["error"])
		}
		answers = append(answers, payload["answer"])
	}
	if strings.Join(answers, "") != "Hello" {
		t.Errorf("Expected streamed Hello, got %v", answers)
	}
}

func TestAskStreamErrorEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{chunks: []string{"partial"}, err: errors.New("quota exceeded")}, &fakeFetcher{})
	defer f.close()
	f.app.SetChallenge(testChallenge())

	rec := f.post(t, "/api/ask-llm", `{"question": "oi"}`)
	if !strings.Contains(rec.Body.String(), `"error":"quota exceeded"`) {
		t.Errorf("Expected terminal error event, got %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"answer":"partial"`) {
		t.Errorf("Expected partial answer before the error, got %q", rec.Body.String())
	}
}

func TestAskValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{}, &fakeFetcher{})
	defer f.close()

	if rec := f.post(t, "/api/ask-llm", `{"question": ""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty question, got %d", rec.Code)
	}
	if rec := f.post(t, "/api/ask-llm", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestAskRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{chunks: []string{"x"}}, &fakeFetcher{})
	defer f.close()
	f.app.SetChallenge(testChallenge())
	f.handler.limiter = NewRateLimiter(2, time.Minute)

	for range 2 {
		if rec := f.post(t, "/api/ask-llm", `{"question": "oi"}`); rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 within limit, got %d", rec.Code)
		}
	}
	if rec := f.post(t, "/api/ask-llm", `{"question": "oi"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 past limit, got %d", rec.Code)
	}
}

func TestChatHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{chunks: []string{"resposta"}}, &fakeFetcher{})
	defer f.close()
	f.app.SetChallenge(testChallenge())

	body := decodeBody(t, f.get(t, "/api/chat/history"))
	if msgs := body["messages"].([]any); len(msgs) != 0 {
		t.Errorf("Expected empty history, got %v", msgs)
	}

	f.post(t, "/api/ask-llm", `{"question": "oi"}`)

	body = decodeBody(t, f.get(t, "/api/chat/history"))
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("Expected user + bot messages, got %v", msgs)
	}
	bot := msgs[1].(map[string]any)
	if bot["role"] != "bot" || bot["content"] != "resposta" {
		t.Errorf("Unexpected bot message: %v", bot)
	}
}

func TestCheckAuth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{}, &fakeFetcher{})
	defer f.close()

	body := decodeBody(t, f.get(t, "/api/check-auth"))
	if body["authenticated"] != true {
		t.Errorf("Expected authenticated=true, got %v", body)
	}
}

func TestSaveCredentialsValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{}, &fakeFetcher{})
	defer f.close()

	rec := f.post(t, "/api/save-credentials", `{"client_id": "id"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for incomplete credentials, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	missing := body["missing"].([]any)
	if len(missing) != 2 {
		t.Errorf("Expected 2 missing fields, got %v", missing)
	}
}

func TestDebugFetchUpstreamFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{}, &fakeFetcher{err: errors.New("upstream down")})
	defer f.close()

	if rec := f.get(t, "/api/debug/fetch"); rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
}

func TestDebugState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRelay{}, &fakeFetcher{})
	defer f.close()
	f.app.SetChallenge(testChallenge())

	body := decodeBody(t, f.get(t, "/api/debug/state"))
	if body["date"] != "2025-11-02" || body["flashcard_count"].(float64) != 2 {
		t.Errorf("Unexpected debug state: %v", body)
	}
	if body["has_credentials"] != true {
		t.Errorf("Expected has_credentials=true, got %v", body)
	}
}
