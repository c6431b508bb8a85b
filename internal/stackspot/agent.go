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
	"regexp"
	"strings"
	"sync"

	"github.com/dailystack/dailystack/internal/config"
)

// ErrAgentCreateFailed is returned when the agent create call does not
// come back with a created status. The response detail is attached.
var ErrAgentCreateFailed = errors.New("agent creation failed")

// Fixed model selection and sampling parameters for the generated agent.
const (
	agentModelID   = "01JZTZQFP4QHTB1500FFW5KT08"
	agentModelName = "gpt-4.1"
)

// Provisioner resolves the configured agent name to a remote agent id,
// creating the agent when it does not exist. The resolved id is cached
// for the lifetime of the process.
//
// Provisioning is not transactional: two processes racing can create
// duplicate agents. The first match by name is treated as authoritative
// on lookup, so duplicates are tolerated.
type Provisioner struct {
	auth       *Authenticator
	httpClient *http.Client
	baseURL    string
	agent      config.AgentConfig
	logger     *slog.Logger

	mu      sync.Mutex
	agentID string
}

// NewProvisioner creates a provisioner against the agent tools API.
func NewProvisioner(auth *Authenticator, agent config.AgentConfig, baseURL string, httpClient *http.Client, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		auth:       auth,
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		agent:      agent,
		logger:     logger,
	}
}

type agentSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type knowledgeSourcesConfig struct {
	MaxNumberOfKOs     int      `json:"max_number_of_kos"`
	RelevancyThreshold int      `json:"relevancy_threshold"`
	KnowledgeSources   []string `json:"knowledge_sources"`
}

type llmSettings struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
}

type agentSpec struct {
	Type                     string                 `json:"type"`
	Name                     string                 `json:"name"`
	Description              string                 `json:"description"`
	SystemPrompt             string                 `json:"system_prompt"`
	SuggestedPrompts         []string               `json:"suggested_prompts"`
	Slug                     string                 `json:"slug"`
	KnowledgeSourcesConfig   knowledgeSourcesConfig `json:"knowledge_sources_config"`
	Tools                    []string               `json:"tools"`
	Mode                     string                 `json:"mode"`
	EnabledTools             bool                   `json:"enabled_tools"`
	Memory                   string                 `json:"memory"`
	ModelID                  string                 `json:"model_id"`
	ModelName                string                 `json:"model_name"`
	LLMSettings              llmSettings            `json:"llm_settings"`
	BuiltinToolsIDs          []string               `json:"builtin_tools_ids"`
	CustomTools              []string               `json:"custom_tools"`
	EnabledStructuredOutputs bool                   `json:"enabled_structured_outputs"`
	StructuredOutput         map[string]any         `json:"structured_output"`
}

// EnsureAgent returns the id of the configured agent, listing agents by
// name first and creating the agent when no match exists.
func (p *Provisioner) EnsureAgent(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.agentID != "" {
		return p.agentID, nil
	}

	token, err := p.auth.Token(ctx)
	if err != nil {
		return "", err
	}

	id, err := p.findAgentByName(ctx, token)
	if err != nil {
		p.logger.Error("Agent lookup failed", "agent_name", p.agent.Name, "error", err)
		return "", err
	}
	if id != "" {
		p.logger.Info("Found existing agent", "agent_name", p.agent.Name, "agent_id", id)
		p.agentID = id
		return id, nil
	}

	p.logger.Info("Agent not found, creating", "agent_name", p.agent.Name)
	id, err = p.createAgent(ctx, token)
	if err != nil {
		p.logger.Error("Agent creation failed", "agent_name", p.agent.Name, "error", err)
		return "", err
	}
	p.logger.Info("Agent created", "agent_name", p.agent.Name, "agent_id", id)
	p.agentID = id
	return id, nil
}

// findAgentByName lists the caller's private agents and returns the id
// of the first exact name match, or "" when none matches.
func (p *Provisioner) findAgentByName(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/agents?visibility=personal", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build agent list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent list request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("Failed to close agent list response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return "", fmt.Errorf("agent list request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var agents []agentSummary
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return "", fmt.Errorf("failed to decode agent list: %w", err)
	}

	for _, a := range agents {
		if a.Name == p.agent.Name {
			return a.ID, nil
		}
	}
	return "", nil
}

// createAgent creates a conversational agent with the configured prompt
// and the structured-output schema constraining its responses.
func (p *Provisioner) createAgent(ctx context.Context, token string) (string, error) {
	spec := agentSpec{
		Type:             "CONVERSATIONAL",
		Name:             p.agent.Name,
		Description:      p.agent.Description,
		SystemPrompt:     p.agent.Prompt,
		SuggestedPrompts: []string{},
		Slug:             slugify(p.agent.Name),
		KnowledgeSourcesConfig: knowledgeSourcesConfig{
			MaxNumberOfKOs:     4,
			RelevancyThreshold: 40,
			KnowledgeSources:   []string{},
		},
		Tools:        []string{},
		Mode:         "autonomous",
		EnabledTools: true,
		Memory:       "buffer",
		ModelID:      agentModelID,
		ModelName:    agentModelName,
		LLMSettings: llmSettings{
			Temperature:      0.4,
			TopP:             1,
			FrequencyPenalty: 0,
			PresencePenalty:  0,
		},
		BuiltinToolsIDs:          []string{},
		CustomTools:              []string{},
		EnabledStructuredOutputs: true,
		StructuredOutput:         challengeOutputSchema(),
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to encode agent spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/agents", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build agent create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent create request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("Failed to close agent create response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return "", fmt.Errorf("%w: status %d: %s", ErrAgentCreateFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var created agentSummary
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode agent create response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: response missing id", ErrAgentCreateFailed)
	}
	return created.ID, nil
}

var slugInvalidRuns = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a URL-safe slug from the agent name: lowercased,
// non-alphanumeric runs collapsed to single hyphens, leading and
// trailing hyphens trimmed.
func slugify(name string) string {
	slug := slugInvalidRuns.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}
