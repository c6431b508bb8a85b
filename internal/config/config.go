// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default agent configuration, overridable via STK_AGENT_* variables.
// The prompt instructs the agent to emit one scenario plus exactly ten
// flashcards whenever it receives the trigger message.
const (
	defaultAgentName        = "Flashcards - Java/Python/AWS"
	defaultAgentDescription = "Agent that generates daily learning scenarios and flashcards for Java/Kotlin developers using Spring Boot and AWS"
	defaultAgentPrompt      = `Você é um agente gerador de **cenários técnicos** e **flashcards de estudo** para desenvolvedores Java/Kotlin e Lambda em Python que usam Spring Boot e AWS. ` +
		`**Regra principal:** sempre que receber a mensagem exata **"próximo cenário"**, gere UM cenário + 10 flashcards seguindo estritamente as restrições abaixo. ` +
		`## Formato de saída - Responda em **Português**. - Primeiro: **Cenário** (muito curto). - Depois: **Explicação arquitetural objetiva**. ` +
		`- Depois: **Decisões de arquitetura, justificativas e trade-offs** (lista curta). - Finalmente: **Exatamente 10 flashcards** com os campos: ` +
		"`title`, `question`, `answer`, `detailed_explanation`, `visual_example`, `code_example`. " +
		`## Regras de conteúdo 1. **Tamanho do cenário:** máximo **3 sentenças**. 2. **Tecnologias:** limite o conjunto a **2–3 tecnologias**. ` +
		`3. **Explicação arquitetural:** máximo **3 sentenças**. 4. **Decisões & trade-offs:** 3 itens no máximo. ` +
		"5. **Flashcards:** gere **exatamente 10**. Cada `answer` deve ter **máx. 2 frases**. " +
		"6. **Visual:** todo `visual_example` deve ser um diagrama ASCII de 1–6 linhas. 7. **Tamanho total:** mantenha a saída enxuta. 8. **Tom:** prático e direto."
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	EnvFile     string
	Agent       AgentConfig
	Endpoints   Endpoints
	HTTPTimeout time.Duration
	RateLimit   RateLimitConfig
}

// Credentials holds the OAuth2 client credentials for the GenAI provider.
// They are process-wide and reloadable: the save-credentials endpoint
// rewrites the environment and asks the auth client to re-read them.
type Credentials struct {
	ClientID  string
	ClientKey string
	Realm     string
}

// AgentConfig describes the remote conversational agent to provision.
type AgentConfig struct {
	Name        string
	Description string
	Prompt      string
}

// Endpoints holds the base URLs of the GenAI provider APIs.
// Overridable so tests can point the clients at local servers.
type Endpoints struct {
	Identity   string // OAuth2 token endpoint host
	AgentTools string // agent list/create API
	Inference  string // non-streaming agent chat API
	CodeBuddy  string // streaming chat API
}

// RateLimitConfig controls per-client throttling of the ask endpoint.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		EnvFile:     getEnv("ENV_FILE", ".env"),
		Agent: AgentConfig{
			Name:        getEnv("STK_AGENT_NAME", defaultAgentName),
			Description: getEnv("STK_AGENT_DESCRIPTION", defaultAgentDescription),
			Prompt:      getEnv("STK_AGENT_PROMPT", defaultAgentPrompt),
		},
		Endpoints: Endpoints{
			Identity:   getEnv("STK_IDM_URL", "https://idm.stackspot.com"),
			AgentTools: getEnv("STK_AGENT_TOOLS_URL", "https://genai-agent-tools-api.stackspot.com"),
			Inference:  getEnv("STK_INFERENCE_URL", "https://genai-inference-app.stackspot.com"),
			CodeBuddy:  getEnv("STK_CODE_BUDDY_URL", "https://genai-code-buddy-api.stackspot.com"),
		},
		// LLM generation is slow; the non-streaming challenge fetch needs
		// a generous ceiling.
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 60*time.Second),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Agent.Name == "" {
		return fmt.Errorf("STK_AGENT_NAME cannot be empty")
	}
	if c.Endpoints.Identity == "" || c.Endpoints.AgentTools == "" ||
		c.Endpoints.Inference == "" || c.Endpoints.CodeBuddy == "" {
		return fmt.Errorf("endpoint base URLs cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate limit settings must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// LoadCredentials reads the GenAI client credentials from the environment.
func LoadCredentials() Credentials {
	return Credentials{
		ClientID:  os.Getenv("STK_CLIENT_ID"),
		ClientKey: os.Getenv("STK_CLIENT_KEY"),
		Realm:     os.Getenv("STK_REALM"),
	}
}

// Missing returns the names of unset credential variables.
func (c Credentials) Missing() []string {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "STK_CLIENT_ID")
	}
	if c.ClientKey == "" {
		missing = append(missing, "STK_CLIENT_KEY")
	}
	if c.Realm == "" {
		missing = append(missing, "STK_REALM")
	}
	return missing
}

// Complete reports whether all three credential fields are set.
func (c Credentials) Complete() bool {
	return len(c.Missing()) == 0
}

// SaveCredentials updates the process environment and persists the
// credentials to the given env file so they survive a restart.
func SaveCredentials(path string, creds Credentials) error {
	vars := map[string]string{
		"STK_CLIENT_ID":  creds.ClientID,
		"STK_CLIENT_KEY": creds.ClientKey,
		"STK_REALM":      creds.Realm,
	}
	for key, value := range vars {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to update environment: %w", err)
		}
	}
	if err := godotenv.Write(vars, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
