package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Darunesh1/tds-quiz-solver/config"
)

const defaultAIPipeBaseURL = "https://api.aipipe.xyz"

// AIPipe calls an OpenAI-compatible chat completions proxy.
type AIPipe struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewAIPipe creates an AIPipe provider.
func NewAIPipe(name string, cfg config.LLMProviderConfig, timeout time.Duration) *AIPipe {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAIPipeBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}
	return &AIPipe{
		name:        name,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (a *AIPipe) Name() string { return a.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends a chat completion request.
func (a *AIPipe) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("aipipe API key not configured")
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = a.temperature
	}
	payload, err := json.Marshal(chatRequest{
		Model:       a.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling aipipe request: %w", err)
	}

	endpoint := a.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building aipipe request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parsing aipipe response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("aipipe response has no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
