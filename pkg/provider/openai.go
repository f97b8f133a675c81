package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kindergate-ai/kindergate/pkg/models"
)

const (
	defaultBaseURL     = "https://api.openai.com"
	defaultModel       = "gpt-3.5-turbo"
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
	callTimeout        = 30 * time.Second
)

// systemPrompt frames every observation-analysis request.
const systemPrompt = "You are an expert in early childhood development and education."

// OpenAI is a chat-completions adapter over HTTP.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAI creates an adapter. An empty baseURL or model falls back to
// the OpenAI defaults. An empty apiKey leaves the adapter unavailable.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: callTimeout},
	}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// Available implements Provider.
func (o *OpenAI) Available() bool { return o.apiKey != "" }

type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []models.ChatMessage `json:"messages"`
	Temperature    float64              `json:"temperature"`
	MaxTokens      int                  `json:"max_tokens"`
	ResponseFormat responseFormat       `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message models.ChatMessage `json:"message"`
	} `json:"choices"`
	Usage *models.TokenUsage `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Call implements Provider. Upstream 401/404/429 responses are classified;
// other failures surface unclassified.
func (o *OpenAI) Call(ctx context.Context, messages []models.ChatMessage, opts Options) (*Completion, error) {
	if !o.Available() {
		return nil, ErrNotConfigured
	}

	model := opts.Model
	if model == "" {
		model = o.model
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	reqBody := chatRequest{
		Model:          model,
		Messages:       append([]models.ChatMessage{{Role: "system", Content: systemPrompt}}, messages...),
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, &Error{Message: "response contained no choices", Status: resp.StatusCode}
	}

	comp := &Completion{
		Content: chat.Choices[0].Message.Content,
		Model:   chat.Model,
	}
	if chat.Usage != nil {
		comp.Usage = *chat.Usage
	}
	return comp, nil
}

func classifyStatus(status int, body []byte) *Error {
	msg := upstreamMessage(body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Code: CodeAuth, Message: msg, Status: status}
	case http.StatusNotFound:
		return &Error{Code: CodeModelNotFound, Message: msg, Status: status}
	case http.StatusTooManyRequests:
		return &Error{Code: CodeRateLimit, Message: msg, Status: status}
	default:
		return &Error{Message: msg, Status: status}
	}
}

func upstreamMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
