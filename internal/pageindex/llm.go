package pageindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LLMProvider is the reasoning capability used by the indexer and searcher.
type LLMProvider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string) (string, error)

	// Model returns the model identifier being used.
	Model() string
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultOpenAIBase    = "https://api.openai.com/v1"
	DefaultAnthropicBase = "https://api.anthropic.com"
	DefaultMaxTokens     = 4096
	DefaultMaxRetries    = 3

	anthropicVersion = "2023-06-01"
	maxResponseBytes = 4 << 20
)

// ProviderConfig configures an HTTP-backed LLMProvider.
type ProviderConfig struct {
	Provider       string
	APIBase        string
	APIKey         string
	Model          string
	MaxTokens      int
	Temperature    float64
	RequestTimeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries   int
	SystemPrompt string
	Logger       *slog.Logger
	HTTPClient   *http.Client
	// Backoff returns the wait before retry n (0-indexed); nil uses Backoff.
	Backoff func(attempt int) time.Duration
}

// NewProvider creates the provider named by cfg.Provider.
func NewProvider(cfg ProviderConfig) (LLMProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderAnthropic:
		p, err := NewAnthropicProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, Errorf(KindInvalidArgument, "unknown provider %q", cfg.Provider)
	}
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(min(attempt, 5))) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// retrier runs one reasoning call with bounded retries on transient errors.
type retrier struct {
	provider   string
	model      string
	maxRetries int
	backoff    func(int) time.Duration
	logger     *slog.Logger
}

func newRetrier(name string, cfg ProviderConfig) retrier {
	r := retrier{
		provider:   name,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     cfg.Logger,
	}
	if r.maxRetries < 0 {
		r.maxRetries = 0
	}
	if r.backoff == nil {
		r.backoff = Backoff
	}
	if r.logger == nil {
		r.logger = discardLogger
	}
	return r
}

func (r retrier) do(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	requestID := uuid.NewString()
	logger := r.logger.With("request_id", requestID, "provider", r.provider, "model", r.model)

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := r.backoff(attempt - 1)
			logger.Debug("retrying reasoning call", "attempt", attempt+1, "wait", wait)
			if err := sleepContext(ctx, wait); err != nil {
				return "", contextError(ctx, "reasoning call")
			}
		}

		start := time.Now()
		text, err := call(ctx)
		if err == nil {
			logger.Debug("reasoning call completed",
				"attempt", attempt+1,
				"latency", time.Since(start),
				"response_bytes", len(text))
			return text, nil
		}
		if ctx.Err() != nil {
			return "", contextError(ctx, "reasoning call")
		}

		lastErr = err
		if !IsRetryable(err) {
			logger.Error("reasoning call failed", "attempt", attempt+1, "error", err)
			return "", NewError(KindLLMUnavailable, r.provider+" request failed", err)
		}
		logger.Warn("reasoning call failed", "attempt", attempt+1, "error", err)
	}

	msg := fmt.Sprintf("%s request failed after %d attempts", r.provider, r.maxRetries+1)
	if isTimeout(lastErr) {
		return "", NewError(KindTimeout, msg+": request timed out", lastErr)
	}
	return "", NewError(KindLLMUnavailable, msg, lastErr)
}

// isTimeout reports whether err came from a transport deadline, such as
// the per-request http.Client timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// postJSON sends body to url and returns the response body. Rate limits,
// server errors and transport failures come back as *RetryableError.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &RetryableError{Message: err.Error(), cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RetryableError{StatusCode: resp.StatusCode, Message: err.Error(), cause: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}

func httpClientFor(cfg ProviderConfig) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// OpenAIProvider implements LLMProvider against an OpenAI-compatible
// chat completions endpoint.
type OpenAIProvider struct {
	apiKey       string
	model        string
	endpoint     string
	maxTokens    int
	temperature  float64
	systemPrompt string
	httpClient   *http.Client
	retry        retrier
}

// OpenAIRequest represents the request body for the chat completions API.
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

// OpenAIMessage represents a message in the OpenAI format.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIResponse represents the response from the chat completions API.
type OpenAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      OpenAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *OpenAIError `json:"error,omitempty"`
}

// OpenAIError represents an error response from the API.
type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, Errorf(KindInvalidArgument, "model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &OpenAIProvider{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		endpoint:     openAIEndpoint(cfg.APIBase),
		maxTokens:    maxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: systemPromptFor(cfg),
		httpClient:   httpClientFor(cfg),
		retry:        newRetrier(ProviderOpenAI, cfg),
	}, nil
}

func openAIEndpoint(base string) string {
	endpoint := strings.TrimSpace(base)
	if endpoint == "" {
		endpoint = DefaultOpenAIBase
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		if strings.HasSuffix(endpoint, "/v1") {
			endpoint += "/chat/completions"
		} else {
			endpoint += "/v1/chat/completions"
		}
	}
	return endpoint
}

// Model returns the model identifier.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Complete sends a prompt and returns the response.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	req := OpenAIRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	if p.systemPrompt != "" {
		req.Messages = append(req.Messages, OpenAIMessage{Role: "system", Content: p.systemPrompt})
	}
	req.Messages = append(req.Messages, OpenAIMessage{Role: "user", Content: prompt})

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	return p.retry.do(ctx, func(ctx context.Context) (string, error) {
		body, err := postJSON(ctx, p.httpClient, p.endpoint, headers, req)
		if err != nil {
			return "", err
		}

		var oaiResp OpenAIResponse
		if err := json.Unmarshal(body, &oaiResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if oaiResp.Error != nil {
			return "", fmt.Errorf("API error: %s", oaiResp.Error.Message)
		}
		if len(oaiResp.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}
		return oaiResp.Choices[0].Message.Content, nil
	})
}

// AnthropicProvider implements LLMProvider against the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey       string
	model        string
	endpoint     string
	maxTokens    int
	temperature  float64
	systemPrompt string
	httpClient   *http.Client
	retry        retrier
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicProvider creates a provider for the Anthropic Messages API.
func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	if cfg.Model == "" {
		return nil, Errorf(KindInvalidArgument, "model is required")
	}
	if cfg.APIKey == "" {
		return nil, Errorf(KindInvalidArgument, "api key is required for %s", ProviderAnthropic)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &AnthropicProvider{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		endpoint:     anthropicEndpoint(cfg.APIBase),
		maxTokens:    maxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: systemPromptFor(cfg),
		httpClient:   httpClientFor(cfg),
		retry:        newRetrier(ProviderAnthropic, cfg),
	}, nil
}

func anthropicEndpoint(base string) string {
	endpoint := strings.TrimSpace(base)
	if endpoint == "" {
		endpoint = DefaultAnthropicBase
	}
	endpoint = strings.TrimRight(endpoint, "/")
	switch {
	case strings.HasSuffix(endpoint, "/v1/messages"):
	case strings.HasSuffix(endpoint, "/v1"):
		endpoint += "/messages"
	default:
		endpoint += "/v1/messages"
	}
	return endpoint
}

// Model returns the model identifier.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// Complete sends a prompt and returns the concatenated text blocks.
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	req := anthropicRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		System:      p.systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}

	return p.retry.do(ctx, func(ctx context.Context) (string, error) {
		body, err := postJSON(ctx, p.httpClient, p.endpoint, headers, req)
		if err != nil {
			return "", err
		}

		var apiResp anthropicResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if apiResp.Error != nil {
			return "", fmt.Errorf("API error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
		}

		var sb strings.Builder
		for _, block := range apiResp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", fmt.Errorf("empty response")
		}
		return sb.String(), nil
	})
}

func systemPromptFor(cfg ProviderConfig) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	return SystemPrompt
}

// TestConnection checks that the provider answers a trivial prompt.
func TestConnection(ctx context.Context, p LLMProvider) (string, error) {
	reply, err := p.Complete(ctx, ConnectionTestPrompt)
	if err != nil {
		return "", err
	}
	if !strings.Contains(strings.ToLower(reply), "hello") {
		return reply, Errorf(KindLLMUnavailable, "unexpected reply from %s", p.Model()).WithRaw(reply)
	}
	return reply, nil
}

var (
	codeFencePattern     = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([\]}])`)
	pythonNonePattern    = regexp.MustCompile(`:\s*None\b`)
)

// ExtractJSON extracts and parses JSON from an LLM response.
// It handles ```json fences, surrounding prose, trailing commas and
// Python-style None values.
func ExtractJSON[T any](content string) (T, error) {
	var result T

	content = extractJSONText(content)
	if content == "" {
		return result, fmt.Errorf("no JSON found in response")
	}

	// First attempt
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		// Clean up common issues
		fixed := trailingCommaPattern.ReplaceAllString(content, "$1")
		fixed = pythonNonePattern.ReplaceAllString(fixed, ": null")
		var retry T
		if err := json.Unmarshal([]byte(fixed), &retry); err != nil {
			return result, fmt.Errorf("failed to parse JSON: %w (content: %s)", err, truncate(content, 200))
		}
		return retry, nil
	}

	return result, nil
}

// extractJSONText strips code fences and any prose before or after the
// first JSON array or object.
func extractJSONText(content string) string {
	content = strings.TrimSpace(content)
	if m := codeFencePattern.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}

	start := strings.IndexAny(content, "[{")
	if start == -1 {
		return ""
	}
	if end := matchingBracket(content, start); end != -1 {
		return content[start : end+1]
	}

	// Unbalanced: keep up to the last closer so the decoder reports the error.
	closer := byte(']')
	if content[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(content, closer)
	if end <= start {
		return content[start:]
	}
	return content[start : end+1]
}

// matchingBracket returns the index of the bracket closing the one at
// open, skipping brackets inside JSON strings, or -1 if it never closes.
func matchingBracket(s string, open int) int {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
