package pageindex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noBackoff(int) time.Duration { return 0 }

func TestOpenAIProviderComplete(t *testing.T) {
	var got OpenAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"choices": [{"index": 0, "message": {"role": "assistant", "content": "[]"}, "finish_reason": "stop"}]}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(ProviderConfig{
		APIBase:   server.URL,
		APIKey:    "sk-test",
		Model:     "gpt-test",
		MaxTokens: 256,
	})
	require.NoError(t, err)

	text, err := p.Complete(context.Background(), "find sections")
	require.NoError(t, err)
	assert.Equal(t, "[]", text)
	assert.Equal(t, "gpt-test", p.Model())

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, SystemPrompt, got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "find sections", got.Messages[1].Content)
}

func TestOpenAIProviderRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "slow down"}}`))
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`))
		}
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(ProviderConfig{APIBase: server.URL + "/v1", Model: "m", MaxRetries: 3, Backoff: noBackoff})
	require.NoError(t, err)

	text, err := p.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIProviderRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(ProviderConfig{APIBase: server.URL, Model: "m", MaxRetries: 2, Backoff: noBackoff})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "hi")
	assert.True(t, IsKind(err, KindLLMUnavailable), "error = %v", err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIProviderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key"}}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(ProviderConfig{APIBase: server.URL, Model: "m", MaxRetries: 5, Backoff: noBackoff})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "hi")
	assert.True(t, IsKind(err, KindLLMUnavailable), "error = %v", err)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestProviderContextErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	slow := func(int) time.Duration { return time.Hour }
	p, err := NewOpenAIProvider(ProviderConfig{APIBase: server.URL, Model: "m", MaxRetries: 3, Backoff: slow})
	require.NoError(t, err)

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := p.Complete(ctx, "hi")
		assert.True(t, IsKind(err, KindTimeout), "error = %v", err)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		_, err := p.Complete(ctx, "hi")
		assert.True(t, IsKind(err, KindCanceled), "error = %v", err)
	})
}

func TestProviderRequestTimeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(ProviderConfig{
		APIBase:        server.URL,
		Model:          "m",
		MaxRetries:     1,
		RequestTimeout: 50 * time.Millisecond,
		Backoff:        noBackoff,
	})
	require.NoError(t, err)

	t.Run("provider", func(t *testing.T) {
		_, err := p.Complete(context.Background(), "hi")
		assert.True(t, IsKind(err, KindTimeout), "error = %v", err)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("through the indexer", func(t *testing.T) {
		doc := NewDocument("doc", []string{"only page"})
		_, err := NewIndexer(p, IndexerOptions{}).Index(context.Background(), doc)
		assert.True(t, IsKind(err, KindTimeout), "error = %v", err)
	})
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"deadline", os.ErrDeadlineExceeded, true},
		{"wrapped in retryable", &RetryableError{Message: "slow", cause: os.ErrDeadlineExceeded}, true},
		{"status error", &RetryableError{StatusCode: 503}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTimeout(tt.err))
		})
	}
}

func TestAnthropicProviderComplete(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"content": [{"type": "text", "text": "hel"}, {"type": "text", "text": "lo"}]}`))
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(ProviderConfig{APIBase: server.URL, APIKey: "key-123", Model: "claude-test"})
	require.NoError(t, err)

	text, err := p.Complete(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	assert.Equal(t, SystemPrompt, got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "say hello", got.Messages[0].Content)
}

func TestAnthropicProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "prompt too long"}}`))
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(ProviderConfig{APIBase: server.URL, APIKey: "k", Model: "m", Backoff: noBackoff})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "x")
	assert.True(t, IsKind(err, KindLLMUnavailable), "error = %v", err)
	assert.Contains(t, err.Error(), "prompt too long")
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{"default is openai", ProviderConfig{Model: "m"}, false},
		{"openai", ProviderConfig{Provider: "OpenAI", Model: "m"}, false},
		{"anthropic", ProviderConfig{Provider: "anthropic", APIKey: "k", Model: "m"}, false},
		{"anthropic without key", ProviderConfig{Provider: "anthropic", Model: "m"}, true},
		{"missing model", ProviderConfig{Provider: "openai"}, true},
		{"unknown provider", ProviderConfig{Provider: "carrier-pigeon", Model: "m"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				assert.True(t, IsKind(err, KindInvalidArgument), "error = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "m", p.Model())
		})
	}
}

func TestEndpointNormalization(t *testing.T) {
	tests := []struct {
		base      string
		openai    string
		anthropic string
	}{
		{"", "https://api.openai.com/v1/chat/completions", "https://api.anthropic.com/v1/messages"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions", "http://localhost:8080/v1/messages"},
		{"http://localhost:8080/v1/", "http://localhost:8080/v1/chat/completions", "http://localhost:8080/v1/messages"},
		{"http://proxy/v1/chat/completions", "http://proxy/v1/chat/completions", ""},
		{"https://gateway.example/anthropic/v1/messages", "", "https://gateway.example/anthropic/v1/messages"},
	}

	for _, tt := range tests {
		if got := openAIEndpoint(tt.base); tt.openai != "" && got != tt.openai {
			t.Errorf("openAIEndpoint(%q) = %q, want %q", tt.base, got, tt.openai)
		}
		if got := anthropicEndpoint(tt.base); tt.anthropic != "" && got != tt.anthropic {
			t.Errorf("anthropicEndpoint(%q) = %q, want %q", tt.base, got, tt.anthropic)
		}
	}
}

func TestTestConnection(t *testing.T) {
	t.Run("hello reply", func(t *testing.T) {
		provider := &fakeProvider{responses: []string{"Hello!"}}
		reply, err := TestConnection(context.Background(), provider)
		require.NoError(t, err)
		assert.Equal(t, "Hello!", reply)
		assert.Equal(t, ConnectionTestPrompt, provider.prompts[0])
	})

	t.Run("unexpected reply", func(t *testing.T) {
		provider := &fakeProvider{responses: []string{"Goodbye"}}
		_, err := TestConnection(context.Background(), provider)
		assert.True(t, IsKind(err, KindLLMUnavailable), "error = %v", err)
	})
}

func TestBackoff(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := Backoff(attempt)
		base := time.Duration(1<<uint(min(attempt, 5))) * time.Second
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		if d < base || d >= base+base/2 {
			t.Errorf("Backoff(%d) = %v, want in [%v, %v)", attempt, d, base, base+base/2)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		N    *int   `json:"n"`
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", `{"name": "a", "n": 1}`, "a", false},
		{"json fence", "```json\n{\"name\": \"b\"}\n```", "b", false},
		{"bare fence", "```\n{\"name\": \"c\"}\n```", "c", false},
		{"surrounding prose", "Sure! {\"name\": \"d\"} Hope that helps.", "d", false},
		{"trailing prose after object", "{\"name\": \"f\"}\n\nNote: {this} is [extra].", "f", false},
		{"escaped quote in string", `{"name": "g \" ]}"} done`, "g \" ]}", false},
		{"trailing comma", `{"name": "e",}`, "e", false},
		{"python none", `{"name": "None", "n": None}`, "None", false},
		{"no json", "nothing here", "", true},
		{"broken json", `{"name": `, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON[payload](tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got.Name != tt.want {
				t.Errorf("ExtractJSON().Name = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
