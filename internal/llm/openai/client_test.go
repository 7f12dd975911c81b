package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agentcore/internal/config"
	"agentcore/internal/llm"
)

func TestChat_ServerReturnsChoice(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello","tool_calls":[]}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"}
	cli := New(c, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := cli.Chat(ctx, []llm.Message{{Role: "user", Content: "hi"}}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("expected hello, got %q", msg.Content)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if firstNonEmpty("", "a", "b") != "a" {
		t.Fatalf("unexpected firstNonEmpty")
	}
	if firstNonEmpty("", "") != "" {
		t.Fatalf("expected empty when all inputs empty")
	}
}

func TestSanitizeToolSchemas_RemovesNotKeyword(t *testing.T) {
	schemas := sanitizeToolSchemas([]llm.ToolSchema{
		{
			Name:        "lookup",
			Description: "look something up",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "not": map[string]any{"enum": []any{"x"}}},
				},
			},
		},
	})
	if len(schemas) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(schemas))
	}
	props, ok := schemas[0].Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties map, got %#v", schemas[0].Parameters["properties"])
	}
	query, ok := props["query"].(map[string]any)
	if !ok {
		t.Fatalf("expected query schema, got %#v", props["query"])
	}
	if _, exists := query["not"]; exists {
		t.Fatalf("expected unsupported 'not' keyword to be stripped")
	}
}

func TestIsEmptyArgs(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want bool
	}{
		{"", true},
		{"{}", true},
		{"  {}  ", true},
		{`{"x":1}`, false},
	} {
		if got := isEmptyArgs(tc.in); got != tc.want {
			t.Errorf("isEmptyArgs(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// TestSelfHostedSSEHeaderInjection verifies that streaming requests to self-hosted
// mlx_lm.server/llama.cpp backends receive the Accept: text/event-stream header.
func TestSelfHostedSSEHeaderInjection(t *testing.T) {
	var completionsAcceptHeader string
	var requestMade bool

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestMade = true
		if strings.Contains(r.URL.Path, "/chat/completions") {
			completionsAcceptHeader = r.Header.Get("Accept")
		}
		if strings.Contains(r.URL.Path, "/tokenize") {
			_, _ = w.Write([]byte(`{"tokens": [1, 2, 3]}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"test"},"finish_reason":null}]}`))
		_, _ = w.Write([]byte("\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
		_, _ = w.Write([]byte("\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})

	srv := httptest.NewServer(h)
	defer srv.Close()

	httpClient := &http.Client{Transport: &http.Transport{}}

	c := config.OpenAIConfig{
		APIKey:  "test",
		BaseURL: srv.URL,
		Model:   "test-model",
	}
	cli := New(c, httpClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handler := &testStreamHandler{}
	err := cli.ChatStream(ctx, []llm.Message{{Role: "user", Content: "test"}}, nil, "", handler)
	if err != nil {
		t.Logf("Stream error (may be expected for mock server): %v", err)
	}

	if !requestMade {
		t.Fatal("No request was made to the test server")
	}
	if completionsAcceptHeader != "text/event-stream" {
		t.Errorf("Expected Accept: text/event-stream header on /chat/completions, got %q", completionsAcceptHeader)
	}
	if !handler.gotUsage {
		t.Fatalf("expected OnUsage to be called on the self-hosted SSE path")
	}
	// The self-hosted path derives usage from /tokenize, not the SSE "usage"
	// field OpenAI's cloud API sends; the mock /tokenize above always returns
	// 3 tokens regardless of input.
	if handler.usage.PromptTokens != 3 || handler.usage.CompletionTokens != 3 {
		t.Fatalf("unexpected usage: %+v", handler.usage)
	}
}

type testStreamHandler struct {
	deltas   []string
	usage    llm.Usage
	gotUsage bool
}

func (h *testStreamHandler) OnDelta(content string) {
	h.deltas = append(h.deltas, content)
}

func (h *testStreamHandler) OnToolCall(tc llm.ToolCall) {}

func (h *testStreamHandler) OnImage(llm.GeneratedImage) {}

func (h *testStreamHandler) OnThoughtSummary(string) {}

func (h *testStreamHandler) OnUsage(u llm.Usage) {
	h.usage = u
	h.gotUsage = true
}
