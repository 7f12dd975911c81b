package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentcore/internal/config"
	"agentcore/internal/llm"
)

type streamRecorder struct {
	deltas   []string
	calls    []llm.ToolCall
	usage    llm.Usage
	gotUsage bool
}

func (s *streamRecorder) OnDelta(content string)            { s.deltas = append(s.deltas, content) }
func (s *streamRecorder) OnToolCall(tc llm.ToolCall)         { s.calls = append(s.calls, tc) }
func (s *streamRecorder) OnImage(img llm.GeneratedImage)     {}
func (s *streamRecorder) OnThoughtSummary(summary string)    {}
func (s *streamRecorder) OnUsage(u llm.Usage) {
	s.usage = u
	s.gotUsage = true
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := New(config.GoogleConfig{
		APIKey:  "k",
		Model:   "test-model",
		BaseURL: srv.URL,
	}, srv.Client())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client
}

func TestChatSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		defer r.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello"}]}}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":1,"totalTokenCount":6}}`))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv)

	msg, err := client.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "do"},
		{Role: "user", Content: "hi"},
	}, nil, "")
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("expected hello, got %q", msg.Content)
	}
	if !strings.Contains(gotPath, "test-model") || !strings.Contains(gotPath, ":generateContent") {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestChatStreamReportsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		chunks := []string{
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello"}]}}]}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":" world"}]}}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}}`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte("data: " + c + "\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv)

	rec := &streamRecorder{}
	err := client.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil, "", rec)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if got := strings.Join(rec.deltas, ""); got != "hello world" {
		t.Fatalf("unexpected deltas %q", got)
	}
	if !rec.gotUsage {
		t.Fatalf("expected OnUsage to be called")
	}
	if rec.usage.PromptTokens != 4 || rec.usage.CompletionTokens != 2 || rec.usage.TotalTokens != 6 {
		t.Fatalf("unexpected usage: %+v", rec.usage)
	}
}

func TestChatAdaptsToolSchemas(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv)

	_, err := client.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, []llm.ToolSchema{
		{Name: "lookup", Description: "look something up", Parameters: map[string]any{"type": "object"}},
	}, "")
	if err != nil {
		t.Fatalf("Chat with tools returned error: %v", err)
	}
	tools, ok := body["tools"].([]any)
	if !ok || len(tools) == 0 {
		t.Fatalf("expected tools to be sent in request body, got %v", body["tools"])
	}
}
