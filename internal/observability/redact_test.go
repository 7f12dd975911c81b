package observability

import (
	"encoding/json"
	"testing"
)

func TestRedactJSON_ProviderPayload(t *testing.T) {
	in := map[string]any{
		"model": "claude-sonnet-4-5",
		"headers": map[string]any{
			"x-api-key":     "sk-ant-live-0000",
			"Authorization": "Bearer sk-live-0000",
		},
		"messages": []any{
			map[string]any{"role": "user", "content": "hi"},
			map[string]any{"role": "tool", "content": "secret", "token": "tok-abc"},
		},
		"stream": true,
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := RedactJSON(b)

	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m := v.(map[string]any)
	headers := m["headers"].(map[string]any)
	if headers["x-api-key"] != "[REDACTED]" {
		t.Errorf("x-api-key not redacted: %v", headers["x-api-key"])
	}
	if headers["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization not redacted: %v", headers["Authorization"])
	}
	messages := m["messages"].([]any)
	toolMsg := messages[1].(map[string]any)
	if toolMsg["token"] != "[REDACTED]" {
		t.Errorf("nested token not redacted: %v", toolMsg["token"])
	}
	if m["model"] != "claude-sonnet-4-5" {
		t.Errorf("non-sensitive value mutated: %v", m["model"])
	}
	if m["stream"] != true {
		t.Errorf("non-sensitive bool mutated: %v", m["stream"])
	}
}

func TestRedactJSON_EmptyAndInvalid(t *testing.T) {
	if got := RedactJSON(nil); got != nil {
		t.Errorf("expected nil raw for empty input, got %v", got)
	}

	raw := json.RawMessage([]byte("notjson"))
	if res := RedactJSON(raw); string(res) != "notjson" {
		t.Errorf("expected original bytes for invalid json, got %s", string(res))
	}
}
