package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/providers"
)

var readFile = core.NewToolSchema(core.ToolDescriptor{
	Name:        "read_file",
	Description: "Read a file",
	Parameters:  []core.Parameter{{Name: "file_path", Type: core.TypeString, Required: true}},
})

func completion(message string) string {
	return `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"test-model",` +
		`"choices":[{"index":0,"finish_reason":"stop","message":` + message + `}]}`
}

func TestOpenAIAgent(t *testing.T) {
	var requests []map[string]any
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}
		if len(requests) == 1 {
			w.Write([]byte(completion(`{"role":"assistant","content":null,"tool_calls":[` +
				`{"id":"call_a","type":"function","function":{"name":"read_file","arguments":"{\"file_path\":\"a.txt\"}"}},` +
				`{"id":"call_b","type":"function","function":{"name":"read_file","arguments":"{broken"}}]}`)))
			return
		}
		w.Write([]byte(completion(`{"role":"assistant","content":"It says hello."}`)))
	}))
	defer srv.Close()

	client := providers.OpenAi(providers.WithBaseURL(srv.URL+"/"), providers.WithAPIKey("test"))
	a := NewOpenAIAgent(client, WithModel("test-model"))
	ctx := context.Background()

	history := []core.Turn{
		{Role: core.RoleSystem, Content: "[]"},
		{Role: core.RoleUser, Content: "read a.txt"},
	}
	action, err := a.Act(ctx, history, readFile)
	if err != nil {
		t.Fatalf("Act: %v", err)
	}
	if !action.HasCalls() || len(action.Calls) != 2 {
		t.Fatalf("action = %+v", action)
	}
	if action.Calls[0].Arguments["file_path"] != "a.txt" {
		t.Errorf("call 0 = %+v", action.Calls[0])
	}
	if action.Calls[1].RawArguments != "{broken" || action.Calls[1].Arguments != nil {
		t.Errorf("malformed arguments not kept raw: %+v", action.Calls[1])
	}
	tools, _ := requests[0]["tools"].([]any)
	if len(tools) != 1 || !strings.Contains(mustJSON(tools[0]), `"name":"read_file"`) {
		t.Errorf("tools = %v", requests[0]["tools"])
	}

	history = append(history,
		core.Turn{Role: core.RoleAssistant, ToolCalls: action.Calls},
		core.Turn{Role: core.RoleTool, ToolName: "read_file", ToolCallID: "call_a", Content: "hello"},
		core.Turn{Role: core.RoleTool, ToolName: "read_file", ToolCallID: "call_b", Content: "Error: bad arguments"},
	)
	action, err = a.Act(ctx, history, readFile)
	if err != nil {
		t.Fatalf("Act: %v", err)
	}
	if action.HasCalls() || action.Text != "It says hello." {
		t.Errorf("final action = %+v", action)
	}
	msgs, _ := requests[1]["messages"].([]any)
	if len(msgs) != 5 {
		t.Fatalf("sent %d messages", len(msgs))
	}
	if tool := mustJSON(msgs[3]); !strings.Contains(tool, `"tool_call_id":"call_a"`) {
		t.Errorf("tool message = %s", tool)
	}

	status = http.StatusBadRequest
	if _, err := a.Act(ctx, history, readFile); !errors.Is(err, ErrRequestRejected) || errors.Is(err, core.ErrAgentTransport) {
		t.Errorf("400 should not be retryable: %v", err)
	}
	status = http.StatusServiceUnavailable
	if _, err := a.Act(ctx, history, readFile); !errors.Is(err, core.ErrAgentTransport) {
		t.Errorf("503 should be a transport error: %v", err)
	}
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestTaggedAgent(t *testing.T) {
	var seen []core.Message
	reply := `<think type="quick">read it</think><tool_call>{"name": "read_file", "arguments": {"file_path": "a.txt"}}</tool_call>`
	c := providers.CompleterFunc(func(_ context.Context, model string, msgs []core.Message) (string, error) {
		seen = msgs
		if reply == "" {
			return "", errors.New("connection reset")
		}
		return reply, nil
	})
	n := 0
	a := NewTaggedAgent(c, WithCallIDs(func() string { n++; return "id" + string(rune('0'+n)) }))
	ctx := context.Background()
	history := []core.Turn{{Role: core.RoleSystem}, {Role: core.RoleUser, Content: "read a.txt"}}

	action, err := a.Act(ctx, history, readFile)
	if err != nil {
		t.Fatalf("Act: %v", err)
	}
	if action.Effort != core.EffortMinimal || action.Calls[0].ID != "id1" || action.Raw != reply {
		t.Errorf("action = %+v", action)
	}
	if seen[0].Role != core.RoleSystem || !strings.Contains(seen[0].Content, `"read_file"`) {
		t.Errorf("system message = %+v", seen[0])
	}

	reply = "I refuse to use tags <tool_call>{"
	if _, err := a.Act(ctx, history, readFile); !errors.Is(err, core.ErrSynthesisParse) {
		t.Errorf("grammar violation: %v", err)
	}
	reply = ""
	if _, err := a.Act(ctx, history, readFile); !errors.Is(err, core.ErrAgentTransport) {
		t.Errorf("completer failure: %v", err)
	}
}

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestScriptedAgent(t *testing.T) {
	tr := core.NewTrajectory("ep", core.TaskRef{}, testTime)
	call := core.NewToolCall("c1", "read_file", map[string]any{"file_path": "a.txt"})
	for _, turn := range []core.Turn{
		{Role: core.RoleSystem},
		{Role: core.RoleUser, Content: "go"},
		{Role: core.RoleAssistant, Error: "timeout"},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{call}},
		{Role: core.RoleTool, ToolCallID: "c1", Content: "x"},
		{Role: core.RoleAssistant, Content: "done"},
	} {
		if _, err := tr.Append(turn); err != nil {
			t.Fatal(err)
		}
	}

	a := FromTrajectory(tr)
	if a.Remaining() != 2 {
		t.Fatalf("remaining = %d", a.Remaining())
	}
	ctx := context.Background()
	first, _ := a.Act(ctx, nil, core.ToolSchema{})
	second, _ := a.Act(ctx, nil, core.ToolSchema{})
	if !first.HasCalls() || first.Calls[0].RawArguments != call.RawArguments || second.Text != "done" {
		t.Errorf("replayed %+v then %+v", first, second)
	}
	if _, err := a.Act(ctx, nil, core.ToolSchema{}); !errors.Is(err, ErrScriptExhausted) {
		t.Errorf("exhausted: %v", err)
	}
}
