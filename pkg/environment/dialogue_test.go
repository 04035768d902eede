package environment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/providers"
	"github.com/boristopalov/agentgym/pkg/task"
)

func dialogueTask() *task.Definition {
	return &task.Definition{
		Ref: core.TaskRef{ID: 7},
		Dialogue: &task.Dialogue{
			Description: "airline support desk",
			Persona:     "an impatient traveller",
			Stages:      []string{"Where is my booking ABC?", "Can I get a refund?"},
			Tools: []core.WireTool{{
				Type: "function",
				Function: core.WireFunction{
					Name: "lookup_booking",
					Parameters: map[string]any{
						"type":       "object",
						"properties": map[string]any{"ref": map[string]any{"type": "string"}},
						"required":   []any{"ref"},
					},
				},
			}},
			TerminalIntents: []string{"refund issued"},
		},
	}
}

func TestLifecycleGuards(t *testing.T) {
	ctx := context.Background()
	env := NewDialogue(dialogueTask(), nil, 10)
	defer env.Close()

	if _, err := env.Step(ctx, core.TextAction("hi")); !errors.Is(err, core.ErrEnvironmentInit) {
		t.Fatalf("step before reset: %v", err)
	}
	if env.Steps() != 0 {
		t.Errorf("rejected step was accounted")
	}
	if _, _, err := env.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, _, err := env.Reset(ctx); !errors.Is(err, core.ErrEnvironmentInit) {
		t.Fatalf("second reset: %v", err)
	}
}

func TestScriptedDialogue(t *testing.T) {
	ctx := context.Background()
	env := NewDialogue(dialogueTask(), nil, 10)
	defer env.Close()

	obs, schema, err := env.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if obs.Content != "Where is my booking ABC?" {
		t.Errorf("opening = %q", obs.Content)
	}
	if d, ok := schema.Lookup("lookup_booking"); !ok || !d.Parameters[0].Required {
		t.Fatalf("schema = %+v", schema)
	}

	res, err := env.Step(ctx, core.CallsAction(core.NewToolCall("c1", "lookup_booking", map[string]any{"ref": "ABC"})))
	if err != nil || res.Done {
		t.Fatalf("tool step = %+v, %v", res, err)
	}
	if res.Observation.Metadata["reply_type"] != string(ReplyToolResponse) {
		t.Errorf("tool reply = %+v", res.Observation)
	}

	res, _ = env.Step(ctx, core.TextAction("Your booking is confirmed."))
	if res.Done || res.Observation.Content != "Can I get a refund?" {
		t.Fatalf("second stage = %+v", res)
	}
	res, _ = env.Step(ctx, core.TextAction("Done, refund issued."))
	if !res.Done || res.Reward != 1 {
		t.Fatalf("terminal intent = %+v", res)
	}
	if _, err := env.Step(ctx, core.TextAction("bye")); !errors.Is(err, core.ErrEpisodeDone) {
		t.Errorf("step after done: %v", err)
	}
}

func TestModelPersona(t *testing.T) {
	ctx := context.Background()
	replies := []string{
		"I am not following the format",
		`<output>{"type": "nlp", "content": "Hi, where is my booking?", "finished": false}</output>`,
		`sure: {"type": "tool_response", "content": "booking ABC is confirmed"}`,
		`<output>{"type": "nlp", "content": "Thanks!", "finished": true, "success": true}</output>`,
	}
	var prompts []string
	var models []string
	fake := providers.CompleterFunc(func(_ context.Context, model string, msgs []core.Message) (string, error) {
		models = append(models, model)
		prompts = append(prompts, msgs[len(msgs)-1].Content)
		if len(replies) == 0 {
			return "", errors.New("no more replies")
		}
		r := replies[0]
		replies = replies[1:]
		return r, nil
	})

	personas := ModelPersonas(fake, "persona-model", WithPersonaRetries(2, time.Millisecond))
	env := NewDialogue(dialogueTask(), personas, 10)
	defer env.Close()

	obs, _, err := env.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if obs.Content != "Hi, where is my booking?" {
		t.Errorf("opening = %q", obs.Content)
	}
	if len(models) != 2 || models[1] != "persona-model" {
		t.Errorf("garbage output should be retried once, calls = %v", models)
	}

	res, err := env.Step(ctx, core.CallsAction(core.NewToolCall("c1", "lookup_booking", map[string]any{"ref": "ABC"})))
	if err != nil || res.Done || res.Observation.Content != "booking ABC is confirmed" {
		t.Fatalf("tool step = %+v, %v", res, err)
	}
	last := prompts[len(prompts)-1]
	if !strings.Contains(last, `Tool calls: lookup_booking(ref="ABC")`) || !strings.Contains(last, "<user_persona>an impatient traveller</user_persona>") {
		t.Errorf("query = %s", last)
	}

	res, err = env.Step(ctx, core.TextAction("It is confirmed."))
	if err != nil || !res.Done || res.Reward != 1 {
		t.Fatalf("final = %+v, %v", res, err)
	}
	if !strings.Contains(prompts[len(prompts)-1], "Tool Result: booking ABC is confirmed") {
		t.Errorf("history missing tool result: %s", prompts[len(prompts)-1])
	}
}

func TestParsePersonaOutput(t *testing.T) {
	for _, bad := range []string{
		"",
		`<output>{"content": "x"}</output>`,
		`<output>{"type": "shout", "content": "x"}</output>`,
		`<output>{"type": "nlp"}</output>`,
	} {
		if _, err := ParsePersonaOutput(bad); err == nil {
			t.Errorf("ParsePersonaOutput(%q) should fail", bad)
		}
	}
}

func TestFormatAgentInput(t *testing.T) {
	msg := FormatAgentInput(core.TextAction("hello"))
	if msg != "Message: hello" {
		t.Errorf("message = %q", msg)
	}
	calls := FormatAgentInput(core.CallsAction(
		core.NewToolCall("a", "search", map[string]any{"q": "x", "limit": 3}),
		core.ToolCall{ID: "b", Name: "broken", RawArguments: "{not json"},
	))
	if calls != `Tool calls: search(limit=3, q="x"); broken(invalid_args)` {
		t.Errorf("calls = %q", calls)
	}
}

func TestFactoryKind(t *testing.T) {
	f := &Factory{}
	if k := f.KindFor(dialogueTask()); k != KindDialogue {
		t.Errorf("dialogue task -> %s", k)
	}
	if k := f.KindFor(&task.Definition{Answer: "42"}); k != KindCode {
		t.Errorf("answer task -> %s", k)
	}
	if k := f.KindFor(newCountTask(nil)); k != KindCommand {
		t.Errorf("setup task -> %s", k)
	}
	forced := &Factory{Kind: KindCommand}
	if k := forced.KindFor(dialogueTask()); k != KindCommand {
		t.Errorf("forced kind ignored: %s", k)
	}
	if _, err := ParseKind("docker"); err == nil {
		t.Error("ParseKind accepted an unknown kind")
	}
	env, err := f.New(dialogueTask())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := env.(*Dialogue); !ok {
		t.Errorf("New built %T", env)
	}
	env.Close()
}
