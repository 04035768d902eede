package environment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/task"
)

func runCode(id, code string) core.Action {
	return core.CallsAction(core.NewToolCall(id, "run_python_code", map[string]any{"code": code}))
}

func TestCodeTimeoutDistinctFromExit(t *testing.T) {
	ctx := context.Background()
	def := &task.Definition{Question: "What is 6*7?", Answer: "42"}
	sb := NewProcessSandbox("sh")
	sb.TempDir = t.TempDir()
	env := NewCode(def, WithSandbox(sb), WithCodeTimeout(200*time.Millisecond))
	defer env.Close()
	if _, _, err := env.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	timedOut, err := env.Step(ctx, runCode("c1", "echo started; sleep 5"))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	failed, err := env.Step(ctx, runCode("c2", "echo partial; echo bad >&2; exit 3"))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}

	if !strings.HasPrefix(timedOut.Observation.Content, "Execution timed out") {
		t.Errorf("timeout observation = %q", timedOut.Observation.Content)
	}
	if timedOut.Info[core.InfoErrorKind] != "tool_execution_timeout" || timedOut.Reward != rewardTimeout {
		t.Errorf("timeout result = %+v", timedOut)
	}
	if !strings.HasPrefix(failed.Observation.Content, "Exit code 3") || !strings.Contains(failed.Observation.Content, "STDOUT:\npartial") {
		t.Errorf("exit observation = %q", failed.Observation.Content)
	}
	if _, ok := failed.Info[core.InfoErrorKind]; ok {
		t.Errorf("nonzero exit carries an error kind: %+v", failed)
	}
	if timedOut.Observation.Content == failed.Observation.Content {
		t.Error("timeout and nonzero exit read alike")
	}

	final, err := env.Step(ctx, core.TextAction(`The answer is \boxed{42}.`))
	if err != nil {
		t.Fatalf("final Step: %v", err)
	}
	if !final.Done || final.Reward != 1 {
		t.Errorf("final = %+v", final)
	}
}

func TestHTTPSandbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run_code" {
			http.NotFound(w, r)
			return
		}
		var req runCodeRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch {
		case strings.Contains(req.Code, "loop"):
			w.Write([]byte(`{"status":"Failed","run_result":{"status":"TimeLimitExceeded","stdout":"","stderr":"","execution_time":1.0}}`))
		case strings.Contains(req.Code, "raise"):
			w.Write([]byte(`{"status":"Failed","run_result":{"status":"Finished","stdout":"","stderr":"ValueError","execution_time":0.01,"return_code":1}}`))
		default:
			w.Write([]byte(`{"status":"Success","run_result":{"status":"Finished","stdout":"42\n","stderr":"","execution_time":0.02,"return_code":0}}`))
		}
	}))
	defer srv.Close()

	sb := NewHTTPSandbox(srv.URL+"/", srv.Client())
	ctx := context.Background()

	ok, err := sb.Run(ctx, "print(42)", time.Second)
	if err != nil || ok.Stdout != "42\n" || ok.ExitCode != 0 {
		t.Errorf("success = %+v, %v", ok, err)
	}
	failed, err := sb.Run(ctx, "raise ValueError", time.Second)
	if err != nil || failed.ExitCode != 1 || failed.TimedOut {
		t.Errorf("failure = %+v, %v", failed, err)
	}
	loop, err := sb.Run(ctx, "loop()", time.Second)
	if err != nil || !loop.TimedOut {
		t.Errorf("timeout = %+v, %v", loop, err)
	}
}

func TestAnswersMatch(t *testing.T) {
	for _, tc := range []struct {
		expected, predicted string
		want                bool
	}{
		{"42", "42", true},
		{"42", `so the result is \boxed{42}`, true},
		{"42", "The answer is 42.", true},
		{"0.5", `\frac{1}{2}`, true},
		{"1,000", "1000", true},
		{"42", "41", false},
		{"Paris", " paris ", true},
		{"Paris", "London", false},
		{"", "anything", false},
		{"42", "", false},
	} {
		if got := AnswersMatch(tc.expected, tc.predicted); got != tc.want {
			t.Errorf("AnswersMatch(%q, %q) = %v, want %v", tc.expected, tc.predicted, got, tc.want)
		}
	}
}
