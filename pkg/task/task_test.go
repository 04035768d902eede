package task

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const sampleTasks = `[
  {
    "query": "count letter R in workspace/*.txt, write to result.txt",
    "env": "makedirs('workspace')\nwrite_file('workspace/a.txt', 'RRR')",
    "verify": "success = read_file('result.txt').strip() == '3'"
  },
  {
    "create_env": "write_file('data.txt', 'x')",
    "create_noise_env_appendix": "write_file('noise.log', 'y')",
    "task": {
      "level": "easy",
      "question": "How many lines are in data.txt?",
      "format_example": "42",
      "allowed_commands": ["grep", "awk", "cat", "echo"],
      "reference_answer": "cat data.txt | awk 'END{print NR}'",
      "verify_answer": "success = True"
    }
  },
  {"question": "What is 6*7?", "answer": 42},
  {
    "user_persona": "an impatient traveller",
    "environment_description": "airline support desk",
    "tools": [{"type": "function", "function": {"name": "lookup_booking", "parameters": {"type": "object", "properties": {"ref": {"type": "string"}}, "required": ["ref"]}}}],
    "story_stages": ["ask about booking", {"goal": "refund"}]
  }
]`

func writeTasks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	defs, err := Load(writeTasks(t, sampleTasks))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(defs) != 4 {
		t.Fatalf("got %d tasks", len(defs))
	}

	t.Run("legacy", func(t *testing.T) {
		d := defs[0]
		if d.Format != FormatLegacy || d.Ref.ID != 0 {
			t.Errorf("format=%s id=%d", d.Format, d.Ref.ID)
		}
		if d.Question == "" || d.Setup == "" || d.Verify == "" {
			t.Errorf("legacy fields not normalized: %+v", d)
		}
		if d.AllowedCommands != nil {
			t.Errorf("legacy task should have no allow-list")
		}
	})

	t.Run("enhanced", func(t *testing.T) {
		d := defs[1]
		if d.Format != FormatEnhanced {
			t.Fatalf("format = %s", d.Format)
		}
		if !reflect.DeepEqual(d.AllowedCommands, []string{"grep", "awk", "cat", "echo"}) {
			t.Errorf("allowed commands = %v", d.AllowedCommands)
		}
		if d.Setup == "" || d.NoiseSetup == "" || d.Verify != "success = True" || d.Level != "easy" {
			t.Errorf("enhanced fields not normalized: %+v", d)
		}
		if got, want := d.Prompt(), "How many lines are in data.txt?\n\nAnswer format example: 42"; got != want {
			t.Errorf("Prompt() = %q, want %q", got, want)
		}
	})

	t.Run("code", func(t *testing.T) {
		if defs[2].Answer != "42" {
			t.Errorf("answer = %q", defs[2].Answer)
		}
	})

	t.Run("dialogue", func(t *testing.T) {
		d := defs[3].Dialogue
		if d == nil {
			t.Fatal("dialogue not detected")
		}
		if len(d.Tools) != 1 || d.Tools[0].Function.Name != "lookup_booking" {
			t.Errorf("tools = %+v", d.Tools)
		}
		if !reflect.DeepEqual(d.Stages, []string{"ask about booking", `{"goal":"refund"}`}) {
			t.Errorf("stages = %v", d.Stages)
		}
	})
}

func TestLoadRejectsUnknownShape(t *testing.T) {
	for name, content := range map[string]string{
		"no identifying field":  `[{"foo": 1}]`,
		"wrong type":            `[{"query": 7}]`,
		"not an array":          `{"query": "x"}`,
		"enhanced w/o question": `[{"task": {"level": "easy"}}]`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTasks(t, content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	got, err := ParseRange("1,3-5,4", 10)
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}
	if want := []int{1, 3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	all, _ := ParseRange("", 3)
	if !reflect.DeepEqual(all, []int{0, 1, 2}) {
		t.Errorf("empty spec = %v", all)
	}
	for _, bad := range []string{"a", "5-2", "0-10", "-1"} {
		if _, err := ParseRange(bad, 10); err == nil {
			t.Errorf("ParseRange(%q) should fail", bad)
		}
	}
}
