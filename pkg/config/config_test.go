package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DEEPSEEK_API_KEY", "ds-env")

	t.Run("defaults", func(t *testing.T) {
		c, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		if c.Runner.MaxTurns != 20 || c.Runner.AgentRetries != 2 || c.Runner.Workers != 1 {
			t.Errorf("runner = %+v", c.Runner)
		}
		if c.Synth.CorrectiveRetries != 1 || c.Synth.MaxTurns != 20 {
			t.Errorf("synth = %+v", c.Synth)
		}
		if c.Agent.APIKey != "sk-env" || c.Synth.APIKey != "ds-env" {
			t.Errorf("keys = %q %q", c.Agent.APIKey, c.Synth.APIKey)
		}
	})

	t.Run("file overrides", func(t *testing.T) {
		path := writeConfig(t, `
data: tasks.json
runner:
  max_turns: 5
  agent_retries: 0
  step_timeout: 90s
  workers: 8
environment:
  type: code
  sandbox_url: http://localhost:8080
synth:
  provider: gemini
  corrective_retries: 0
  api_key: from-file
logging:
  level: debug
`)
		c, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if c.Data != "tasks.json" || c.Runner.MaxTurns != 5 || c.Runner.Workers != 8 {
			t.Errorf("config = %+v", c)
		}
		if c.Runner.AgentRetries != 0 || c.Synth.CorrectiveRetries != 0 {
			t.Errorf("explicit zero retries lost: %d %d", c.Runner.AgentRetries, c.Synth.CorrectiveRetries)
		}
		if c.Runner.StepTimeout != 90*time.Second {
			t.Errorf("step timeout = %v", c.Runner.StepTimeout)
		}
		if c.Synth.MaxTurns != 5 {
			t.Errorf("synth max turns = %d, want runner's", c.Synth.MaxTurns)
		}
		if c.Synth.APIKey != "from-file" {
			t.Errorf("synth key = %q", c.Synth.APIKey)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "runner:\n  max_turn: 3\n")); err == nil {
			t.Error("typo accepted")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("missing file accepted")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		c, err := Load(writeConfig(t, ""))
		if err != nil {
			t.Fatal(err)
		}
		if c.Environment.Type != "auto" {
			t.Errorf("environment type = %q", c.Environment.Type)
		}
	})
}
