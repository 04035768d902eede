package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RunConfig struct {
	Data  string `yaml:"data"`
	Tasks string `yaml:"tasks"`
	Out   string `yaml:"out"`

	Agent       AgentConfig     `yaml:"agent"`
	Runner      RunnerConfig    `yaml:"runner"`
	Environment EnvConfig       `yaml:"environment"`
	Synth       SynthConfig     `yaml:"synth"`
	Providers   ProvidersConfig `yaml:"providers"`
	Logging     LogConfig       `yaml:"logging"`
}

type AgentConfig struct {
	// Kind is "openai" for native tool calling or "tagged" for the text protocol.
	Kind         string  `yaml:"kind"`
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
}

type RunnerConfig struct {
	MaxTurns     int           `yaml:"max_turns"`
	AgentRetries int           `yaml:"agent_retries"`
	AgentTimeout time.Duration `yaml:"agent_timeout"`
	StepTimeout  time.Duration `yaml:"step_timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Workers      int           `yaml:"workers"`
}

type EnvConfig struct {
	Type         string        `yaml:"type"`
	ShellTimeout time.Duration `yaml:"shell_timeout"`
	CodeTimeout  time.Duration `yaml:"code_timeout"`
	TempDir      string        `yaml:"temp_dir"`
	// SandboxURL selects the HTTP code sandbox; empty runs python3 locally.
	SandboxURL string        `yaml:"sandbox_url"`
	Persona    PersonaConfig `yaml:"persona"`
}

// PersonaConfig drives the simulated user of dialogue tasks. Without a
// model the scripted persona is used.
type PersonaConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Retries int    `yaml:"retries"`
}

type SynthConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "gemini".
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	Preamble          string `yaml:"preamble"`
	CorrectiveRetries int    `yaml:"corrective_retries"`
	MaxTurns          int    `yaml:"max_turns"`
	RequireSuccess    bool   `yaml:"require_success"`
}

type ProvidersConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *RunConfig {
	c := blank()
	c.applyDefaults()
	return c
}

// blank marks the counts where zero is a meaningful setting as unset.
func blank() *RunConfig {
	c := &RunConfig{}
	c.Runner.AgentRetries = -1
	c.Synth.CorrectiveRetries = -1
	c.Environment.Persona.Retries = -1
	return c
}

func (c *RunConfig) applyDefaults() {
	if c.Out == "" {
		c.Out = "results"
	}
	if c.Agent.Kind == "" {
		c.Agent.Kind = "openai"
	}
	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4o-mini"
	}
	if c.Runner.MaxTurns <= 0 {
		c.Runner.MaxTurns = 20
	}
	if c.Runner.AgentRetries < 0 {
		c.Runner.AgentRetries = 2
	}
	if c.Runner.AgentTimeout <= 0 {
		c.Runner.AgentTimeout = 2 * time.Minute
	}
	if c.Runner.StepTimeout <= 0 {
		c.Runner.StepTimeout = time.Minute
	}
	if c.Runner.RetryBackoff <= 0 {
		c.Runner.RetryBackoff = time.Second
	}
	if c.Runner.Workers <= 0 {
		c.Runner.Workers = 1
	}
	if c.Environment.Type == "" {
		c.Environment.Type = "auto"
	}
	if c.Environment.ShellTimeout <= 0 {
		c.Environment.ShellTimeout = 30 * time.Second
	}
	if c.Environment.CodeTimeout <= 0 {
		c.Environment.CodeTimeout = 30 * time.Second
	}
	if c.Environment.Persona.Retries < 0 {
		c.Environment.Persona.Retries = 3
	}
	if c.Synth.Provider == "" {
		c.Synth.Provider = "openai"
	}
	if c.Synth.Model == "" {
		c.Synth.Model = "deepseek-reasoner"
	}
	if c.Synth.CorrectiveRetries < 0 {
		c.Synth.CorrectiveRetries = 1
	}
	if c.Synth.MaxTurns <= 0 {
		c.Synth.MaxTurns = c.Runner.MaxTurns
	}
	if c.Providers.MaxConcurrency <= 0 {
		c.Providers.MaxConcurrency = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnv fills credentials left empty from the environment.
func (c *RunConfig) applyEnv() {
	fill := func(dst *string, keys ...string) {
		for _, k := range keys {
			if *dst != "" {
				return
			}
			*dst = os.Getenv(k)
		}
	}
	fill(&c.Agent.APIKey, "OPENAI_API_KEY")
	fill(&c.Agent.BaseURL, "OPENAI_API_BASE_URL")
	fill(&c.Environment.Persona.APIKey, "OPENAI_API_KEY")
	fill(&c.Environment.Persona.BaseURL, "OPENAI_API_BASE_URL")
	if c.Synth.Provider == "gemini" {
		fill(&c.Synth.APIKey, "GEMINI_API_KEY")
	} else {
		fill(&c.Synth.APIKey, "DEEPSEEK_API_KEY", "OPENAI_API_KEY")
	}
}

// Load reads a YAML configuration. An empty path yields the defaults. Unknown
// keys are an error.
func Load(path string) (*RunConfig, error) {
	c := blank()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyDefaults()
	c.applyEnv()
	return c, nil
}

// LoadDotEnv loads the first .env file found in the working directory or
// up to two parents, and returns its path.
func LoadDotEnv() string {
	for _, envFile := range []string{
		".env",
		"../.env",
		"../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			return envFile
		}
	}
	return ""
}
