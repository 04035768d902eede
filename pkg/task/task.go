// Package task loads task data files and normalizes their historical shapes
// into a single Definition.
package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/boristopalov/agentgym/pkg/core"
)

type Format string

const (
	// FormatLegacy is {query, env|env_setup, verify}; code and dialogue tasks
	// are also normalized as legacy since they carry no "task" object.
	FormatLegacy Format = "legacy"
	// FormatEnhanced is {create_env, create_noise_env_appendix, task:{...}}.
	FormatEnhanced Format = "enhanced"
)

// Definition is an immutable, normalized task.
type Definition struct {
	Ref    core.TaskRef `json:"ref"`
	Format Format       `json:"format"`

	Question        string   `json:"question"`
	Setup           string   `json:"setup,omitempty"`
	NoiseSetup      string   `json:"noise_setup,omitempty"`
	Verify          string   `json:"verify,omitempty"`
	Level           string   `json:"level,omitempty"`
	FormatExample   string   `json:"format_example,omitempty"`
	AllowedCommands []string `json:"allowed_commands,omitempty"`
	ReferenceAnswer string   `json:"reference_answer,omitempty"`

	// Answer is the expected final answer of code-execution tasks.
	Answer string `json:"answer,omitempty"`

	Dialogue *Dialogue `json:"dialogue,omitempty"`

	Raw json.RawMessage `json:"raw"`
}

// Dialogue holds the persona script of a simulated-dialogue task.
type Dialogue struct {
	Description     string          `json:"environment_description"`
	Type            string          `json:"environment_type"`
	Tools           []core.WireTool `json:"tools"`
	Stages          []string        `json:"story_stages"`
	Persona         string          `json:"user_persona"`
	TerminalIntents []string        `json:"terminal_intents,omitempty"`
}

// Prompt is the initial user-facing question.
func (d *Definition) Prompt() string {
	if d.FormatExample == "" {
		return d.Question
	}
	return d.Question + "\n\nAnswer format example: " + d.FormatExample
}

type rawTask struct {
	Query     *string         `json:"query"`
	Question  *string         `json:"question"`
	Env       *string         `json:"env"`
	EnvSetup  *string         `json:"env_setup"`
	Verify    *string         `json:"verify"`
	CreateEnv *string         `json:"create_env"`
	Noise     *string         `json:"create_noise_env_appendix"`
	Task      json.RawMessage `json:"task"`
	Answer    json.RawMessage `json:"answer"`

	EnvironmentDescription string            `json:"environment_description"`
	EnvironmentType        string            `json:"environment_type"`
	Tools                  []core.WireTool   `json:"tools"`
	StoryStages            []json.RawMessage `json:"story_stages"`
	UserPersona            *string           `json:"user_persona"`
	TerminalIntents        []string          `json:"terminal_intents"`
}

type rawEnhanced struct {
	Level           string          `json:"level"`
	Question        string          `json:"question"`
	FormatExample   string          `json:"format_example"`
	AllowedCommands []string        `json:"allowed_commands"`
	ReferenceAnswer json.RawMessage `json:"reference_answer"`
	VerifyAnswer    string          `json:"verify_answer"`
}

// Load reads a JSON array of tasks, validates every element against the
// task schema, and normalizes each one.
func Load(path string) ([]*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return Parse(path, content)
}

// Parse is Load over an in-memory file.
func Parse(path string, content []byte) ([]*Definition, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(content, &elems); err != nil {
		return nil, fmt.Errorf("task file %s: expected a JSON array: %w", path, err)
	}
	validator, err := newValidator()
	if err != nil {
		return nil, err
	}
	defs := make([]*Definition, 0, len(elems))
	for i, elem := range elems {
		if err := validator.validate(elem); err != nil {
			return nil, fmt.Errorf("task %d in %s: %w", i, path, err)
		}
		def, err := normalize(core.TaskRef{DataFile: path, ID: i}, elem)
		if err != nil {
			return nil, fmt.Errorf("task %d in %s: %w", i, path, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func normalize(ref core.TaskRef, elem json.RawMessage) (*Definition, error) {
	var raw rawTask
	if err := json.Unmarshal(elem, &raw); err != nil {
		return nil, err
	}
	def := &Definition{Ref: ref, Raw: elem, Format: FormatLegacy}

	if isObject(raw.Task) {
		var enh rawEnhanced
		if err := json.Unmarshal(raw.Task, &enh); err != nil {
			return nil, err
		}
		def.Format = FormatEnhanced
		def.Question = enh.Question
		def.Level = enh.Level
		def.FormatExample = enh.FormatExample
		def.AllowedCommands = enh.AllowedCommands
		def.ReferenceAnswer = scalarText(enh.ReferenceAnswer)
		def.Verify = enh.VerifyAnswer
		def.Setup = deref(raw.CreateEnv)
		def.NoiseSetup = deref(raw.Noise)
		return def, nil
	}

	def.Question = firstNonEmpty(deref(raw.Query), deref(raw.Question))
	def.Setup = firstNonEmpty(deref(raw.EnvSetup), deref(raw.Env))
	def.Verify = deref(raw.Verify)
	def.Answer = scalarText(raw.Answer)

	if raw.UserPersona != nil {
		d := &Dialogue{
			Description:     raw.EnvironmentDescription,
			Type:            raw.EnvironmentType,
			Tools:           raw.Tools,
			Persona:         *raw.UserPersona,
			TerminalIntents: raw.TerminalIntents,
		}
		for _, s := range raw.StoryStages {
			d.Stages = append(d.Stages, scalarText(s))
		}
		def.Dialogue = d
	}
	return def, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// scalarText renders strings unquoted and anything else as compact JSON.
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
