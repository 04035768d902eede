package core

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// ToolDescriptor describes one callable tool.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	// CommandArg names the parameter carrying a shell command line, if any.
	// Allow-lists are matched against the verbs of that command line.
	CommandArg string `json:"command_arg,omitempty"`
}

type ToolSchema struct {
	Tools []ToolDescriptor `json:"tools"`
}

func NewToolSchema(tools ...ToolDescriptor) ToolSchema {
	return ToolSchema{Tools: tools}
}

// Validate checks that tool names are non-empty and unique.
func (s ToolSchema) Validate() error {
	seen := make(map[string]bool, len(s.Tools))
	for _, t := range s.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool schema: empty tool name")
		}
		if seen[t.Name] {
			return fmt.Errorf("tool schema: duplicate tool %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

func (s ToolSchema) Lookup(name string) (ToolDescriptor, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

func (s ToolSchema) Names() []string {
	names := make([]string, 0, len(s.Tools))
	for _, t := range s.Tools {
		names = append(names, t.Name)
	}
	return names
}

// WireTool is the function-calling shape sent to model APIs.
type WireTool struct {
	Type     string       `json:"type"`
	Function WireFunction `json:"function"`
}

type WireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// WireFormat renders the schema as an ordered list of function tools.
func (s ToolSchema) WireFormat() []WireTool {
	out := make([]WireTool, 0, len(s.Tools))
	for _, t := range s.Tools {
		out = append(out, WireTool{
			Type: "function",
			Function: WireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		})
	}
	return out
}

// JSONSchema renders the parameter list as a JSON-schema object.
func (t ToolDescriptor) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	required := []string{}
	for _, p := range t.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// FromWireFormat converts function tools back into a schema. It accepts the
// loosely typed shape found in task files.
func FromWireFormat(tools []WireTool) ToolSchema {
	var schema ToolSchema
	for _, wt := range tools {
		d := ToolDescriptor{Name: wt.Function.Name, Description: wt.Function.Description}
		props, _ := wt.Function.Parameters["properties"].(map[string]any)
		required := map[string]bool{}
		switch list := wt.Function.Parameters["required"].(type) {
		case []any:
			for _, r := range list {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		case []string:
			for _, s := range list {
				required[s] = true
			}
		}
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			p := Parameter{Name: name, Type: TypeString, Required: required[name]}
			if m, ok := props[name].(map[string]any); ok {
				if typ, ok := m["type"].(string); ok {
					p.Type = ParamType(typ)
				}
				p.Description, _ = m["description"].(string)
				p.Default = m["default"]
			}
			d.Parameters = append(d.Parameters, p)
		}
		schema.Tools = append(schema.Tools, d)
	}
	return schema
}

// CheckCall decides whether call may reach the environment. It returns the
// parsed arguments, or an error of kind ErrToolCallValidation naming the
// reason: unknown tool, unparsable arguments, missing required parameter,
// mistyped parameter, or a verb outside the allow-list.
func (s ToolSchema) CheckCall(call ToolCall, allowList []string) (map[string]any, error) {
	tool, ok := s.Lookup(call.Name)
	if !ok {
		return nil, Errorf(ErrToolCallValidation, call.Name,
			"unknown tool %q; available tools: %s", call.Name, strings.Join(s.Names(), ", "))
	}

	args, err := call.ParseArguments()
	if err != nil {
		return nil, err
	}

	for _, p := range tool.Parameters {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, Errorf(ErrToolCallValidation, call.Name, "missing required parameter %q", p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return nil, Errorf(ErrToolCallValidation, call.Name,
				"parameter %q must be %s, got %T", p.Name, p.Type, v)
		}
	}

	if len(allowList) > 0 && !allowed(tool, args, allowList) {
		return nil, Errorf(ErrToolCallValidation, call.Name,
			"%s is not allowed; allowed commands: %s", describeVerbs(tool, args), strings.Join(allowList, ", "))
	}
	return args, nil
}

func allowed(tool ToolDescriptor, args map[string]any, allowList []string) bool {
	if slices.Contains(allowList, tool.Name) {
		return true
	}
	if tool.CommandArg == "" {
		return false
	}
	line, _ := args[tool.CommandArg].(string)
	verbs, err := CommandVerbs(line)
	if err != nil || len(verbs) == 0 {
		return false
	}
	for _, v := range verbs {
		if !slices.Contains(allowList, v) {
			return false
		}
	}
	return true
}

func describeVerbs(tool ToolDescriptor, args map[string]any) string {
	if tool.CommandArg == "" {
		return fmt.Sprintf("tool %q", tool.Name)
	}
	line, _ := args[tool.CommandArg].(string)
	verbs, err := CommandVerbs(line)
	if err != nil || len(verbs) == 0 {
		return fmt.Sprintf("command line %q", line)
	}
	return fmt.Sprintf("command %q", strings.Join(verbs, " | "))
}

func typeMatches(t ParamType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	}
	return true
}
