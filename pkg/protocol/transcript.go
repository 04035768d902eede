package protocol

import (
	"github.com/boristopalov/agentgym/pkg/core"
)

// Transcript renders a turn history as tagged-protocol messages. The system
// turn is replaced by SystemPrompt(schema, preamble), assistant turns are
// re-rendered canonically from their stored reasoning and calls, and tool
// turns become tool messages wrapped in <tool_response>. Failed agent turns
// carry no content for the model and are skipped; failed tool turns are kept
// so every call keeps its response.
func Transcript(history []core.Turn, schema core.ToolSchema, preamble string) []core.Message {
	msgs := []core.Message{{Role: core.RoleSystem, Content: SystemPrompt(schema, preamble)}}
	for _, t := range history {
		if t.Role == core.RoleAssistant && t.IsError() {
			continue
		}
		switch t.Role {
		case core.RoleSystem:
		case core.RoleUser:
			msgs = append(msgs, core.Message{Role: core.RoleUser, Content: t.Content})
		case core.RoleAssistant:
			msgs = append(msgs, core.Message{Role: core.RoleAssistant, Content: AssistantContent(t)})
		case core.RoleTool:
			msgs = append(msgs, core.Message{Role: core.RoleTool, Content: RenderToolResponse(t.ToolName, t.Content)})
		}
	}
	return msgs
}

// AssistantContent is the canonical text of a recorded assistant turn.
func AssistantContent(t core.Turn) string {
	if t.Reasoning == "" && len(t.ToolCalls) == 0 {
		return t.Content
	}
	return RenderAssistant(Parsed{
		Effort:    t.Effort,
		Reasoning: t.Reasoning,
		Calls:     t.ToolCalls,
		Text:      t.Content,
	})
}
