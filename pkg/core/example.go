package core

import (
	"fmt"
	"strings"
)

// TrainingExample is the only artifact persisted for model training.
type TrainingExample struct {
	Messages []Message `json:"messages"`
}

// ToolResponseTag opens the tagged form of a tool result.
func ToolResponseTag(name string) string {
	return fmt.Sprintf("<tool_response name=%q>", name)
}

// Validate enforces the canonical ordering: system, then user, then a
// strictly ordered sequence where every assistant message that carries tool
// calls is followed by one tool response per call, in call order. calls maps
// the index of each such assistant message to the names of its calls.
func (e TrainingExample) Validate(calls map[int][]string) error {
	if len(e.Messages) < 3 {
		return fmt.Errorf("training example: need at least system, user and assistant messages, got %d", len(e.Messages))
	}
	if e.Messages[0].Role != RoleSystem {
		return fmt.Errorf("training example: first message must be system, got %s", e.Messages[0].Role)
	}
	if e.Messages[1].Role != RoleUser {
		return fmt.Errorf("training example: second message must be user, got %s", e.Messages[1].Role)
	}
	for i := 2; i < len(e.Messages); i++ {
		m := e.Messages[i]
		switch m.Role {
		case RoleAssistant:
			names := calls[i]
			for j, name := range names {
				k := i + j + 1
				if k >= len(e.Messages) || e.Messages[k].Role != RoleTool {
					return fmt.Errorf("training example: assistant message %d made %d calls but tool response %d is missing", i, len(names), j+1)
				}
				if !strings.HasPrefix(e.Messages[k].Content, ToolResponseTag(name)) {
					return fmt.Errorf("training example: tool response %d does not answer call %d (%s) of assistant message %d", k, j+1, name, i)
				}
			}
			i += len(names)
		case RoleTool:
			return fmt.Errorf("training example: tool message %d does not follow a tool-calling assistant message", i)
		case RoleUser:
			if e.Messages[i-1].Role == RoleUser {
				return fmt.Errorf("training example: consecutive user messages at %d", i)
			}
		default:
			return fmt.Errorf("training example: unexpected role %q at %d", m.Role, i)
		}
	}
	if last := e.Messages[len(e.Messages)-1].Role; last != RoleAssistant && last != RoleTool {
		return fmt.Errorf("training example: must end with an assistant or tool message, got %s", last)
	}
	return nil
}
