package protocol

import (
	"encoding/json"
	"strings"

	"github.com/boristopalov/agentgym/pkg/core"
)

const grammar = `## Output format
Every response starts with a reasoning block, followed by tool calls or by your final answer.

<think type="EFFORT">
your analysis and plan
</think>

EFFORT is one of:
- extensive: deep analysis and multi-step planning
- moderate: some analysis, relatively simple
- minimal: a quick, direct decision

## Tool calls
Call one or more tools, one JSON object per block:
<tool_call>
{"name": "tool_name", "arguments": {"parameter": "value"}}
</tool_call>

Tool results come back as:
<tool_response name="tool_name">result</tool_response>

When the task is complete, reply with the reasoning block followed by your final answer and no tool_call block.`

// SystemPrompt renders the instructions of the tagged protocol together with
// the episode's tools. preamble replaces the default role description.
func SystemPrompt(schema core.ToolSchema, preamble string) string {
	if preamble == "" {
		preamble = "You are an intelligent assistant that completes tasks by calling the tools below."
	}
	tools, err := json.MarshalIndent(schema.WireFormat(), "", "  ")
	if err != nil {
		tools = []byte("[]")
	}
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n## Available tools\n")
	b.Write(tools)
	b.WriteString("\n\n")
	b.WriteString(grammar)
	return b.String()
}

// Corrective is sent after a response that failed to parse.
func Corrective(err error) string {
	return "Your previous response could not be parsed (" + err.Error() + "). " +
		"Reply again following the output format exactly: a <think type=\"minimal|moderate|extensive\"> block, " +
		"then either <tool_call> blocks containing one JSON object with \"name\" and \"arguments\", or your final answer."
}
