package core

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestTrajectory(t *testing.T) {
	t.Run("append assigns indexes and seal freezes", func(t *testing.T) {
		tr := NewTrajectory("ep", TaskRef{DataFile: "tasks.json", ID: 3}, time.Now())
		for _, role := range []Role{RoleSystem, RoleUser, RoleAssistant} {
			if _, err := tr.Append(Turn{Role: role}); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		if tr.AgentTurns != 1 {
			t.Errorf("AgentTurns = %d, want 1", tr.AgentTurns)
		}
		tr.AddReward(1)
		tr.Seal(StatusDone, time.Now(), nil)
		if !tr.Success {
			t.Error("done episode with reward 1 should be a success")
		}
		if _, err := tr.Append(Turn{Role: RoleUser}); !errors.Is(err, ErrTrajectorySealed) {
			t.Fatalf("expected ErrTrajectorySealed, got %v", err)
		}
		tr.Seal(StatusTruncated, time.Now(), nil)
		if tr.Status != StatusDone {
			t.Errorf("second seal changed status to %s", tr.Status)
		}
		for i, turn := range tr.Snapshot() {
			if turn.Index != i {
				t.Errorf("turn %d has index %d", i, turn.Index)
			}
		}
	})

	t.Run("recorded schema keeps command arguments", func(t *testing.T) {
		schema := shellSchema()
		tr := NewTrajectory("ep", TaskRef{ID: 0}, time.Now())
		tr.Tools = &schema
		tr.AllowedCommands = []string{"grep", "cat"}
		wire, _ := json.Marshal(schema.WireFormat())
		tr.Append(Turn{Role: RoleSystem, Content: string(wire)})
		call := NewToolCall("c0", "execute_shell", map[string]any{"command": "grep -c R a.txt"})
		tr.Append(Turn{Role: RoleAssistant, ToolCalls: []ToolCall{call}})
		tr.Seal(StatusDone, time.Now(), nil)

		raw, err := json.Marshal(tr)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var back Trajectory
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		got, err := back.ToolSchema()
		if err != nil {
			t.Fatalf("ToolSchema: %v", err)
		}
		if shell, _ := got.Lookup("execute_shell"); shell.CommandArg != "command" {
			t.Fatalf("command argument lost: %+v", shell)
		}
		for _, v := range back.Revalidate(got, back.AllowedCommands) {
			if v.Err != nil {
				t.Errorf("allowed call rejected from the record: %v", v.Err)
			}
		}

		back.Tools = nil
		wireOnly, err := back.ToolSchema()
		if err != nil {
			t.Fatalf("ToolSchema from the system turn: %v", err)
		}
		if !reflect.DeepEqual(wireOnly.Names(), schema.Names()) {
			t.Errorf("names = %v", wireOnly.Names())
		}
	})

	t.Run("stored calls round trip", func(t *testing.T) {
		tr := NewTrajectory("ep", TaskRef{ID: 0}, time.Now())
		good := NewToolCall("c0", "execute_shell", map[string]any{"command": "echo hi"})
		bad := ParseToolCall("c1", "execute_shell", `{"command":`)
		unknown := ParseToolCall("c2", "nope", `{}`)
		tr.Append(Turn{Role: RoleAssistant, ToolCalls: []ToolCall{good, bad, unknown}})
		tr.Append(Turn{Role: RoleTool, ToolCallID: "c0", ToolName: "execute_shell", Metadata: map[string]any{"dispatched": true}})
		tr.Append(Turn{Role: RoleTool, ToolCallID: "c1", ToolName: "execute_shell", Error: "bad"})
		tr.Append(Turn{Role: RoleTool, ToolCallID: "c2", ToolName: "nope", Error: "unknown"})
		tr.Seal(StatusDone, time.Now(), nil)

		raw, err := json.Marshal(tr)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var back Trajectory
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}

		calls := back.DispatchedCalls()
		if len(calls) != 1 || calls[0].ID != "c0" {
			t.Fatalf("DispatchedCalls() = %+v", calls)
		}
		if !reflect.DeepEqual(calls[0].Arguments, good.Arguments) {
			t.Errorf("arguments = %v, want %v", calls[0].Arguments, good.Arguments)
		}

		schema := NewToolSchema(ToolDescriptor{
			Name:       "execute_shell",
			Parameters: []Parameter{{Name: "command", Type: TypeString, Required: true}},
		})
		verdicts := back.Revalidate(schema, nil)
		if len(verdicts) != 3 {
			t.Fatalf("got %d verdicts", len(verdicts))
		}
		if verdicts[0].Err != nil {
			t.Errorf("good call: %v", verdicts[0].Err)
		}
		if !errors.Is(verdicts[1].Err, ErrArgumentParse) {
			t.Errorf("bad call: %v", verdicts[1].Err)
		}
		if !errors.Is(verdicts[2].Err, ErrToolCallValidation) {
			t.Errorf("unknown call: %v", verdicts[2].Err)
		}
	})
}

func TestTrainingExampleValidate(t *testing.T) {
	tool := func(name string) Message {
		return Message{Role: RoleTool, Content: ToolResponseTag(name) + "x</tool_response>"}
	}
	msgs := []Message{
		{Role: RoleSystem}, {Role: RoleUser}, {Role: RoleAssistant},
		tool("read_file"), tool("head"), {Role: RoleAssistant},
	}
	ex := TrainingExample{Messages: msgs}
	if err := ex.Validate(map[int][]string{2: {"read_file", "head"}}); err != nil {
		t.Fatalf("valid example rejected: %v", err)
	}
	if err := ex.Validate(map[int][]string{2: {"read_file", "head", "head"}}); err == nil {
		t.Error("missing tool message not detected")
	}
	if err := ex.Validate(map[int][]string{2: {"read_file"}}); err == nil {
		t.Error("orphan tool message not detected")
	}
	if err := ex.Validate(map[int][]string{2: {"head", "read_file"}}); err == nil {
		t.Error("swapped tool responses not detected")
	}
	bad := TrainingExample{Messages: []Message{{Role: RoleUser}, {Role: RoleSystem}, {Role: RoleAssistant}}}
	if err := bad.Validate(nil); err == nil {
		t.Error("wrong leading roles not detected")
	}
}
