package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	StatusRunning    Status = "running"
	StatusDone       Status = "done"
	StatusTruncated  Status = "truncated"
	StatusAgentError Status = "agent_error"
	StatusEnvError   Status = "env_error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status ends an episode.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != ""
}

// TaskRef identifies a task inside a data file.
type TaskRef struct {
	DataFile string `json:"data_file"`
	ID       int    `json:"task_id"`
}

var ErrTrajectorySealed = errors.New("trajectory is sealed")

// Trajectory is the append-only record of one episode. The runner owns it
// while the episode runs; once sealed it is read-only.
type Trajectory struct {
	EpisodeID   string  `json:"episode_id"`
	Task        TaskRef `json:"task"`
	Environment string  `json:"environment"`
	MaxTurns    int     `json:"max_turns"`
	// Tools is the full schema the episode ran with, including the command
	// arguments the allow-list is matched against.
	Tools           *ToolSchema    `json:"tool_schema,omitempty"`
	AllowedCommands []string       `json:"allowed_commands,omitempty"`
	Turns           []Turn         `json:"turns"`
	Status          Status         `json:"status"`
	Success         bool           `json:"success"`
	TotalReward     float64        `json:"total_reward"`
	AgentTurns      int            `json:"agent_turns"`
	Steps           int            `json:"steps"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	mu sync.RWMutex
}

func NewTrajectory(episodeID string, task TaskRef, now time.Time) *Trajectory {
	return &Trajectory{
		EpisodeID: episodeID,
		Task:      task,
		Status:    StatusRunning,
		StartedAt: now,
	}
}

// Append adds a turn, assigning its index.
func (t *Trajectory) Append(turn Turn) (Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status.Terminal() {
		return Turn{}, ErrTrajectorySealed
	}
	turn.Index = len(t.Turns)
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	if turn.Role == RoleAssistant && !turn.IsError() {
		t.AgentTurns++
	}
	t.Turns = append(t.Turns, turn)
	return turn, nil
}

// AddReward accounts one environment step.
func (t *Trajectory) AddReward(r float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TotalReward += r
	t.Steps++
}

// Seal sets the terminal status. Sealing twice keeps the first status.
func (t *Trajectory) Seal(status Status, now time.Time, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status.Terminal() {
		return
	}
	t.Status = status
	t.EndedAt = now
	if cause != nil {
		t.Error = cause.Error()
	}
	t.Success = status == StatusDone && t.TotalReward > 0.5
}

func (t *Trajectory) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status.Terminal()
}

// Snapshot returns a copy of the turns.
func (t *Trajectory) Snapshot() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.Turns))
	copy(out, t.Turns)
	return out
}

// DispatchedCalls returns, in order, every tool call whose result came from
// the environment rather than from validation.
func (t *Trajectory) DispatchedCalls() []ToolCall {
	turns := t.Snapshot()
	pending := map[string]ToolCall{}
	var out []ToolCall
	for _, turn := range turns {
		switch turn.Role {
		case RoleAssistant:
			for _, c := range turn.ToolCalls {
				pending[c.ID] = c
			}
		case RoleTool:
			if turn.Metadata["dispatched"] != true {
				continue
			}
			if c, ok := pending[turn.ToolCallID]; ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// Verdict is the validation outcome for one recorded call.
type Verdict struct {
	Call ToolCall
	Err  error
}

// Revalidate re-derives validation verdicts for every recorded call using
// only the stored turns.
func (t *Trajectory) Revalidate(schema ToolSchema, allowList []string) []Verdict {
	var out []Verdict
	for _, turn := range t.Snapshot() {
		if turn.Role != RoleAssistant {
			continue
		}
		for _, c := range turn.ToolCalls {
			_, err := schema.CheckCall(c, allowList)
			out = append(out, Verdict{Call: c, Err: err})
		}
	}
	return out
}

// ToolSchema returns the schema the episode ran with. Records written without
// the full schema fall back to the wire form of the system turn, which carries
// no command arguments.
func (t *Trajectory) ToolSchema() (ToolSchema, error) {
	t.mu.RLock()
	tools := t.Tools
	t.mu.RUnlock()
	if tools != nil {
		return *tools, nil
	}
	for _, turn := range t.Snapshot() {
		if turn.Role != RoleSystem {
			continue
		}
		var wire []WireTool
		if err := json.Unmarshal([]byte(turn.Content), &wire); err != nil {
			return ToolSchema{}, fmt.Errorf("decode tool schema: %w", err)
		}
		return FromWireFormat(wire), nil
	}
	return ToolSchema{}, fmt.Errorf("episode %s has no system turn", t.EpisodeID)
}
