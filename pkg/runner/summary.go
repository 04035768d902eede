package runner

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
)

// Result is the per-task line of a batch report.
type Result struct {
	TaskID     int           `json:"task_id"`
	EpisodeID  string        `json:"episode_id"`
	Status     core.Status   `json:"status"`
	Success    bool          `json:"success"`
	Reward     float64       `json:"reward"`
	AgentTurns int           `json:"agent_turns"`
	Steps      int           `json:"steps"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Trajectory string        `json:"trajectory,omitempty"`
}

func resultOf(tr *core.Trajectory) Result {
	return Result{
		TaskID:     tr.Task.ID,
		EpisodeID:  tr.EpisodeID,
		Status:     tr.Status,
		Success:    tr.Success,
		Reward:     tr.TotalReward,
		AgentTurns: tr.AgentTurns,
		Steps:      tr.Steps,
		Duration:   tr.EndedAt.Sub(tr.StartedAt),
		Error:      tr.Error,
	}
}

// Summary aggregates a batch.
type Summary struct {
	Runner        string              `json:"runner"`
	DataFile      string              `json:"data_file"`
	Tasks         int                 `json:"total_tasks"`
	Succeeded     int                 `json:"successful_tasks"`
	Skipped       int                 `json:"skipped_tasks"`
	SuccessRate   float64             `json:"success_rate"`
	TotalReward   float64             `json:"total_reward"`
	AverageReward float64             `json:"average_reward"`
	RewardStdDev  float64             `json:"reward_std_dev"`
	AverageTurns  float64             `json:"average_turns"`
	StatusCounts  map[core.Status]int `json:"status_counts"`
	StartedAt     time.Time           `json:"started_at"`
	Duration      time.Duration       `json:"total_time"`
	Results       []Result            `json:"task_results"`
}

// Summarize computes the aggregate statistics over results.
func Summarize(results []Result) *Summary {
	s := &Summary{
		Tasks:        len(results),
		StatusCounts: make(map[core.Status]int),
		Results:      results,
	}
	if len(results) == 0 {
		return s
	}
	turns := 0
	for _, r := range results {
		s.StatusCounts[r.Status]++
		s.TotalReward += r.Reward
		turns += r.AgentTurns
		if r.Success {
			s.Succeeded++
		}
	}
	n := float64(len(results))
	s.SuccessRate = float64(s.Succeeded) / n
	s.AverageReward = s.TotalReward / n
	s.AverageTurns = float64(turns) / n

	var sumSquares float64
	for _, r := range results {
		diff := r.Reward - s.AverageReward
		sumSquares += diff * diff
	}
	s.RewardStdDev = math.Sqrt(sumSquares / n)
	return s
}

// Failed reports whether any episode ended irrecoverably or never ran.
// Truncated episodes and wrong answers count as run.
func (s *Summary) Failed() bool {
	return s.FailedCount() > 0 || s.Skipped > 0
}

func (s *Summary) FailedCount() int {
	return s.StatusCounts[core.StatusAgentError] + s.StatusCounts[core.StatusEnvError] + s.StatusCounts[core.StatusCancelled]
}

var csvHeader = []string{"TaskID", "EpisodeID", "Status", "Success", "Reward", "AgentTurns", "Steps", "DurationSeconds", "Error"}

// WriteCSV writes one row per task.
func (s *Summary) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create stats file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write(csvHeader)
	for _, r := range s.Results {
		w.Write([]string{
			strconv.Itoa(r.TaskID),
			r.EpisodeID,
			string(r.Status),
			strconv.FormatBool(r.Success),
			strconv.FormatFloat(r.Reward, 'f', 2, 64),
			strconv.Itoa(r.AgentTurns),
			strconv.Itoa(r.Steps),
			strconv.FormatFloat(r.Duration.Seconds(), 'f', 3, 64),
			r.Error,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write stats file: %w", err)
	}
	return f.Close()
}
