package synth

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/runner"
	"github.com/boristopalov/agentgym/pkg/store"
	"github.com/boristopalov/agentgym/pkg/task"
)

const (
	TrainingFile = "training.jsonl"
	FailuresFile = "failures.jsonl"
	SummaryFile  = "synthesis_summary.json"
)

// Report summarizes a synthesis run.
type Report struct {
	Tasks    int             `json:"total_tasks"`
	Examples int             `json:"examples"`
	Failures int             `json:"failures"`
	Messages int64           `json:"messages"`
	Duration time.Duration   `json:"total_time"`
	Episodes *runner.Summary `json:"episodes"`
}

// Run synthesizes defs on workers parallel episodes. Examples are appended to
// training.jsonl and failures to failures.jsonl under outDir as soon as each
// episode ends, so an interrupted run keeps what it finished.
func (s *Synthesizer) Run(ctx context.Context, defs []*task.Definition, outDir string, workers int) (*Report, error) {
	start := time.Now()
	training, err := store.OpenJSONL(filepath.Join(outDir, TrainingFile))
	if err != nil {
		return nil, err
	}
	defer training.Close()
	failures, err := store.OpenJSONL(filepath.Join(outDir, FailuresFile))
	if err != nil {
		return nil, err
	}
	defer failures.Close()

	var messages atomic.Int64
	batch := &runner.Batch{
		Runner:  s.runner,
		Workers: workers,
		OutDir:  outDir,
		Logger:  s.logger,
		Sink: func(tr *core.Trajectory) error {
			ex, f := s.Assemble(tr)
			if f != nil {
				s.logger.Warn("synthesis failed", "task", f.Task.ID, "status", f.Status, "reason", f.Reason)
				return failures.Append(f)
			}
			messages.Add(int64(len(ex.Messages)))
			return training.Append(ex)
		},
	}
	summary, err := batch.Run(ctx, defs)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Tasks:    len(defs),
		Examples: training.Count(),
		Failures: failures.Count(),
		Messages: messages.Load(),
		Duration: time.Since(start),
		Episodes: summary,
	}
	if err := store.WriteJSONAtomic(filepath.Join(outDir, SummaryFile), report); err != nil {
		return report, err
	}
	return report, nil
}
