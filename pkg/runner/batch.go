package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/store"
	"github.com/boristopalov/agentgym/pkg/task"
)

// ErrBatchFailed reports that at least one episode of a batch ended with an
// agent or environment failure, or was cancelled.
var ErrBatchFailed = errors.New("batch had failed episodes")

const (
	TrajectoryDir = "trajectories"
	ResultsFile   = "results.jsonl"
	SummaryFile   = "summary.json"
	StatsFile     = "stats.csv"
)

// Batch runs many episodes on a bounded worker pool. Each episode gets its
// own environment; the runner, the results stream and the optional sink are
// shared.
type Batch struct {
	Runner  *Runner
	Workers int
	// OutDir receives one trajectory file per episode plus results.jsonl.
	// Nothing is written when it is empty.
	OutDir string
	Logger *slog.Logger
	// Sink, if set, is called from the worker goroutine with every sealed
	// trajectory. A sink error is logged and does not stop the batch.
	Sink func(*core.Trajectory) error
}

type job struct {
	idx int
	def *task.Definition
}

type jobResult struct {
	idx int
	r   Result
}

// Run executes defs and returns their summary. Results keep the order of
// defs. On cancellation no new episodes start, in-flight episodes end as
// cancelled, and tasks that never started are counted as skipped. The
// returned error reports output failures only.
func (b *Batch) Run(ctx context.Context, defs []*task.Definition) (*Summary, error) {
	logger := b.Logger
	if logger == nil {
		logger = b.Runner.logger
	}
	workers := b.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(defs) {
		workers = max(len(defs), 1)
	}

	var results *store.JSONL
	if b.OutDir != "" {
		var err error
		results, err = store.OpenJSONL(filepath.Join(b.OutDir, ResultsFile))
		if err != nil {
			return nil, err
		}
		defer results.Close()
	}

	started := b.Runner.now()
	jobs := make(chan job)
	out := make(chan jobResult)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				out <- jobResult{idx: j.idx, r: b.runOne(ctx, logger, results, j.def)}
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(out)
		}()
		for i, def := range defs {
			select {
			case <-ctx.Done():
				return
			case jobs <- job{idx: i, def: def}:
			}
		}
	}()

	collected := make([]*Result, len(defs))
	seen := 0
	for jr := range out {
		r := jr.r
		collected[jr.idx] = &r
		seen++
		logger.Info("task finished",
			"progress", fmt.Sprintf("%d/%d", seen, len(defs)),
			"task", r.TaskID,
			"status", r.Status,
			"reward", r.Reward)
	}

	ran := make([]Result, 0, seen)
	for _, r := range collected {
		if r != nil {
			ran = append(ran, *r)
		}
	}
	summary := Summarize(ran)
	summary.Runner = b.Runner.name
	summary.Skipped = len(defs) - seen
	summary.StartedAt = started
	summary.Duration = b.Runner.now().Sub(started)
	if summary.Skipped > 0 {
		logger.Warn("batch interrupted", "skipped", summary.Skipped)
	}
	return summary, nil
}

func (b *Batch) runOne(ctx context.Context, logger *slog.Logger, results *store.JSONL, def *task.Definition) Result {
	start := time.Now()
	tr, err := b.Runner.RunEpisode(ctx, def)
	if err != nil {
		return Result{Status: core.StatusEnvError, Error: err.Error(), Duration: time.Since(start)}
	}
	r := resultOf(tr)

	if b.OutDir != "" {
		path := filepath.Join(b.OutDir, TrajectoryDir, fmt.Sprintf("%d_%s.json", tr.Task.ID, tr.EpisodeID))
		if err := store.WriteJSONAtomic(path, tr); err != nil {
			logger.Error("failed to save trajectory", "task", tr.Task.ID, "err", err)
		} else {
			r.Trajectory = path
		}
		if err := results.Append(r); err != nil {
			logger.Error("failed to append result", "task", tr.Task.ID, "err", err)
		}
	}
	if b.Sink != nil {
		if err := b.Sink(tr); err != nil {
			logger.Error("trajectory sink failed", "task", tr.Task.ID, "err", err)
		}
	}
	return r
}

// Write stores the summary as summary.json and stats.csv under dir.
func (s *Summary) Write(dir string) error {
	if err := store.WriteJSONAtomic(filepath.Join(dir, SummaryFile), s); err != nil {
		return err
	}
	return s.WriteCSV(filepath.Join(dir, StatsFile))
}
