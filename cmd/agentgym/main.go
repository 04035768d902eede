package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/boristopalov/agentgym/pkg/config"
	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/runner"
	"github.com/boristopalov/agentgym/pkg/store"
	"github.com/boristopalov/agentgym/pkg/synth"
	"github.com/boristopalov/agentgym/pkg/task"
)

func main() {
	config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, runner.ErrBatchFailed):
		os.Exit(1)
	default:
		os.Exit(2)
	}
}

type flags struct {
	configPath string
	logLevel   string
	data       string
	tasks      string
	out        string
	env        string
	agentKind  string
	agentURL   string
	model      string
	maxTurns   int
	workers    int

	provider       string
	reasoningKey   string
	reasoningURL   string
	reasoningModel string

	trajectory string
	rerun      bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:          "agentgym",
		Short:        "agentgym runs tool-using agents against task environments and turns their episodes into training data.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&f.data, "data", "", "task data file")
	root.PersistentFlags().StringVar(&f.tasks, "tasks", "", `task indexes, e.g. "3", "0-4" or "1,3,6-8" (default all)`)
	root.PersistentFlags().StringVar(&f.out, "out", "", "output directory")
	root.PersistentFlags().StringVar(&f.env, "env", "", "environment type: auto, command, code or dialogue")
	root.PersistentFlags().IntVar(&f.maxTurns, "max-turns", 0, "agent turns per episode")
	root.PersistentFlags().IntVar(&f.workers, "workers", 0, "episodes run in parallel")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an agent against every selected task and report the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd, f)
		},
	}
	runCmd.Flags().StringVar(&f.agentKind, "agent", "", "agent kind: openai or tagged")
	runCmd.Flags().StringVar(&f.agentURL, "agent-url", "", "OpenAI-compatible base URL of the agent model")
	runCmd.Flags().StringVar(&f.model, "model", "", "agent model")

	synthCmd := &cobra.Command{
		Use:   "synth",
		Short: "Drive the selected tasks with a reasoning model and write training examples",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSynth(cmd, f)
		},
	}
	synthCmd.Flags().StringVar(&f.provider, "provider", "", "reasoning provider: openai or gemini")
	synthCmd.Flags().StringVar(&f.reasoningKey, "reasoning-key", "", "API key of the reasoning model")
	synthCmd.Flags().StringVar(&f.reasoningURL, "reasoning-url", "", "OpenAI-compatible base URL of the reasoning model")
	synthCmd.Flags().StringVar(&f.reasoningModel, "reasoning-model", "", "reasoning model")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-dispatch the calls of a recorded trajectory against a fresh environment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd, f)
		},
	}
	replayCmd.Flags().StringVar(&f.trajectory, "trajectory", "", "trajectory JSON file")
	replayCmd.Flags().BoolVar(&f.rerun, "rerun", false, "play the recorded agent actions through a fresh episode, validating every call again")
	replayCmd.MarkFlagRequired("trajectory")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a task data file against the task schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := task.Validate(f.data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid tasks\n", f.data, n)
			return nil
		},
	}

	root.AddCommand(runCmd, synthCmd, replayCmd, validateCmd)
	return root
}

func runEval(cmd *cobra.Command, f *flags) error {
	app, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer app.close()

	defs, err := app.selectTasks()
	if err != nil {
		return err
	}
	agent, err := app.newAgent()
	if err != nil {
		return err
	}
	envs, err := app.envFactory()
	if err != nil {
		return err
	}

	events, stopEvents := app.progress()
	defer stopEvents()

	r := runner.New(agent, envs, append(app.runnerOptions(app.cfg.Runner.MaxTurns),
		runner.WithName(app.cfg.Agent.Kind+":"+app.cfg.Agent.Model),
		runner.WithEvents(events))...)
	batch := &runner.Batch{Runner: r, Workers: app.cfg.Runner.Workers, OutDir: app.outDir, Logger: app.log.Logger}

	summary, err := batch.Run(cmd.Context(), defs)
	if err != nil {
		return err
	}
	summary.DataFile = app.cfg.Data
	if err := summary.Write(app.outDir); err != nil {
		return err
	}

	app.log.Info("batch complete",
		"tasks", summary.Tasks,
		"succeeded", summary.Succeeded,
		"success_rate", fmt.Sprintf("%.2f", summary.SuccessRate),
		"average_reward", fmt.Sprintf("%.3f", summary.AverageReward),
		"failed", summary.FailedCount(),
		"skipped", summary.Skipped,
		"duration", summary.Duration.Round(time.Millisecond),
		"out", app.outDir)
	if summary.Failed() {
		return runner.ErrBatchFailed
	}
	return nil
}

func runSynth(cmd *cobra.Command, f *flags) error {
	app, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer app.close()

	defs, err := app.selectTasks()
	if err != nil {
		return err
	}
	completer, err := app.reasoningCompleter(cmd.Context())
	if err != nil {
		return err
	}
	envs, err := app.envFactory()
	if err != nil {
		return err
	}

	events, stopEvents := app.progress()
	defer stopEvents()

	sc := app.cfg.Synth
	s := synth.New(completer, envs,
		synth.WithModel(sc.Model),
		synth.WithPreamble(sc.Preamble),
		synth.WithCorrectiveRetries(sc.CorrectiveRetries),
		synth.WithRequireSuccess(sc.RequireSuccess),
		synth.WithLogger(app.log.Logger),
		synth.WithRunnerOptions(append(app.runnerOptions(sc.MaxTurns), runner.WithEvents(events))...),
	)
	report, err := s.Run(cmd.Context(), defs, app.outDir, app.cfg.Runner.Workers)
	if err != nil {
		return err
	}

	app.log.Info("synthesis complete",
		"tasks", report.Tasks,
		"examples", report.Examples,
		"failures", report.Failures,
		"messages", report.Messages,
		"duration", report.Duration.Round(time.Millisecond),
		"out", app.outDir)
	if report.Episodes.Failed() {
		return runner.ErrBatchFailed
	}
	return nil
}

func runReplay(cmd *cobra.Command, f *flags) error {
	app, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer app.close()

	var tr core.Trajectory
	if err := store.ReadJSON(f.trajectory, &tr); err != nil {
		return err
	}
	if app.cfg.Data == "" {
		app.cfg.Data = tr.Task.DataFile
	}
	defs, err := task.Load(app.cfg.Data)
	if err != nil {
		return err
	}
	var def *task.Definition
	for _, d := range defs {
		if d.Ref.ID == tr.Task.ID {
			def = d
			break
		}
	}
	if def == nil {
		return fmt.Errorf("task %d not found in %s", tr.Task.ID, app.cfg.Data)
	}

	envs, err := app.envFactory()
	if err != nil {
		return err
	}
	if f.rerun {
		return rerun(cmd, app, &tr, def, envs)
	}
	env, err := envs.New(def)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := runner.Replay(cmd.Context(), &tr, env)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "episode %s (task %d, recorded status %s, reward %.2f)\n", tr.EpisodeID, tr.Task.ID, tr.Status, tr.TotalReward)
	for i, call := range res.Calls {
		mark := "same"
		for _, d := range res.Diverged {
			if d == i {
				mark = "DIVERGED"
			}
		}
		fmt.Fprintf(out, "  %2d %-16s %s\n", i, call.Name, mark)
	}
	if res.Final != nil {
		fmt.Fprintf(out, "final: done=%v reward=%.2f\n", res.Final.Done, res.Final.Reward)
	} else {
		fmt.Fprintln(out, "final: episode did not finish")
	}
	fmt.Fprintf(out, "replayed reward %.2f, %d of %d observations diverged\n", res.TotalReward, len(res.Diverged), len(res.Calls))

	schema, err := tr.ToolSchema()
	if err != nil {
		return err
	}
	allow := tr.AllowedCommands
	if allow == nil {
		allow = def.AllowedCommands
	}
	for _, v := range tr.Revalidate(schema, allow) {
		if v.Err != nil {
			fmt.Fprintf(out, "rejected %s (%s): %v\n", v.Call.Name, v.Call.ID, v.Err)
		}
	}
	return nil
}

// rerun plays the recorded actions through a fresh episode and saves the new
// trajectory under the output directory.
func rerun(cmd *cobra.Command, app *app, tr *core.Trajectory, def *task.Definition, envs runner.EnvFactory) error {
	opts := append(app.runnerOptions(0), runner.WithName("rerun:"+tr.EpisodeID))
	fresh, left, err := runner.Rerun(cmd.Context(), tr, def, envs, opts...)
	if err != nil {
		return err
	}
	path := filepath.Join(app.outDir, runner.TrajectoryDir, fmt.Sprintf("%d_%s.json", fresh.Task.ID, fresh.EpisodeID))
	if err := store.WriteJSONAtomic(path, fresh); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recorded: status %s, reward %.2f, %d agent turns\n", tr.Status, tr.TotalReward, tr.AgentTurns)
	fmt.Fprintf(out, "rerun:    status %s, reward %.2f, %d agent turns\n", fresh.Status, fresh.TotalReward, fresh.AgentTurns)
	if left > 0 {
		fmt.Fprintf(out, "%d recorded actions were not played\n", left)
	}
	fmt.Fprintf(out, "trajectory written to %s\n", path)
	return nil
}
