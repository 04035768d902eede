package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boristopalov/agentgym/internal/client"
	"github.com/boristopalov/agentgym/pkg/agent"
	"github.com/boristopalov/agentgym/pkg/config"
	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/environment"
	"github.com/boristopalov/agentgym/pkg/logging"
	"github.com/boristopalov/agentgym/pkg/messaging"
	"github.com/boristopalov/agentgym/pkg/providers"
	"github.com/boristopalov/agentgym/pkg/runner"
	"github.com/boristopalov/agentgym/pkg/task"
)

// app holds what every command builds from the merged configuration.
type app struct {
	cfg     *config.RunConfig
	log     *logging.Logger
	limiter *providers.Limiter
	outDir  string
}

// setup loads the configuration file and applies the flags the user set.
func setup(cmd *cobra.Command, f *flags) (*app, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("data") {
		cfg.Data = f.data
	}
	if changed("tasks") {
		cfg.Tasks = f.tasks
	}
	if changed("out") {
		cfg.Out = f.out
	}
	if changed("env") {
		cfg.Environment.Type = f.env
	}
	if changed("max-turns") {
		cfg.Runner.MaxTurns = f.maxTurns
		cfg.Synth.MaxTurns = f.maxTurns
	}
	if changed("workers") {
		cfg.Runner.Workers = f.workers
	}
	if changed("agent") {
		cfg.Agent.Kind = f.agentKind
	}
	if changed("agent-url") {
		cfg.Agent.BaseURL = f.agentURL
	}
	if changed("model") {
		cfg.Agent.Model = f.model
	}
	if changed("provider") {
		cfg.Synth.Provider = f.provider
	}
	if changed("reasoning-key") {
		cfg.Synth.APIKey = f.reasoningKey
	}
	if changed("reasoning-url") {
		cfg.Synth.BaseURL = f.reasoningURL
	}
	if changed("reasoning-model") {
		cfg.Synth.Model = f.reasoningModel
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Path: cfg.Logging.Path})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		log:     logger,
		limiter: providers.NewLimiter(cfg.Providers.MaxConcurrency),
		outDir:  cfg.Out,
	}, nil
}

func (a *app) close() {
	a.log.Close()
}

func (a *app) selectTasks() ([]*task.Definition, error) {
	if a.cfg.Data == "" {
		return nil, fmt.Errorf("no task data file: set --data or data in the config")
	}
	defs, err := task.Load(a.cfg.Data)
	if err != nil {
		return nil, err
	}
	ids, err := task.ParseRange(a.cfg.Tasks, len(defs))
	if err != nil {
		return nil, err
	}
	a.log.Info("tasks loaded", "data", a.cfg.Data, "available", len(defs), "selected", len(ids))
	return task.Select(defs, ids), nil
}

func (a *app) openAI(baseURL, apiKey string) (*providers.OpenAIClient, error) {
	httpClient, err := client.Shared()
	if err != nil {
		return nil, err
	}
	return providers.OpenAi(
		providers.WithBaseURL(baseURL),
		providers.WithAPIKey(apiKey),
		providers.WithHTTPClient(httpClient),
	), nil
}

func (a *app) newAgent() (core.Agent, error) {
	ac := a.cfg.Agent
	c, err := a.openAI(ac.BaseURL, ac.APIKey)
	if err != nil {
		return nil, err
	}
	opts := []agent.AgentOption{
		agent.WithModel(ac.Model),
		agent.WithTemperature(ac.Temperature),
		agent.WithSystemPrompt(ac.SystemPrompt),
		agent.WithLogger(a.log.Logger),
	}
	switch ac.Kind {
	case "openai":
		return agent.NewOpenAIAgent(c, opts...), nil
	case "tagged":
		return agent.NewTaggedAgent(providers.Limit(c, a.limiter), opts...), nil
	}
	return nil, fmt.Errorf("unknown agent kind %q (want openai or tagged)", ac.Kind)
}

func (a *app) reasoningCompleter(ctx context.Context) (providers.Completer, error) {
	sc := a.cfg.Synth
	if sc.APIKey == "" {
		return nil, fmt.Errorf("no reasoning model key: set --reasoning-key or synth.api_key")
	}
	var c providers.Completer
	switch sc.Provider {
	case "openai":
		oc, err := a.openAI(sc.BaseURL, sc.APIKey)
		if err != nil {
			return nil, err
		}
		c = oc
	case "gemini":
		gc, err := providers.Gemini(ctx, providers.WithAPIKey(sc.APIKey))
		if err != nil {
			return nil, err
		}
		c = gc
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q (want openai or gemini)", sc.Provider)
	}
	return providers.Limit(c, a.limiter), nil
}

func (a *app) envFactory() (*environment.Factory, error) {
	ec := a.cfg.Environment
	kind, err := environment.ParseKind(ec.Type)
	if err != nil {
		return nil, err
	}
	f := &environment.Factory{
		Kind: kind,
		Options: []environment.Option{
			environment.WithLogger(a.log.Logger),
			environment.WithShellTimeout(ec.ShellTimeout),
			environment.WithCodeTimeout(ec.CodeTimeout),
			environment.WithTempDir(ec.TempDir),
		},
		Personas: environment.NewScriptedPersona,
		MaxTurns: a.cfg.Runner.MaxTurns,
	}

	if ec.SandboxURL != "" {
		httpClient, err := client.Shared()
		if err != nil {
			return nil, err
		}
		f.NewSandbox = func() environment.Sandbox {
			return environment.NewHTTPSandbox(ec.SandboxURL, httpClient)
		}
	}

	if pc := ec.Persona; pc.Model != "" {
		c, err := a.openAI(pc.BaseURL, pc.APIKey)
		if err != nil {
			return nil, err
		}
		f.Personas = environment.ModelPersonas(providers.Limit(c, a.limiter), pc.Model,
			environment.WithPersonaRetries(pc.Retries, time.Second),
			environment.WithPersonaLogger(a.log.Logger))
	}
	return f, nil
}

func (a *app) runnerOptions(maxTurns int) []runner.Option {
	rc := a.cfg.Runner
	return []runner.Option{
		runner.WithMaxTurns(maxTurns),
		runner.WithAgentRetries(rc.AgentRetries),
		runner.WithAgentTimeout(rc.AgentTimeout),
		runner.WithStepTimeout(rc.StepTimeout),
		runner.WithRetryBackoff(rc.RetryBackoff),
		runner.WithLogger(a.log.Logger),
	}
}

// progress subscribes a logger to the episode events of a batch.
func (a *app) progress() (messaging.Publisher, func()) {
	broker := messaging.NewBroker()
	ch := make(chan messaging.Event, 256)
	broker.Subscribe("progress", ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case messaging.TurnRecorded:
				a.log.Debug("turn", "episode", ev.EpisodeID, "task", ev.TaskID, "turn", ev.Turn, "role", ev.Role)
			case messaging.EpisodeFinished:
				if !ev.Success {
					a.log.Debug("episode unsuccessful", "episode", ev.EpisodeID, "task", ev.TaskID, "status", ev.Status, "detail", ev.Content)
				}
			}
		}
	}()
	return broker, func() {
		broker.Unsubscribe("progress")
		close(ch)
		<-done
	}
}
