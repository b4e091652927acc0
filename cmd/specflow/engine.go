package main

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"

	"github.com/specflow/specflow/internal/config"
	"github.com/specflow/specflow/internal/journal"
	"github.com/specflow/specflow/internal/orchestrator"
	"github.com/specflow/specflow/internal/state"
	"github.com/specflow/specflow/internal/tui"
	"github.com/specflow/specflow/internal/vcs"
	"github.com/specflow/specflow/internal/worker"
)

// runFlags are shared by the start and continue commands.
var (
	flagAuto        bool
	flagSkipClarify bool
	flagWorkers     int
	flagWorkerCmd   string
)

// engine bundles everything a run needs.
type engine struct {
	store        *state.Store
	orchestrator *orchestrator.Orchestrator
	journal      *journal.Journal
	logger       *orchestrator.DebugLogger
	done         chan struct{}
}

// newEngine wires the orchestrator for the current directory: config,
// state store, worker executor, interactive asker, git committer, and
// the execution journal.
func newEngine() (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyRunFlags(cfg)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	w, err := buildWorker(cfg, cwd)
	if err != nil {
		return nil, err
	}

	j, err := journal.Open(journal.DefaultPath(cwd))
	if err != nil {
		return nil, err
	}

	logger := orchestrator.NewDebugLoggerForDir(cwd)

	ocfg := orchestrator.Config{
		Auto:          cfg.Gates.Auto,
		SkipClarify:   cfg.Gates.SkipClarify,
		QuestionBatch: cfg.Interaction.BatchSize,
		GateWait:      cfg.Gates.Wait,
		Asker:         tui.Prompt{},
		Recorder:      j,
		Logger:        logger,
	}
	ocfg.Dispatch.MaxWorkers = cfg.Workers.Max
	ocfg.Dispatch.LeaseDuration = cfg.Workers.Lease
	ocfg.Dispatch.MaxRetries = cfg.Workers.MaxRetries
	ocfg.Dispatch.StallThreshold = cfg.Workers.StallThreshold

	git := vcs.NewGitCommitter(cwd)
	if git.IsRepo(context.Background()) {
		ocfg.Committer = git
	} else {
		ocfg.Committer = vcs.NopCommitter{}
	}

	store := state.NewStore(state.DefaultPath(cwd))
	o := orchestrator.New(store, w, ocfg)

	e := &engine{
		store:        store,
		orchestrator: o,
		journal:      j,
		logger:       logger,
		done:         make(chan struct{}),
	}
	go e.printEvents()
	return e, nil
}

// applyRunFlags lets command-line flags override the loaded config.
func applyRunFlags(cfg *config.Config) {
	if flagAuto {
		cfg.Gates.Auto = true
	}
	if flagSkipClarify {
		cfg.Gates.SkipClarify = true
	}
	if flagWorkers > 0 {
		cfg.Workers.Max = flagWorkers
	}
	if flagWorkerCmd != "" {
		cfg.Worker.Command = flagWorkerCmd
	}
}

// buildWorker selects the executor: a configured subprocess command, or
// the API-backed worker.
func buildWorker(cfg *config.Config, cwd string) (worker.Worker, error) {
	if cfg.Worker.Command != "" {
		return &worker.CommandWorker{
			Command: cfg.Worker.Command,
			WorkDir: cwd,
			Timeout: cfg.Worker.Timeout,
		}, nil
	}

	return worker.NewAPIWorker(worker.APIWorkerConfig{
		Model:         anthropic.Model(cfg.API.Model),
		APIKey:        cfg.API.Key,
		UseAWSBedrock: cfg.API.UseBedrock,
		AWSRegion:     cfg.API.AWSRegion,
		AWSProfile:    cfg.API.AWSProfile,
		MaxTokens:     int64(cfg.API.MaxTokens),
	})
}

// printEvents renders orchestrator progress to the terminal.
func (e *engine) printEvents() {
	defer close(e.done)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	for event := range e.orchestrator.Events() {
		switch event.Type {
		case orchestrator.EventPhaseStarted:
			fmt.Printf("%s %s phase\n", yellow.Sprint("→"), event.Phase)
		case orchestrator.EventPhaseCompleted:
			fmt.Printf("%s %s phase completed\n", green.Sprint("✓"), event.Phase)
		case orchestrator.EventPhaseSkipped:
			fmt.Printf("%s %s phase skipped\n", faint.Sprint("-"), event.Phase)
		case orchestrator.EventPhaseFailed:
			fmt.Printf("%s %s phase failed: %v\n", red.Sprint("✗"), event.Phase, event.Error)
		case orchestrator.EventLayerStarted:
			fmt.Printf("  %s\n", faint.Sprint(event.Message))
		case orchestrator.EventQuestionsAsked:
			fmt.Printf("%s %s\n", yellow.Sprint("?"), event.Message)
		case orchestrator.EventGatePending:
			fmt.Printf("%s %s gate pending approval\n", yellow.Sprint("⏸"), event.Phase)
		case orchestrator.EventGateResolved:
			fmt.Printf("%s %s: %s\n", green.Sprint("✓"), event.Phase, event.Message)
		case orchestrator.EventCommitted:
			fmt.Printf("  %s\n", faint.Sprintf("committed %s phase results", event.Phase))
		case orchestrator.EventWorkflowDone:
			fmt.Printf("%s %s\n", green.Sprint("✓"), event.Message)
		}
	}
}

// close releases the engine's resources after a run: it ends the event
// stream, waits for the printer to drain it, then closes the journal and
// the debug log.
func (e *engine) close() {
	e.orchestrator.Close()
	<-e.done
	e.journal.Close()
	e.logger.Close()
}
