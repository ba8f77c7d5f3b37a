package main

import (
	"context"
	"fmt"

	"github.com/sciber-ai/audiosync/internal/pipeline"
	"github.com/sciber-ai/audiosync/internal/queue"
	"github.com/sciber-ai/audiosync/internal/store"
	"github.com/sciber-ai/audiosync/internal/sweep"
	"github.com/sciber-ai/audiosync/internal/tasks"
)

// app holds the shared resources of one command run.
type app struct {
	db    *store.DB
	queue *queue.Queue
}

// openApp opens the metadata store and the work queue, which share one
// database.
func openApp(ctx context.Context) (*app, error) {
	opts := cfg.DBOptions()
	opts.Logger = logOut.Logger("db")

	db, err := store.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	q := queue.New(db.Conn(), &queue.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		Logger:      logOut.Logger("queue"),
	})
	if err := q.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	return &app{db: db, queue: q}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) newSweeper() (*sweep.Sweeper, error) {
	return sweep.New(a.db, a.queue, sweep.Config{
		Root:    cfg.StorageDir,
		OwnerID: cfg.Watcher.OwnerID,
		Logger:  logOut.Logger("sweep"),
	})
}

// newTasks builds the worker task set with the configured stages and
// admission gate.
func (a *app) newTasks() (*tasks.Tasks, error) {
	sw, err := a.newSweeper()
	if err != nil {
		return nil, err
	}
	stages, err := buildStages()
	if err != nil {
		return nil, err
	}

	var gate tasks.Gate
	if cfg.Worker.MinFreeMemoryMB > 0 {
		gate = tasks.NewMemoryGate(cfg.Worker.MinFreeMemoryMB<<20, cfg.Worker.RetryDelay, logOut.Logger("gate"))
	}

	return tasks.New(a.db, a.queue, tasks.Config{
		Root:    cfg.StorageDir,
		Stages:  stages,
		Gate:    gate,
		Sweeper: sw,
		Logger:  logOut.Logger("tasks"),
	})
}

// buildStages uses Claude for translation and summary when an API key is
// configured. Transcription is always the stub.
func buildStages() (pipeline.Stages, error) {
	var stages pipeline.Stages
	if cfg.Pipeline.AnthropicAPIKey == "" {
		return stages.WithDefaults(), nil
	}

	cc := pipeline.ClaudeConfig{
		APIKey:    cfg.Pipeline.AnthropicAPIKey,
		Model:     cfg.Pipeline.Model,
		MaxTokens: cfg.Pipeline.MaxTokens,
	}
	tr, err := pipeline.NewClaudeTranslator(cc)
	if err != nil {
		return stages, err
	}
	sum, err := pipeline.NewClaudeSummarizer(cc)
	if err != nil {
		return stages, err
	}
	stages.Translator = tr
	stages.Summarizer = sum
	return stages.WithDefaults(), nil
}
