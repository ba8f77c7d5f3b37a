package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sciber-ai/audiosync/internal/ui"
	"github.com/sciber-ai/audiosync/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:     "worker",
	GroupID: "service",
	Short:   "Run queued jobs",
	Long: `Claim and run jobs from the work queue until interrupted.

Handles enqueue_add_file, enqueue_delete_file, process_audio_file and
sync_storage_with_db. Failed jobs are retried with exponential backoff;
processing is deferred without using up an attempt while available memory
is below worker.min_free_memory_mb.

With --drain the worker runs due jobs one at a time until none are left,
then exits. Jobs deferred into the future are left for a running pool.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		t, err := a.newTasks()
		if err != nil {
			fatalf("failed to create task set: %v", err)
		}

		wcfg := worker.DefaultConfig()
		wcfg.Concurrency = cfg.Worker.Concurrency
		wcfg.PollInterval = cfg.Worker.PollInterval
		wcfg.StaleAfter = cfg.Worker.StaleAfter
		wcfg.JobTimeout = cfg.Worker.JobTimeout
		wcfg.Logger = logOut.Logger("worker")

		pool, err := worker.NewWithConfig(a.queue, wcfg)
		if err != nil {
			fatalf("failed to create worker pool: %v", err)
		}
		pool.RegisterAll(t.Handlers())

		if drain, _ := cmd.Flags().GetBool("drain"); drain {
			drainQueue(ctx, pool)
			return
		}

		fmt.Printf("%s Worker %s running %d jobs at a time\n", ui.RenderAccent("●"), wcfg.ID, wcfg.Concurrency)
		if err := pool.Start(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

// drainQueue runs due jobs until the queue has none left or ctx ends.
func drainQueue(ctx context.Context, pool *worker.Pool) {
	id := worker.NewWorkerID()
	ran := 0
	for ctx.Err() == nil {
		ok, err := pool.RunOnce(ctx, id)
		if err != nil {
			fatalf("%v", err)
		}
		if !ok {
			break
		}
		ran++
	}
	fmt.Printf("%s Ran %d jobs\n", ui.RenderPass("✓"), ran)
}

func init() {
	workerCmd.Flags().IntP("concurrency", "c", 0, "Jobs run in parallel")
	workerCmd.Flags().Bool("drain", false, "Run due jobs until the queue is empty, then exit")
	workerCmd.Flags().Uint64("min-free-memory-mb", 0, "Defer processing below this much available memory")
	bindCommandFlags(workerCmd, map[string]string{
		"concurrency":        "worker.concurrency",
		"min-free-memory-mb": "worker.min_free_memory_mb",
	})
	rootCmd.AddCommand(workerCmd)
}
