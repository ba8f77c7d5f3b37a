package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sciber-ai/audiosync/internal/reconciler"
	"github.com/sciber-ai/audiosync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "service",
	Short:   "Watch the storage directory and submit add/delete jobs",
	Long: `Watch the storage root for audio files and keep the work queue informed.

Creates and writes are debounced per file; deletes are submitted at once.
A full sweep is submitted as a sync_storage_with_db job at startup and on
every sweep interval. With --in-process (or ENABLE_IN_PROCESS_WATCHER_SYNC)
the sweep runs in this process instead.

Set WATCHER_USE_POLLING=true on filesystems without change notifications.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		rcfg := &reconciler.Config{
			Root:          cfg.StorageDir,
			Debounce:      cfg.Watcher.Debounce,
			SweepInterval: cfg.Watcher.SyncInterval,
			Polling:       cfg.Watcher.UsePolling,
			PollInterval:  cfg.Watcher.PollInterval,
			InProcessSync: cfg.Watcher.InProcessSync,
			OwnerID:       cfg.Watcher.OwnerID,
			Logger:        logOut.Logger("reconciler"),
		}

		var sweeper reconciler.Sweeper
		if rcfg.InProcessSync {
			sw, err := a.newSweeper()
			if err != nil {
				fatalf("%v", err)
			}
			sweeper = sw
		}

		r, err := reconciler.New(a.queue, sweeper, rcfg)
		if err != nil {
			fatalf("failed to create reconciler: %v", err)
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("●"), cfg.StorageDir)
		if err := r.Start(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	watchCmd.Flags().Bool("polling", false, "Use the polling watcher")
	watchCmd.Flags().Bool("in-process", false, "Run sweeps in this process")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a new file is submitted")
	watchCmd.Flags().Duration("sync-interval", 0, "Period of full sweeps")
	bindCommandFlags(watchCmd, map[string]string{
		"polling":       "watcher.use_polling",
		"in-process":    "watcher.in_process_sync",
		"debounce":      "watcher.debounce",
		"sync-interval": "watcher.sync_interval",
	})
	rootCmd.AddCommand(watchCmd)
}
