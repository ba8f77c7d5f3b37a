package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sciber-ai/audiosync/internal/loadtest"
	"github.com/sciber-ai/audiosync/internal/sqldb"
	"github.com/sciber-ai/audiosync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "admin",
	Short:   "Race concurrent adds of the same files against a scratch store",
	Long: `Create a scratch SQLite store, start --workers goroutines that each add
every one of --keys files --adds times in random order, and verify that
every file ends up as exactly one record with one id.

The configured database is never touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		workers, _ := cmd.Flags().GetInt("workers")
		keys, _ := cmd.Flags().GetInt("keys")
		adds, _ := cmd.Flags().GetInt("adds")

		dir, err := os.MkdirTemp("", "audiosync-loadtest-")
		if err != nil {
			fatalf("%v", err)
		}
		defer os.RemoveAll(dir)

		ctx := context.Background()
		h, err := loadtest.CreateHarness(ctx, sqldb.Options{
			Dialect: sqldb.SQLite,
			Path:    filepath.Join(dir, "loadtest.db"),
			Logger:  logOut.Logger("loadtest"),
		}, keys)
		if err != nil {
			fatalf("%v", err)
		}
		defer h.Close()

		fmt.Printf("%s %d workers x %d keys x %d adds\n", ui.RenderAccent("●"), workers, keys, adds)
		res, err := h.RunConcurrentAdds(ctx, workers, adds)
		if err != nil {
			fatalf("%v", err)
		}
		res.Latency.Print(os.Stdout)

		if err := h.Verify(ctx, res); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}
		fmt.Printf("%s %d keys, one record each\n", ui.RenderPass("✓"), keys)
	},
}

func init() {
	loadtestCmd.Flags().Int("workers", 16, "Concurrent goroutines")
	loadtestCmd.Flags().Int("keys", 100, "Distinct files")
	loadtestCmd.Flags().Int("adds", 3, "Adds of each file per goroutine")
	rootCmd.AddCommand(loadtestCmd)
}
