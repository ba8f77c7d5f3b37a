package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sciber-ai/audiosync/internal/jobs"
	"github.com/sciber-ai/audiosync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "admin",
	Short:   "Run one full sweep of the storage directory",
	Long: `Compare the storage root with the metadata store and submit the add and
delete jobs needed to converge them.

By default a sync_storage_with_db job is submitted for the workers. With
--in-process the sweep runs here and its result is printed; the resulting
add/delete jobs still go through the queue.`,
	Run: func(cmd *cobra.Command, args []string) {
		inProcess, _ := cmd.Flags().GetBool("in-process")
		jsonOut, _ := cmd.Flags().GetBool("json")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if !inProcess {
			id, err := jobs.SubmitSync(ctx, a.queue)
			if err != nil {
				fatalf("failed to submit sync: %v", err)
			}
			fmt.Printf("%s Submitted %s job %s\n", ui.RenderPass("✓"), jobs.SyncStorage, id)
			return
		}

		sw, err := a.newSweeper()
		if err != nil {
			fatalf("%v", err)
		}
		res, err := sw.Run(ctx)
		if err != nil {
			fatalf("sweep failed: %v", err)
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(res)
			return
		}

		fmt.Printf("%s Sweep complete in %v\n", ui.RenderPass("✓"), res.Duration.Round(time.Millisecond))
		fmt.Printf("   On disk:   %d\n", res.OnDisk)
		fmt.Printf("   Records:   %d\n", res.Records)
		fmt.Printf("   Added:     %d\n", res.Added)
		fmt.Printf("   Deleted:   %d\n", res.Deleted)
		fmt.Printf("   Unchanged: %d\n", res.Unchanged)
		if res.SubmitErrors > 0 {
			fmt.Printf("%s %d submissions failed; the next sweep will retry them\n", ui.RenderWarn("⚠"), res.SubmitErrors)
		}
	},
}

func init() {
	syncCmd.Flags().Bool("in-process", false, "Run the sweep here instead of submitting a job")
	syncCmd.Flags().Bool("json", false, "Print the sweep result as JSON")
	rootCmd.AddCommand(syncCmd)
}
