package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/queue"
	"github.com/sciber-ai/audiosync/internal/store"
	"github.com/sciber-ai/audiosync/internal/ui"
)

// statusReport is the structured form of `audiosync status`.
type statusReport struct {
	Files  *store.Stats         `json:"files" yaml:"files"`
	Jobs   map[queue.Status]int `json:"jobs" yaml:"jobs"`
	Recent []*model.FileRecord  `json:"recent" yaml:"recent"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "admin",
	Short:   "Show record and job counts and recent files",
	Long: `Show how many records are in each status, the work queue backlog and the
most recent records.

--since accepts an RFC 3339 time, a duration such as 36h, or phrases like
"yesterday" or "last monday".`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("output")
		sinceStr, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		tagStr, _ := cmd.Flags().GetString("model")
		statusStr, _ := cmd.Flags().GetString("status")

		if err := validateFormat(format); err != nil {
			fatalf("%v", err)
		}
		now := time.Now()
		since, err := parseSince(sinceStr, now)
		if err != nil {
			fatalf("%v", err)
		}
		opts := store.ListOptions{Since: since, Limit: limit, Newest: true}
		if tagStr != "" {
			if opts.ModelTag, err = model.ParseModelTag(tagStr); err != nil {
				fatalf("%v", err)
			}
		}
		if statusStr != "" {
			opts.Status = model.FileStatus(statusStr)
			if !opts.Status.IsValid() {
				fatalf("unknown status %q", statusStr)
			}
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		stats, err := a.db.GetStats(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		jobStats, err := a.queue.Stats(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		recent, err := a.db.ListFiles(ctx, opts)
		if err != nil {
			fatalf("%v", err)
		}

		report := statusReport{Files: stats, Jobs: jobStats, Recent: recent}
		if format != formatTable {
			if err := writeStructured(os.Stdout, format, report); err != nil {
				fatalf("%v", err)
			}
			return
		}
		printStatus(report, now)
	},
}

func printStatus(r statusReport, now time.Time) {
	fmt.Printf("\n%s %s\n", ui.Header("Files"), ui.Muted(fmt.Sprintf("(%d total)", r.Files.Total)))
	for _, st := range model.AllFileStatuses() {
		fmt.Printf("   %-11s %d\n", ui.RenderStatus(string(st)), r.Files.ByStatus[st])
	}
	var byModel []string
	for _, tag := range model.AllModelTags() {
		byModel = append(byModel, fmt.Sprintf("%s=%d", tag, r.Files.ByModel[tag]))
	}
	fmt.Printf("   %s\n", ui.Muted(fmt.Sprint(byModel)))

	fmt.Printf("\n%s\n", ui.Header("Jobs"))
	for _, st := range []queue.Status{queue.StatusPending, queue.StatusRunning, queue.StatusDone, queue.StatusFailed} {
		fmt.Printf("   %-11s %d\n", ui.RenderStatus(string(st)), r.Jobs[st])
	}

	if len(r.Recent) == 0 {
		fmt.Printf("\n%s\n\n", ui.Muted("No records match."))
		return
	}

	rows := make([][]string, 0, len(r.Recent))
	for _, f := range r.Recent {
		rows = append(rows, []string{
			strconv.FormatInt(f.ID, 10),
			string(f.ModelTag),
			truncate(f.Filename, 40),
			string(f.Status),
			strconv.FormatInt(f.Size, 10),
			formatAge(f.UploadTime, now),
		})
	}
	fmt.Printf("\n%s\n", ui.Header("Recent"))
	fmt.Println(ui.Table([]string{"ID", "MODEL", "FILE", "STATUS", "SIZE", "UPLOADED"}, rows, 3))
	fmt.Println()
}

func init() {
	statusCmd.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")
	statusCmd.Flags().String("since", "", "Only records uploaded after this time")
	statusCmd.Flags().IntP("limit", "n", 20, "Number of recent records")
	statusCmd.Flags().String("model", "", "Only records for this model tag")
	statusCmd.Flags().String("status", "", "Only records in this status")
	rootCmd.AddCommand(statusCmd)
}
