package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sciber-ai/audiosync/internal/queue"
	"github.com/sciber-ai/audiosync/internal/ui"
)

var jobsCmd = &cobra.Command{
	Use:     "jobs",
	GroupID: "admin",
	Short:   "Inspect and manage the work queue",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("output")
		statusStr, _ := cmd.Flags().GetString("status")
		name, _ := cmd.Flags().GetString("name")
		sinceStr, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		if err := validateFormat(format); err != nil {
			fatalf("%v", err)
		}
		status := queue.Status(statusStr)
		if statusStr != "" && !status.IsValid() {
			fatalf("unknown job status %q", statusStr)
		}
		now := time.Now()
		since, err := parseSince(sinceStr, now)
		if err != nil {
			fatalf("%v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		list, err := a.queue.List(ctx, queue.ListOptions{Status: status, Name: name, Since: since, Limit: limit})
		if err != nil {
			fatalf("%v", err)
		}
		if list == nil {
			list = []*queue.Job{}
		}

		if format != formatTable {
			if err := writeStructured(os.Stdout, format, list); err != nil {
				fatalf("%v", err)
			}
			return
		}
		if len(list) == 0 {
			fmt.Println(ui.Muted("No jobs match."))
			return
		}

		rows := make([][]string, 0, len(list))
		for _, j := range list {
			rows = append(rows, []string{
				j.ID,
				j.Name,
				string(j.Status),
				fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
				formatAge(j.CreatedAt, now),
				truncate(j.LastError, 50),
			})
		}
		fmt.Println(ui.Table([]string{"ID", "NAME", "STATUS", "ATTEMPTS", "CREATED", "LAST ERROR"}, rows, 2))
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>...",
	Short: "Return failed or finished jobs to the queue",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		failed := 0
		for _, id := range args {
			if err := a.queue.Requeue(ctx, id); err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), id, err)
				failed++
				continue
			}
			fmt.Printf("%s Requeued %s\n", ui.RenderPass("✓"), id)
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete done or failed jobs",
	Long: `Delete jobs in a terminal status. --older-than limits the purge to jobs last
updated before that time and accepts the same forms as --since elsewhere
("7 days ago", 168h, an RFC 3339 time).`,
	Run: func(cmd *cobra.Command, args []string) {
		statusStr, _ := cmd.Flags().GetString("status")
		olderStr, _ := cmd.Flags().GetString("older-than")
		yes, _ := cmd.Flags().GetBool("yes")

		status := queue.Status(statusStr)
		if status != queue.StatusDone && status != queue.StatusFailed {
			fatalf("--status must be done or failed")
		}
		before, err := parseSince(olderStr, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		if !yes {
			desc := fmt.Sprintf("Delete all %s jobs", status)
			if !before.IsZero() {
				desc += " last updated before " + before.Format(time.RFC3339)
			}
			confirmed, err := confirm(desc + "?")
			if err != nil {
				fatalf("%v", err)
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		n, err := a.queue.Purge(ctx, status, before)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Purged %d %s jobs\n", ui.RenderPass("✓"), n, status)
	},
}

// confirm asks a yes/no question on the terminal. Without a terminal it
// refuses, so scripts must pass --yes.
func confirm(question string) (bool, error) {
	if !ui.IsTerminal(os.Stdin) {
		return false, errors.New("not a terminal; pass --yes to confirm")
	}
	var ok bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Delete").
		Negative("Cancel").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func init() {
	jobsListCmd.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")
	jobsListCmd.Flags().String("status", "", "Only jobs in this status")
	jobsListCmd.Flags().String("name", "", "Only jobs with this name")
	jobsListCmd.Flags().String("since", "", "Only jobs created after this time")
	jobsListCmd.Flags().IntP("limit", "n", 50, "Maximum number of jobs")

	jobsPurgeCmd.Flags().String("status", string(queue.StatusDone), "Status to purge: done or failed")
	jobsPurgeCmd.Flags().String("older-than", "", "Only jobs last updated before this time")
	jobsPurgeCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	jobsCmd.AddCommand(jobsPurgeCmd)
	rootCmd.AddCommand(jobsCmd)
}
