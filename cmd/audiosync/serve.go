package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sciber-ai/audiosync/internal/dashboard"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "service",
	Short:   "Serve the read-only HTTP API and status feed",
	Long: `Serve the metadata store over HTTP.

Endpoints:
  GET  /health       store ping and connected feed clients
  GET  /files        records (?model=&status=&since=&limit=&offset=)
  GET  /files/{id}   one record with its transcript, translation and summary
  GET  /stats        counts by status and model
  GET  /metrics      Prometheus metrics
  GET  /ws           WebSocket feed of stats and file_update messages
  POST /sync         submit a sync_storage_with_db job`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		server, err := dashboard.NewServer(a.db, a.queue, &dashboard.Config{
			Addr:         cfg.Dashboard.Addr,
			PollInterval: cfg.Dashboard.PollInterval,
			Logger:       logOut.Logger("dashboard"),
		})
		if err != nil {
			fatalf("%v", err)
		}
		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard listening on http://%s\n", server.Addr())
		fmt.Printf("Status feed: ws://%s/ws\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard...")
		if err := server.Stop(); err != nil {
			fatalf("during shutdown: %v", err)
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default :8080)")
	bindCommandFlags(serveCmd, map[string]string{"addr": "dashboard.addr"})
	rootCmd.AddCommand(serveCmd)
}
