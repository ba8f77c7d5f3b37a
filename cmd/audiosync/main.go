// Command audiosync keeps an audio storage directory and its metadata
// database in sync and runs the transcription pipeline over new files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sciber-ai/audiosync/internal/config"
	"github.com/sciber-ai/audiosync/internal/logging"
)

var (
	// Set at build time with -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = ""

	configFile string
	v          *viper.Viper
	cfg        *config.Config
	logOut     *logging.Output
)

var rootCmd = &cobra.Command{
	Use:   "audiosync",
	Short: "Audio storage reconciler and processing worker",
	Long: `audiosync watches a storage directory laid out as <root>/<model>/<file>,
keeps one metadata record per audio file and runs transcription,
translation and summarization over every new record.

Run 'audiosync watch' and 'audiosync worker' side by side; 'audiosync serve'
exposes a read-only HTTP view with a live status feed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		v, err = config.NewViper(configFile)
		if err != nil {
			return err
		}
		if err := bindFlags(cmd, v); err != nil {
			return err
		}
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		logOut = logging.Open(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	},
}

// persistentFlags maps root flags to config keys.
var persistentFlags = map[string]string{
	"storage-dir": "storage_dir",
	"db-driver":   "db.driver",
	"db-path":     "db.path",
	"log-file":    "log.file",
	"quiet":       "log.quiet",
}

// commandFlags maps command-local flags to config keys.
var commandFlags = map[*cobra.Command]map[string]string{}

func bindCommandFlags(cmd *cobra.Command, flags map[string]string) {
	commandFlags[cmd] = flags
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range commandFlags[cmd] {
		f := cmd.Flag(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	for flag, key := range persistentFlags {
		f := cmd.Flag(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "service", Title: "Services:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: ./audiosync.yaml or ~/.config/audiosync/audiosync.yaml)")
	pf.String("storage-dir", "", "Storage root (env STORAGE_DIR)")
	pf.String("db-driver", "", "Database driver: sqlite or postgres")
	pf.String("db-path", "", "SQLite database file")
	pf.String("log-file", "", "Also write logs to this file, rotated")
	pf.BoolP("quiet", "q", false, "Write logs only to --log-file")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
