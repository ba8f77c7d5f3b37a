package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		v := Version
		if Commit != "" {
			v += " (" + Commit + ")"
		}
		fmt.Printf("audiosync %s %s/%s %s\n", v, runtime.GOOS, runtime.GOARCH, runtime.Version())
	},
}

func init() {
	// No config is needed to print the version.
	versionCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error { return nil }
	rootCmd.AddCommand(versionCmd)
}
