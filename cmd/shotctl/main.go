// Command shotctl is the operator CLI for ShotSearch: schema migrations,
// API key management, task requeueing and OCR backfill.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "shotctl",
	Short:         "Operate a ShotSearch deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log debug output to stderr")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(ocrCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
