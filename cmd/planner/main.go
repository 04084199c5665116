// Command planner serves and drives the planning decision core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbOverride string
	jsonOut    bool

	rootCmd = &cobra.Command{
		Use:           "planner",
		Short:         "Planting plan decision core: evidence review, decision runs and vault readiness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to planner.yaml")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "override the database path")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of a summary")

	rootCmd.AddCommand(serveCmd, extractCmd, runCmd, readinessCmd, probeCmd)
}

// #region main
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main
