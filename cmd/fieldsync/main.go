package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "fieldsync",
	Short:         "Offline-first field interview capture and sync agent",
	Long:          "fieldsync runs on the interviewer's device: it validates the agent is inside the survey area, stores interviews locally, and uploads them whenever connectivity allows.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(surveyCmd)
	rootCmd.AddCommand(locationCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(onlineCmd)
	rootCmd.AddCommand(offlineCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
