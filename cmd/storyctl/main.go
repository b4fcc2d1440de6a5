package main

import (
	"fmt"
	"os"

	"github.com/Corphon/CompanionStories/internal/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "storyctl",
	Short: "Companion Stories content and save tooling",
	Long: `storyctl works on the same content directory and save record as the
player server. Settings come from the environment (or .env):

  CONTENT_DIR / CONTENT_URL   story content root
  DATA_DIR, STORAGE_BACKEND   where the save record lives (file or sqlite)
  STORAGE_KEY                 save record key

Commands:
  validate [--watch]          check content integrity
  state show [--format yaml]  print the save record
  state clear --yes           delete the save record
  milestones                  progress counters and one-time milestones`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&commands.Verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.StateCmd)
	rootCmd.AddCommand(commands.MilestonesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
