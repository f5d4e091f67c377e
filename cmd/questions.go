package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List preset questions",
	Long:  `List the preset questions that 'run --preset N' can use. Presets come from the config file.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for i, q := range appCfg.Questions {
			fmt.Fprintf(cmd.OutOrStdout(), "%d. [%s] %s\n", i+1, q.Label, q.Value)
		}
	},
}

func init() {
	rootCmd.AddCommand(questionsCmd)
}
