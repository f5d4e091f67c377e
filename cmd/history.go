package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"

	"llmstreambench/internal/history"
	"llmstreambench/internal/summary"
	"llmstreambench/internal/tui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse stored runs",
	Long:  `The 'history' command lists, shows and deletes the runs stored by the server.`,
}

var historyLimit int

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Long:  `List stored runs, newest first, with their question and models.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := appCfg.Client().History(commandContext(cmd), historyLimit)
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), items)
		return nil
	},
}

var (
	historyRaw          bool
	historyFormat       string
	historyExportFormat string
)

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one stored run",
	Long: `Show the request and summary of one stored run. --raw dumps the record
as stored; --format prints it as json or yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := appCfg.Client().HistoryRecord(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		switch {
		case historyRaw:
			_, err = pp.Fprintln(w, rec)
			return err
		case historyFormat != "":
			res := BenchmarkResult{TaskID: rec.ID, Status: "completed", TestConfig: rec.TestConfig, Summary: rec.Summary}
			return res.print(w, historyFormat)
		}
		printRecord(w, rec)
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Export the summary of a stored run",
	Long:  `Write the summary of a stored run to stdout as csv, json or yaml.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := appCfg.Client().HistoryRecord(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		return summary.Write(cmd.OutOrStdout(), historyExportFormat, rec.Summary)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete one stored run",
	Long:  `Delete one stored run by id.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appCfg.Client().DeleteHistory(commandContext(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored run",
	Long:  `Delete every stored run.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appCfg.Client().ClearHistory(commandContext(cmd)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
		return nil
	},
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "l", 0, "maximum number of runs (server default when 0)")
	historyShowCmd.Flags().BoolVar(&historyRaw, "raw", false, "dump the stored record")
	historyShowCmd.Flags().StringVarP(&historyFormat, "format", "f", "", "print as json or yaml")
	historyExportCmd.Flags().StringVarP(&historyExportFormat, "format", "f", "csv", "csv, json or yaml")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd, historyDeleteCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func printHistory(w io.Writer, items []history.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no stored runs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tMODELS\tQUESTION")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", it.ID, it.Timestamp.Local().Format(time.DateTime), it.ModelCount, truncate(it.Question, 60))
	}
	tw.Flush()
}

func printRecord(w io.Writer, rec history.Record) {
	cfg := rec.TestConfig
	fmt.Fprintf(w, "Run %s (%s)\n", rec.ID, rec.Timestamp.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Question:    %s\n", cfg.Question)
	fmt.Fprintf(w, "Models:      %v\n", cfg.Models)
	fmt.Fprintf(w, "Requests:    %d concurrent × %d iterations\n", cfg.Concurrency, cfg.Iterations)
	if cfg.MaxTokens != nil {
		fmt.Fprintf(w, "Max tokens:  %d\n", *cfg.MaxTokens)
	}
	if cfg.Temperature != nil {
		fmt.Fprintf(w, "Temperature: %g\n", *cfg.Temperature)
	}
	fmt.Fprintf(w, "Stream:      %t\n\n", cfg.StreamEnabled())
	fmt.Fprintln(w, tui.SummaryTable(rec.Summary))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
