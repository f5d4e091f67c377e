package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/catalog"
	"llmstreambench/internal/config"
	"llmstreambench/internal/logging"
	"llmstreambench/internal/orchestrator"
	"llmstreambench/internal/tui"
)

var runOpts struct {
	models    []string
	all       bool
	question  string
	preset    int
	plain     bool
	export    string
	exportDir string
	format    string
	noStream  bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Benchmark one question against several models",
	Long: `Send the same question to every selected model and watch the answers
stream in. Parameters a selected model does not support are left out of the
request. Without a terminal, or with --plain, progress is shown as a bar and
the results are printed at the end.`,
	Example: `  llmstreambench run -m gpt-4o -m gpt-5-mini -q "how to learn english"
  llmstreambench run --all --preset 2 --plain --export csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := appCfg.Client()
		available, err := client.Models(ctx)
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		question, err := pickQuestion(runOpts.question, runOpts.preset, appCfg.Questions)
		if err != nil {
			return err
		}
		defaults := appCfg.Defaults
		if runOpts.noStream {
			defaults.Stream = false
		}
		run, err := buildRun(available, runOpts.models, runOpts.all, question, defaults)
		if err != nil {
			return err
		}
		if err := appCfg.Limits.Check(run); err != nil {
			return err
		}

		b := Benchmark{
			Run:       run,
			Plain:     runOpts.plain || !isTerminal(os.Stdout),
			Export:    strings.ToLower(runOpts.export),
			ExportDir: runOpts.exportDir,
			Format:    strings.ToLower(runOpts.format),
		}
		switch b.Export {
		case "", "csv", "json", "yaml":
		default:
			return fmt.Errorf("unsupported export format %q (want csv, json or yaml)", runOpts.export)
		}

		var out *orchestrator.Outcome
		if b.Plain {
			if logFile == nil {
				logger = logging.New(logging.Options{Out: os.Stderr, Err: os.Stderr, Level: logging.WARN})
			}
			out, err = b.runPlain(ctx, client, cmd.OutOrStdout())
		} else {
			out, err = tui.Run(tui.RunConfig{
				Executor:      client,
				Run:           run,
				FrameInterval: appCfg.FrameInterval,
				Logger:        logger,
				Options:       tui.Options{ExportDir: b.ExportDir},
			})
		}
		if err != nil {
			return err
		}
		if err := b.export(out, cmd.OutOrStdout()); err != nil {
			return err
		}
		if out != nil && out.Status == orchestrator.Failed {
			return fmt.Errorf("run %s failed: %w", out.TaskID, out.Err)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringArrayVarP(&runOpts.models, "model", "m", nil, "model to benchmark (repeatable)")
	f.BoolVar(&runOpts.all, "all", false, "benchmark every model in the catalog")
	f.StringVarP(&runOpts.question, "question", "q", "", "question to send")
	f.IntVarP(&runOpts.preset, "preset", "p", 0, "use preset question N (see 'questions')")
	f.IntP("concurrency", "c", 0, "parallel requests per model")
	f.IntP("iterations", "n", 0, "rounds of parallel requests")
	f.IntP("max-tokens", "t", 0, "maximum tokens per answer")
	f.Float64("temperature", 0, "sampling temperature")
	f.BoolVar(&runOpts.noStream, "no-stream", false, "request complete answers instead of streams")
	f.BoolVar(&runOpts.plain, "plain", false, "print results instead of the interactive view")
	f.StringVar(&runOpts.export, "export", "", "export the summary when done: csv, json or yaml")
	f.StringVar(&runOpts.exportDir, "export-dir", ".", "directory for CSV exports")
	f.StringVarP(&runOpts.format, "format", "f", "", "print the plain result as json or yaml")

	bindFlags(f, map[string]string{
		"defaults.concurrency": "concurrency",
		"defaults.iterations":  "iterations",
		"defaults.max_tokens":  "max-tokens",
		"defaults.temperature": "temperature",
	})

	rootCmd.AddCommand(runCmd)
}

// pickQuestion returns the explicit question, or the 1-based preset.
func pickQuestion(question string, preset int, presets []config.Question) (string, error) {
	if q := strings.TrimSpace(question); q != "" {
		return q, nil
	}
	if preset == 0 {
		return "", errors.New("a question is required: use --question or --preset")
	}
	if preset < 1 || preset > len(presets) {
		return "", fmt.Errorf("preset must be between 1 and %d", len(presets))
	}
	return presets[preset-1].Value, nil
}

// buildRun selects models and fills the request from defaults, leaving out
// every parameter one of the selected models does not support.
func buildRun(available []catalog.Info, names []string, all bool, question string, d bench.Defaults) (bench.TestConfig, error) {
	byName := make(map[string]catalog.Info, len(available))
	for _, m := range available {
		byName[m.Name] = m
	}

	if all {
		names = names[:0:0]
		for _, m := range available {
			names = append(names, m.Name)
		}
	}
	if len(names) == 0 {
		return bench.TestConfig{}, errors.New("select at least one model with --model or --all")
	}

	selected := make([]catalog.Info, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		m, ok := byName[name]
		if !ok {
			known := make([]string, 0, len(byName))
			for k := range byName {
				known = append(known, k)
			}
			sort.Strings(known)
			return bench.TestConfig{}, fmt.Errorf("unknown model %q (available: %s)", name, strings.Join(known, ", "))
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		selected = append(selected, m)
	}

	run := bench.TestConfig{Question: question, Concurrency: d.Concurrency, Iterations: d.Iterations}
	for _, m := range selected {
		run.Models = append(run.Models, m.Name)
	}
	params := catalog.SupportedParams(selected)
	if params.MaxTokens {
		n := d.MaxTokens
		run.MaxTokens = &n
	}
	if params.Temperature {
		t := d.Temperature
		run.Temperature = &t
	}
	if params.Stream {
		s := d.Stream
		run.Stream = &s
	}
	return run, nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// commandContext is the context subcommands run with.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
