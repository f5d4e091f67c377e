package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"llmstreambench/internal/config"
	"llmstreambench/internal/logging"
)

var (
	cfgFile string
	v       = viper.New()
	appCfg  config.Config
	logger  = logging.Discard()
	logFile io.Closer
)

// rootCmd is the base command; every subcommand hangs off it.
var rootCmd = &cobra.Command{
	Use:   "llmstreambench",
	Short: "Benchmark streaming LLM deployments",
	Long: `llmstreambench sends the same question to several model deployments at
once and shows their answers stream in, with latency and time-to-first-token
statistics per model. Runs execute on the benchmark server ("llmstreambench
serve") and are stored in its history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultPath()+")")
	pf.StringP("server", "s", "", "benchmark server URL")
	pf.String("transport", "", "event transport: sse or ws")
	pf.String("log-file", "", "write client logs to this file")

	bindFlags(pf, map[string]string{
		"server":    "server",
		"transport": "transport",
		"log_file":  "log-file",
	})
}

// bindFlags binds config keys to the named flags of fs, so a flag set on
// the command line wins over the config file and the environment.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// loadConfig resolves the configuration once flags are parsed.
func loadConfig() error {
	config.Setup(v, cfgFile)
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	appCfg = cfg

	if path := strings.TrimSpace(cfg.LogFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		logger = logging.New(logging.Options{Out: f, Err: f, Level: logging.ParseLevel(os.Getenv("LOG_LEVEL"))})
	}
	return nil
}
