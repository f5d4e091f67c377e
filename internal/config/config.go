// Package config loads the CLI configuration from a YAML file, environment
// variables prefixed LLMSTREAMBENCH_ and bound flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"llmstreambench/internal/api"
	"llmstreambench/internal/bench"
	"llmstreambench/internal/catalog"
)

const (
	// FileName is the config file looked up in the home directory.
	FileName  = ".llmstreambench"
	EnvPrefix = "LLMSTREAMBENCH"
)

// Question is a preset prompt.
type Question struct {
	Label string `mapstructure:"label" yaml:"label"`
	Value string `mapstructure:"value" yaml:"value"`
}

// Config is the client side configuration.
type Config struct {
	Server        string         `mapstructure:"server"`
	Transport     string         `mapstructure:"transport"`
	FrameInterval time.Duration  `mapstructure:"frame_interval"`
	APIVersion    string         `mapstructure:"api_version"`
	LogFile       string         `mapstructure:"log_file"`
	Defaults      bench.Defaults `mapstructure:"defaults"`
	Limits        bench.Limits   `mapstructure:"limits"`
	Questions     []Question     `mapstructure:"questions"`
}

// DefaultQuestions are offered when the config file has none.
var DefaultQuestions = []Question{
	{Label: "Beginner", Value: "how to learn english"},
	{Label: "Basic", Value: "Explain how transformer attention works at a high level"},
	{Label: "Intermediate", Value: "Compare gpt-5.1 and gpt-4o in terms of reasoning and hallucination tendencies"},
	{Label: "Advanced", Value: "Design a roadmap for building an autonomous AI agent that handles multi-turn customer support"},
	{Label: "Expert", Value: "Estimate the trade-offs between RLHF and constitutional AI when fine-tuning large models"},
}

// SetDefaults registers every key with its default value so that
// environment variables can override keys missing from the file.
func SetDefaults(v *viper.Viper) {
	d := bench.DefaultDefaults()
	l := bench.DefaultLimits()

	v.SetDefault("server", "http://localhost:8080")
	v.SetDefault("transport", string(api.TransportSSE))
	v.SetDefault("frame_interval", 50*time.Millisecond)
	v.SetDefault("api_version", catalog.DefaultAPIVersion)
	v.SetDefault("log_file", "")

	v.SetDefault("defaults.concurrency", d.Concurrency)
	v.SetDefault("defaults.iterations", d.Iterations)
	v.SetDefault("defaults.max_tokens", d.MaxTokens)
	v.SetDefault("defaults.temperature", d.Temperature)
	v.SetDefault("defaults.stream", d.Stream)

	for key, r := range map[string]bench.Range{
		"concurrency": l.Concurrency,
		"iterations":  l.Iterations,
		"max_tokens":  l.MaxTokens,
		"temperature": l.Temperature,
	} {
		v.SetDefault("limits."+key+".min", r.Min)
		v.SetDefault("limits."+key+".max", r.Max)
	}
}

// Setup points v at file (or ~/.llmstreambench.yaml when file is empty) and
// enables the environment overrides.
func Setup(v *viper.Viper, file string) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file, if any, and decodes the result. A missing
// default file is not an error; a missing explicit file is.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Questions) == 0 {
		cfg.Questions = append([]Question(nil), DefaultQuestions...)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values the CLI cannot work without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server) == "" {
		return errors.New("server must not be empty")
	}
	if _, err := api.ParseTransport(c.Transport); err != nil {
		return err
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive, got %s", c.FrameInterval)
	}
	for name, r := range map[string]bench.Range{
		"concurrency": c.Limits.Concurrency,
		"iterations":  c.Limits.Iterations,
		"max_tokens":  c.Limits.MaxTokens,
		"temperature": c.Limits.Temperature,
	} {
		if r.Min > r.Max {
			return fmt.Errorf("limits.%s: min %g is greater than max %g", name, r.Min, r.Max)
		}
	}
	return nil
}

// TransportKind returns the parsed transport.
func (c Config) TransportKind() api.Transport {
	t, _ := api.ParseTransport(c.Transport)
	return t
}

// Client builds an API client for the configured server.
func (c Config) Client() *api.Client {
	client := api.New(c.Server)
	client.Transport = c.TransportKind()
	return client
}

// DefaultPath is where the config file is looked up by default.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return FileName + ".yaml"
	}
	return filepath.Join(home, FileName+".yaml")
}
