package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"llmstreambench/internal/history"
)

// Config is the server configuration read from environment variables.
type Config struct {
	Port           string
	GinMode        string
	ModelsFile     string
	HistoryFile    string
	HistoryLimit   int
	RequestTimeout time.Duration
	TaskTTL        time.Duration
	CORS           CORSConfig
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		Port:           "8080",
		ModelsFile:     "config/models.yaml",
		HistoryFile:    "data/test_history.json",
		HistoryLimit:   history.DefaultLimit,
		RequestTimeout: 60 * time.Second,
		TaskTTL:        time.Hour,
		CORS:           DefaultCORSConfig(),
	}
}

// LoadConfigFromEnv reads the configuration from the process environment.
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(os.Getenv)
}

// LoadConfig reads PORT, GIN_MODE, MODELS_FILE, HISTORY_FILE, HISTORY_LIMIT,
// REQUEST_TIMEOUT, TASK_TTL and the CORS variables through getenv.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if v := getenv("PORT"); v != "" {
		cfg.Port = v
	}
	switch mode := getenv("GIN_MODE"); mode {
	case "", "debug", "release", "test":
		cfg.GinMode = mode
	default:
		return cfg, fmt.Errorf("invalid GIN_MODE %q: must be debug, release or test", mode)
	}
	if v := getenv("MODELS_FILE"); v != "" {
		cfg.ModelsFile = v
	}
	if v := getenv("HISTORY_FILE"); v != "" {
		cfg.HistoryFile = v
	}
	if v := getenv("HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid HISTORY_LIMIT %q: must be a positive integer", v)
		}
		cfg.HistoryLimit = n
	}

	var err error
	if cfg.RequestTimeout, err = durationEnv(getenv, "REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.TaskTTL, err = durationEnv(getenv, "TASK_TTL", cfg.TaskTTL); err != nil {
		return cfg, err
	}

	cfg.CORS = LoadCORSConfig(getenv)
	return cfg, nil
}

// Release reports whether gin runs in release mode.
func (c Config) Release() bool {
	return c.GinMode == "release"
}

// Validate returns the problems found in the configuration, if any.
func (c Config) Validate() []string {
	var problems []string
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		problems = append(problems, fmt.Sprintf("Invalid PORT: %s", c.Port))
	}
	if c.ModelsFile == "" {
		problems = append(problems, "MODELS_FILE must not be empty")
	}
	if c.HistoryFile == "" {
		problems = append(problems, "HISTORY_FILE must not be empty")
	}
	if c.Release() && c.CORS.allowsAll() {
		problems = append(problems, "CORS is set to allow all origins in production mode. Consider setting CORS_ORIGIN environment variable.")
	}
	return problems
}

// durationEnv accepts Go durations ("90s") and plain seconds ("90").
func durationEnv(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, fmt.Errorf("invalid %s %q: must be a positive duration", key, v)
	}
	return d, nil
}
