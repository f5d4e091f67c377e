// Package bench holds the run request shared by the client, the backend and
// the history store.
package bench

import (
	"fmt"
	"strings"

	"llmstreambench/internal/errdefs"
)

// TestConfig is one run request. Optional parameters are nil when one of the
// selected models does not support them.
type TestConfig struct {
	Models      []string `json:"models" yaml:"models"`
	Question    string   `json:"question" yaml:"question"`
	Concurrency int      `json:"concurrency" yaml:"concurrency"`
	Iterations  int      `json:"iterations" yaml:"iterations"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Stream      *bool    `json:"stream,omitempty" yaml:"stream,omitempty"`
}

// Validate checks the fields every run needs. It never touches the network.
func (c TestConfig) Validate() error {
	if len(c.Models) == 0 {
		return &errdefs.ValidationError{Field: "models", Reason: "select at least one model"}
	}
	for _, m := range c.Models {
		if strings.TrimSpace(m) == "" {
			return &errdefs.ValidationError{Field: "models", Reason: "model name is blank"}
		}
	}
	if strings.TrimSpace(c.Question) == "" {
		return &errdefs.ValidationError{Field: "question", Reason: "question is blank"}
	}
	if c.Concurrency < 1 {
		return &errdefs.ValidationError{Field: "concurrency", Reason: "must be at least 1"}
	}
	if c.Iterations < 1 {
		return &errdefs.ValidationError{Field: "iterations", Reason: "must be at least 1"}
	}
	return nil
}

// TotalRequests is the number of requests sent to each model.
func (c TestConfig) TotalRequests() int {
	return c.Concurrency * c.Iterations
}

// StreamEnabled reports whether responses are requested as streams. An
// absent flag means streaming.
func (c TestConfig) StreamEnabled() bool {
	return c.Stream == nil || *c.Stream
}

// Clone returns a deep copy.
func (c TestConfig) Clone() TestConfig {
	out := c
	out.Models = append([]string(nil), c.Models...)
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		out.MaxTokens = &v
	}
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.Stream != nil {
		v := *c.Stream
		out.Stream = &v
	}
	return out
}

// Defaults are the values a new run starts from.
type Defaults struct {
	Concurrency int     `mapstructure:"concurrency"`
	Iterations  int     `mapstructure:"iterations"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	Stream      bool    `mapstructure:"stream"`
}

// DefaultDefaults mirrors the values the web client shipped with.
func DefaultDefaults() Defaults {
	return Defaults{Concurrency: 3, Iterations: 1, MaxTokens: 1000, Temperature: 0.7, Stream: true}
}

// Range is an inclusive numeric bound.
type Range struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

func (r Range) contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Limits bound the numeric fields of a request.
type Limits struct {
	Concurrency Range `mapstructure:"concurrency"`
	Iterations  Range `mapstructure:"iterations"`
	MaxTokens   Range `mapstructure:"max_tokens"`
	Temperature Range `mapstructure:"temperature"`
}

// DefaultLimits returns the stock bounds.
func DefaultLimits() Limits {
	return Limits{
		Concurrency: Range{Min: 1, Max: 20},
		Iterations:  Range{Min: 1, Max: 50},
		MaxTokens:   Range{Min: 10, Max: 4000},
		Temperature: Range{Min: 0, Max: 2},
	}
}

// Check validates c and then every numeric field against the limits.
func (l Limits) Check(c TestConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !l.Concurrency.contains(float64(c.Concurrency)) {
		return outOfRange("concurrency", l.Concurrency)
	}
	if !l.Iterations.contains(float64(c.Iterations)) {
		return outOfRange("iterations", l.Iterations)
	}
	if c.MaxTokens != nil && !l.MaxTokens.contains(float64(*c.MaxTokens)) {
		return outOfRange("max_tokens", l.MaxTokens)
	}
	if c.Temperature != nil && !l.Temperature.contains(*c.Temperature) {
		return outOfRange("temperature", l.Temperature)
	}
	return nil
}

func outOfRange(field string, r Range) error {
	return &errdefs.ValidationError{
		Field:  field,
		Reason: fmt.Sprintf("must be between %g and %g", r.Min, r.Max),
	}
}
