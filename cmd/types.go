package main

import (
	"llmstreambench/internal/bench"
	"llmstreambench/internal/summary"
)

// Benchmark is one run started from the command line.
type Benchmark struct {
	Run       bench.TestConfig
	Plain     bool
	Export    string
	ExportDir string
	Format    string
}

// BenchmarkResult is the printable outcome of a run.
type BenchmarkResult struct {
	TaskID     string           `json:"task_id" yaml:"task-id"`
	Status     string           `json:"status" yaml:"status"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	TestConfig bench.TestConfig `json:"test_config" yaml:"test-config"`
	Summary    []summary.Row    `json:"summary" yaml:"summary"`
}
