package main

import (
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v4"

	"llmstreambench/internal/orchestrator"
)

func newBenchmarkResult(b Benchmark, out orchestrator.Outcome) BenchmarkResult {
	res := BenchmarkResult{TaskID: out.TaskID, Status: out.Status.String(), TestConfig: b.Run}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if out.Record != nil {
		res.Summary = out.Record.Summary
	}
	return res
}

func (result *BenchmarkResult) Json() (string, error) {
	prettyJSON, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	return string(prettyJSON), nil
}

func (result *BenchmarkResult) Yaml() (string, error) {
	yamlData, err := yaml.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("error marshalling yaml: %v", err)
	}

	return string(yamlData), nil
}

// print writes result in format ("json" or "yaml").
func (result *BenchmarkResult) print(w io.Writer, format string) error {
	var (
		out string
		err error
	)
	switch format {
	case "json":
		out, err = result.Json()
	case "yaml":
		out, err = result.Yaml()
	default:
		return fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
