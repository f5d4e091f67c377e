package summary

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.yaml.in/yaml/v4"
)

// CSVHeaders are the column names of the CSV export.
var CSVHeaders = []string{
	"Model",
	"Avg Latency (ms)",
	"Min Latency (ms)",
	"Max Latency (ms)",
	"First Token Avg (ms)",
	"First Token Min (ms)",
	"First Token Max (ms)",
	"Error Rate",
	"Success/Total",
}

const utf8BOM = "\ufeff"

// WriteCSV writes rows as a spreadsheet-friendly CSV document, starting with
// a UTF-8 byte order mark.
func WriteCSV(w io.Writer, rows []Row) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("error writing CSV: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeaders); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}
	for _, r := range rows {
		model := r.Model
		if model == "" {
			model = "-"
		}
		record := []string{
			model,
			formatValue(r.AvgLatency),
			formatValue(r.MinLatency),
			formatValue(r.MaxLatency),
			formatValue(r.FirstTokenAvg),
			formatValue(r.FirstTokenMin),
			formatValue(r.FirstTokenMax),
			formatRate(r.ErrorRate),
			fmt.Sprintf("%d/%d", r.SuccessCount, r.TotalRequests),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("error writing CSV row for %s: %w", r.Model, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatValue prints latencies above 100ms with two decimals and smaller
// values as-is.
func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}
	if *v > 100 {
		return strconv.FormatFloat(*v, 'f', 2, 64)
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatRate(v *float64) string {
	if v == nil {
		return "0%"
	}
	return strconv.FormatFloat(*v*100, 'f', 2, 64) + "%"
}

// CSVFileName returns the export file name for the given time.
func CSVFileName(t time.Time) string {
	return fmt.Sprintf("llm_test_summary_%d.csv", t.UnixMilli())
}

// JSON renders rows as indented JSON.
func JSON(rows []Row) (string, error) {
	data, err := json.MarshalIndent(rows, "", "    ")
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}
	return string(data), nil
}

// YAML renders rows as YAML.
func YAML(rows []Row) (string, error) {
	data, err := yaml.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("error marshalling yaml: %w", err)
	}
	return string(data), nil
}

// Write renders rows in the named format ("csv", "json" or "yaml").
func Write(w io.Writer, format string, rows []Row) error {
	switch format {
	case "csv":
		return WriteCSV(w, rows)
	case "json", "yaml":
		var (
			out string
			err error
		)
		if format == "json" {
			out, err = JSON(rows)
		} else {
			out, err = YAML(rows)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
