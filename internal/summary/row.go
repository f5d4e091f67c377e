// Package summary aggregates per-model latency statistics rows.
package summary

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Row holds the aggregated statistics of one model. Latency values are in
// milliseconds; nil means the value is not available.
type Row struct {
	Model         string   `json:"model" yaml:"model"`
	AvgLatency    *float64 `json:"avg_latency" yaml:"avg_latency"`
	MinLatency    *float64 `json:"min_latency" yaml:"min_latency"`
	MaxLatency    *float64 `json:"max_latency" yaml:"max_latency"`
	FirstTokenAvg *float64 `json:"first_token_avg" yaml:"first_token_avg"`
	FirstTokenMin *float64 `json:"first_token_min" yaml:"first_token_min"`
	FirstTokenMax *float64 `json:"first_token_max" yaml:"first_token_max"`
	ErrorRate     *float64 `json:"error_rate" yaml:"error_rate"`
	SuccessCount  int      `json:"success_count" yaml:"success_count"`
	TotalRequests int      `json:"total_requests" yaml:"total_requests"`
	ErrorCount    *int     `json:"error_count,omitempty" yaml:"error_count,omitempty"`
}

// Clone returns a deep copy of r.
func (r Row) Clone() Row {
	c := r
	c.AvgLatency = cloneFloat(r.AvgLatency)
	c.MinLatency = cloneFloat(r.MinLatency)
	c.MaxLatency = cloneFloat(r.MaxLatency)
	c.FirstTokenAvg = cloneFloat(r.FirstTokenAvg)
	c.FirstTokenMin = cloneFloat(r.FirstTokenMin)
	c.FirstTokenMax = cloneFloat(r.FirstTokenMax)
	c.ErrorRate = cloneFloat(r.ErrorRate)
	if r.ErrorCount != nil {
		n := *r.ErrorCount
		c.ErrorCount = &n
	}
	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// ParseRows decodes an event payload that must be a JSON array of rows, each
// naming its model.
func ParseRows(data []byte) ([]Row, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("summary payload is not an array: %w", err)
	}
	if raw == nil {
		return nil, errors.New("summary payload is not an array: null")
	}
	rows := make([]Row, 0, len(raw))
	for i, item := range raw {
		var row Row
		if err := json.Unmarshal(item, &row); err != nil {
			return nil, fmt.Errorf("summary row %d: %w", i, err)
		}
		if row.Model == "" {
			return nil, fmt.Errorf("summary row %d: %w", i, errMissingModel)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var errMissingModel = errors.New("missing model")
