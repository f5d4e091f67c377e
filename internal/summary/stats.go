package summary

import "math"

// Record is the outcome of a single request against a model.
type Record struct {
	Model     string
	RequestID int
	LatencyMs float64
	// FirstTokenMs is set only for streaming requests that produced content.
	FirstTokenMs     *float64
	Err              string
	PromptTokens     int
	CompletionTokens int
	Response         string
}

// Failed reports whether the request ended in error.
func (r Record) Failed() bool { return r.Err != "" }

// Summarize groups records by model in first-seen order. Error rate counts
// every request; latency figures use successful requests only, and min/max
// are reported only when more than one sample exists.
func Summarize(records []Record) []Row {
	var order []string
	byModel := make(map[string][]Record)
	for _, r := range records {
		if _, ok := byModel[r.Model]; !ok {
			order = append(order, r.Model)
		}
		byModel[r.Model] = append(byModel[r.Model], r)
	}

	rows := make([]Row, 0, len(order))
	for _, model := range order {
		rows = append(rows, summarizeModel(model, byModel[model]))
	}
	return rows
}

func summarizeModel(model string, records []Record) Row {
	var latencies, firstTokens []float64
	for _, r := range records {
		if r.Failed() {
			continue
		}
		latencies = append(latencies, r.LatencyMs)
		if r.FirstTokenMs != nil {
			firstTokens = append(firstTokens, *r.FirstTokenMs)
		}
	}

	total := len(records)
	success := len(latencies)
	errors := total - success

	row := Row{
		Model:         model,
		SuccessCount:  success,
		TotalRequests: total,
		ErrorCount:    &errors,
	}
	if total > 0 {
		row.ErrorRate = Float(float64(errors) / float64(total))
	} else {
		row.ErrorRate = Float(0)
	}
	row.AvgLatency, row.MinLatency, row.MaxLatency = describe(latencies)
	row.FirstTokenAvg, row.FirstTokenMin, row.FirstTokenMax = describe(firstTokens)
	return row
}

func describe(values []float64) (avg, lo, hi *float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	sum := 0.0
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		sum += v
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	avg = Float(sum / float64(len(values)))
	if len(values) > 1 {
		lo, hi = Float(minV), Float(maxV)
	}
	return avg, lo, hi
}

// FailedRow is the row reported for a model whose whole run failed.
func FailedRow(model string, totalRequests int) Row {
	errs := totalRequests
	return Row{
		Model:         model,
		ErrorRate:     Float(1),
		SuccessCount:  0,
		TotalRequests: totalRequests,
		ErrorCount:    &errs,
	}
}
