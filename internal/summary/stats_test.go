package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_StatsRules(t *testing.T) {
	records := []Record{
		{Model: "A", LatencyMs: 100, FirstTokenMs: Float(10)},
		{Model: "B", LatencyMs: 500},
		{Model: "A", LatencyMs: 300, FirstTokenMs: Float(30)},
		{Model: "A", LatencyMs: 900, Err: "HTTP 500"},
		{Model: "C", Err: "timeout"},
	}

	rows := Summarize(records)
	require.Len(t, rows, 3)

	a := rows[0]
	assert.Equal(t, "A", a.Model)
	assert.Equal(t, 3, a.TotalRequests)
	assert.Equal(t, 2, a.SuccessCount)
	assert.InDelta(t, 1.0/3.0, *a.ErrorRate, 1e-9)
	assert.Equal(t, 200.0, *a.AvgLatency)
	assert.Equal(t, 100.0, *a.MinLatency)
	assert.Equal(t, 300.0, *a.MaxLatency)
	assert.Equal(t, 20.0, *a.FirstTokenAvg)
	assert.Equal(t, 10.0, *a.FirstTokenMin)
	assert.Equal(t, 30.0, *a.FirstTokenMax)

	// a single success has an average but no min/max
	b := rows[1]
	assert.Equal(t, 500.0, *b.AvgLatency)
	assert.Nil(t, b.MinLatency)
	assert.Nil(t, b.MaxLatency)
	assert.Nil(t, b.FirstTokenAvg)

	c := rows[2]
	assert.Nil(t, c.AvgLatency)
	assert.Equal(t, 1.0, *c.ErrorRate)
	assert.Equal(t, 1, *c.ErrorCount)
}

func TestFailedRow(t *testing.T) {
	r := FailedRow("A", 6)
	assert.Equal(t, 1.0, *r.ErrorRate)
	assert.Equal(t, 0, r.SuccessCount)
	assert.Equal(t, 6, r.TotalRequests)
	assert.Nil(t, r.AvgLatency)
}

func TestParseRows(t *testing.T) {
	rows, err := ParseRows([]byte(`[{"model":"A","avg_latency":12.5,"min_latency":null,"error_rate":0,"success_count":1,"total_requests":1}]`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 12.5, *rows[0].AvgLatency)
	assert.Nil(t, rows[0].MinLatency)

	for _, bad := range []string{`{"model":"A"}`, `not json`, `[{"avg_latency":1}]`, `[1,2]`, `null`} {
		_, err := ParseRows([]byte(bad))
		assert.Error(t, err, "payload %s", bad)
	}
}
