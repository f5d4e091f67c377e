package summary

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(model string, avg float64, success, total int) Row {
	return Row{Model: model, AvgLatency: Float(avg), ErrorRate: Float(0), SuccessCount: success, TotalRequests: total}
}

func TestApplyIncremental_Idempotent(t *testing.T) {
	a := NewAggregator()
	r := row("A", 120, 2, 2)

	a.ApplyIncremental([]Row{r})
	a.ApplyIncremental([]Row{r})

	got := a.Incremental()
	require.Len(t, got, 1)
	if diff := cmp.Diff(r, got[0]); diff != "" {
		t.Errorf("row changed after re-application (-want +got):\n%s", diff)
	}
}

func TestApplyIncremental_FirstSeenOrderAndInPlaceUpdate(t *testing.T) {
	a := NewAggregator()

	a.ApplyIncremental([]Row{row("B", 200, 1, 2)})
	a.ApplyIncremental([]Row{row("A", 100, 1, 1)})
	a.ApplyIncremental([]Row{row("B", 150, 2, 2), row("C", 90, 1, 1)})

	got := a.Incremental()
	want := []Row{row("B", 150, 2, 2), row("A", 100, 1, 1), row("C", 90, 1, 1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected incremental table (-want +got):\n%s", diff)
	}
}

func TestApplyComplete_ReplacesWholesale(t *testing.T) {
	a := NewAggregator()

	a.ApplyComplete([]Row{row("A", 1, 1, 1), row("B", 2, 1, 1)})
	a.ApplyComplete([]Row{row("C", 3, 1, 1)})

	got, ok := a.Complete()
	require.True(t, ok)
	assert.Equal(t, []Row{row("C", 3, 1, 1)}, got)
}

func TestSinksDoNotCrossRead(t *testing.T) {
	a := NewAggregator()

	a.ApplyIncremental([]Row{row("A", 1, 1, 1)})
	_, ok := a.Complete()
	assert.False(t, ok, "incremental rows must not produce a snapshot")

	a.ApplyComplete([]Row{row("Z", 9, 1, 1)})
	inc := a.Incremental()
	require.Len(t, inc, 1)
	assert.Equal(t, "A", inc[0].Model)
}

func TestAggregator_ReturnedRowsAreCopies(t *testing.T) {
	a := NewAggregator()
	a.ApplyIncremental([]Row{row("A", 1, 1, 1)})

	inc := a.Incremental()
	*inc[0].AvgLatency = 500

	assert.Equal(t, 1.0, *a.Incremental()[0].AvgLatency)
}

func TestAggregator_Reset(t *testing.T) {
	a := NewAggregator()
	a.ApplyIncremental([]Row{row("A", 1, 1, 1)})
	a.ApplyComplete([]Row{row("A", 1, 1, 1)})

	a.Reset()

	assert.Empty(t, a.Incremental())
	_, ok := a.Complete()
	assert.False(t, ok)
}

func TestApplyComplete_EmptySnapshotHoldsNoData(t *testing.T) {
	a := NewAggregator()
	a.ApplyComplete([]Row{row("A", 1, 1, 1)})
	a.ApplyComplete([]Row{})

	got, ok := a.Complete()
	assert.False(t, ok)
	assert.Nil(t, got)
}
