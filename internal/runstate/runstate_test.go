package runstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_ResetStartsConnecting(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"A", "B", "A"})

	assert.Equal(t, []string{"A", "B"}, tbl.Keys())
	for _, k := range tbl.Keys() {
		st, ok := tbl.Get(k)
		require.True(t, ok)
		assert.Equal(t, Connecting, st.Status)
		assert.Empty(t, st.Output)
		assert.Nil(t, st.Duration)
	}
}

func TestTable_OutputIsConcatenationInDeliveryOrder(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"M"})

	fragments := []string{"The ", "quick", "", " brown", " fox", " fox"}
	want := ""
	for _, f := range fragments {
		require.True(t, tbl.AppendChunk("M", f))
		want += f
	}

	st, _ := tbl.Get("M")
	assert.Equal(t, want, st.Output)
}

func TestTable_TerminalStatusDoesNotRegress(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"A", "B"})

	tbl.ApplyStatus("A", Streaming)
	tbl.ApplyStatus("A", Completed)
	tbl.ApplyStatus("A", Streaming)
	tbl.ApplyStatus("A", Error)

	tbl.ApplyStatus("B", Error)
	tbl.ApplyStatus("B", Connecting)

	a, _ := tbl.Get("A")
	b, _ := tbl.Get("B")
	assert.Equal(t, Completed, a.Status)
	assert.Equal(t, Error, b.Status)
}

func TestTable_StatusCanJumpDirectly(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"A"})

	tbl.ApplyStatus("A", Completed)

	a, _ := tbl.Get("A")
	assert.Equal(t, Completed, a.Status)
}

func TestTable_LateChunksAppendAfterTerminal(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"A"})

	tbl.AppendChunk("A", "done")
	tbl.ApplyStatus("A", Completed)
	tbl.AppendChunk("A", "!")

	a, _ := tbl.Get("A")
	assert.Equal(t, "done!", a.Output)
	assert.Equal(t, Completed, a.Status)
}

func TestTable_DurationLatestWins(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"A"})

	tbl.SetDuration("A", 300)
	tbl.SetDuration("A", 120)

	a, _ := tbl.Get("A")
	require.NotNil(t, a.Duration)
	assert.Equal(t, 120.0, *a.Duration)
}

func TestTable_UnknownModelIgnored(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"A"})

	assert.False(t, tbl.AppendChunk("Z", "x"))
	assert.False(t, tbl.ApplyStatus("Z", Error))
	assert.False(t, tbl.SetDuration("Z", 1))
	_, ok := tbl.Get("Z")
	assert.False(t, ok)
}

func TestTable_ForceCompleteKeepsDuration(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"A", "B", "C"})
	tbl.ApplyStatus("A", Streaming)
	tbl.SetDuration("A", 42)
	tbl.ApplyStatus("C", Error)

	changed := tbl.ForceComplete()

	assert.Equal(t, []string{"A", "B"}, changed)
	a, _ := tbl.Get("A")
	b, _ := tbl.Get("B")
	c, _ := tbl.Get("C")
	assert.Equal(t, Completed, a.Status)
	require.NotNil(t, a.Duration)
	assert.Equal(t, 42.0, *a.Duration)
	assert.Equal(t, Completed, b.Status)
	assert.Equal(t, Error, c.Status)
}

func TestTable_GetReturnsCopy(t *testing.T) {
	tbl := NewTable()
	tbl.Reset([]string{"A"})
	tbl.SetDuration("A", 5)

	st, _ := tbl.Get("A")
	*st.Duration = 99

	again, _ := tbl.Get("A")
	assert.Equal(t, 5.0, *again.Duration)
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{Connecting, Streaming, Completed, Error} {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("paused")
	assert.Error(t, err)
}
