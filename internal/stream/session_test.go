package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmstreambench/internal/errdefs"
	"llmstreambench/internal/render"
	"llmstreambench/internal/runstate"
	"llmstreambench/internal/summary"
)

type fixture struct {
	mu      sync.Mutex
	gens    Generations
	table   *runstate.Table
	agg     *summary.Aggregator
	sched   *render.Scheduler
	flushes []func()
	ends    []End
	frames  [][]render.Frame
}

func newFixture(models ...string) *fixture {
	f := &fixture{table: runstate.NewTable(), agg: summary.NewAggregator()}
	f.table.Reset(models)
	f.sched = render.NewScheduler(f.table, render.PlainRender,
		func(fr []render.Frame) { f.frames = append(f.frames, fr) },
		func(fn func()) { f.flushes = append(f.flushes, fn) })
	return f
}

func (f *fixture) session() *Session {
	gen := f.gens.Next()
	return NewSession(Config{
		Generation:  gen,
		Generations: &f.gens,
		Lock:        &f.mu,
		Table:       f.table,
		Summary:     f.agg,
		Render:      f.sched,
		OnEnd:       func(e End) { f.ends = append(f.ends, e) },
	})
}

func ev(kind Kind, data string) Event { return Event{Kind: kind, Data: []byte(data)} }

func TestSession_ChunksDriveStateAndRender(t *testing.T) {
	f := newFixture("A", "B")
	s := f.session()

	s.Dispatch(ev(KindChunk, `{"model":"A","chunk":"Hel"}`))
	s.Dispatch(ev(KindChunk, `{"model":"A","chunk":"lo","status":"completed","duration":120}`))
	s.Dispatch(ev(KindChunk, `{"model":"B","status":"error"}`))
	s.Dispatch(ev(KindComplete, `{}`))

	a, _ := f.table.Get("A")
	b, _ := f.table.Get("B")
	assert.Equal(t, "Hello", a.Output)
	assert.Equal(t, runstate.Completed, a.Status)
	require.NotNil(t, a.Duration)
	assert.Equal(t, 120.0, *a.Duration)
	assert.Equal(t, runstate.Error, b.Status)

	require.Len(t, f.ends, 1)
	assert.Equal(t, EndCompleted, f.ends[0].Reason)
	assert.NoError(t, f.ends[0].Err)
	assert.Len(t, f.flushes, 1)
}

func TestSession_CompleteForcesOpenModels(t *testing.T) {
	f := newFixture("A", "B")
	s := f.session()

	s.Dispatch(ev(KindChunk, `{"model":"A","status":"streaming","duration":80}`))
	s.Dispatch(ev(KindComplete, `{"status":"completed"}`))

	a, _ := f.table.Get("A")
	b, _ := f.table.Get("B")
	assert.Equal(t, runstate.Completed, a.Status)
	assert.Equal(t, 80.0, *a.Duration)
	assert.Equal(t, runstate.Completed, b.Status)
	assert.True(t, s.Ended())
}

func TestSession_MalformedSummaryIsDropped(t *testing.T) {
	f := newFixture("A")
	s := f.session()

	s.Dispatch(ev(KindSummary, `{"model":"A"}`))
	s.Dispatch(ev(KindSummary, `not json`))
	s.Dispatch(ev(KindSummaryComplete, `[{"avg_latency":1}]`))
	s.Dispatch(ev(KindSummaryComplete, `null`))
	s.Dispatch(ev(KindSummary, `[{"model":"A","success_count":1,"total_requests":1}]`))

	assert.False(t, s.Ended())
	inc := f.agg.Incremental()
	require.Len(t, inc, 1)
	assert.Equal(t, 1, inc[0].SuccessCount)
	_, ok := f.agg.Complete()
	assert.False(t, ok)
}

func TestSession_SummaryCompleteReplaces(t *testing.T) {
	f := newFixture("A")
	s := f.session()

	s.Dispatch(ev(KindSummaryComplete, `[{"model":"A","success_count":1,"total_requests":1}]`))
	s.Dispatch(ev(KindSummaryComplete, `[{"model":"B","success_count":2,"total_requests":2}]`))

	rows, ok := f.agg.Complete()
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "B", rows[0].Model)
	assert.Empty(t, f.agg.Incremental())
}

func TestSession_ErrorEventEndsWholeSession(t *testing.T) {
	f := newFixture("A", "B")
	s := f.session()

	s.Dispatch(ev(KindChunk, `{"model":"A","status":"streaming"}`))
	s.Dispatch(ev(KindError, `{"error":"quota exceeded"}`))
	handled := s.Dispatch(ev(KindChunk, `{"model":"B","chunk":"late"}`))

	assert.False(t, handled)
	require.Len(t, f.ends, 1)
	assert.Equal(t, EndRemoteError, f.ends[0].Reason)
	var remote *errdefs.RemoteExecutionError
	require.True(t, errors.As(f.ends[0].Err, &remote))
	assert.Equal(t, "quota exceeded", remote.Message)

	a, _ := f.table.Get("A")
	assert.Equal(t, runstate.Streaming, a.Status, "error must not force a synthetic completion")
	b, _ := f.table.Get("B")
	assert.Empty(t, b.Output)
}

func TestSession_ErrorEventWithoutMessage(t *testing.T) {
	for _, payload := range []string{`{}`, ``, `not json`} {
		f := newFixture("A")
		s := f.session()

		s.Dispatch(ev(KindError, payload))

		require.Len(t, f.ends, 1, "payload %q", payload)
		assert.Equal(t, EndRemoteError, f.ends[0].Reason)
		assert.EqualError(t, f.ends[0].Err, "remote execution failed")
	}
}

func TestSession_RetiredGenerationDiscardsEvents(t *testing.T) {
	f := newFixture("A")
	s := f.session()

	s.Dispatch(ev(KindChunk, `{"model":"A","chunk":"x"}`))
	f.gens.Retire(s.Generation())
	f.flushes = nil

	assert.False(t, s.Dispatch(ev(KindChunk, `{"model":"A","chunk":"y","status":"completed"}`)))
	assert.False(t, s.Dispatch(ev(KindSummary, `[{"model":"A"}]`)))
	assert.False(t, s.Dispatch(ev(KindComplete, `{}`)))

	a, _ := f.table.Get("A")
	assert.Equal(t, "x", a.Output)
	assert.Equal(t, runstate.Connecting, a.Status)
	assert.Empty(t, f.agg.Incremental())
	assert.Empty(t, f.flushes, "no dirty marks after retirement")
	assert.Empty(t, f.ends)
}

func TestSession_NewerGenerationSupersedes(t *testing.T) {
	f := newFixture("A")
	old := f.session()
	_ = f.session()

	assert.False(t, old.Dispatch(ev(KindChunk, `{"model":"A","chunk":"stale"}`)))
}

func TestSession_UnknownKindsAndModelsIgnored(t *testing.T) {
	f := newFixture("A")
	s := f.session()

	assert.True(t, s.Dispatch(ev("message", `{"type":"ping"}`)))
	s.Dispatch(ev(KindChunk, `{"model":"ghost","chunk":"x"}`))
	s.Dispatch(ev(KindChunk, `{"model":"A","status":"paused"}`))

	a, _ := f.table.Get("A")
	assert.Equal(t, runstate.Connecting, a.Status)
	assert.False(t, s.Ended())
}

func TestSession_RunTransportFailure(t *testing.T) {
	f := newFixture("A")
	s := f.session()
	src := &SliceSource{
		Events: []Event{ev(KindChunk, `{"model":"A","status":"streaming"}`)},
		End:    errors.New("connection reset"),
	}

	s.Run(context.Background(), src)

	require.Len(t, f.ends, 1)
	assert.Equal(t, EndTransport, f.ends[0].Reason)
	var terr *errdefs.TransportError
	require.True(t, errors.As(f.ends[0].Err, &terr))
	a, _ := f.table.Get("A")
	assert.Equal(t, runstate.Streaming, a.Status, "transport failure must not force completion")
	assert.True(t, src.Closed())
}

func TestSession_RunEOFBeforeCompleteIsTransportError(t *testing.T) {
	f := newFixture("A")
	s := f.session()

	s.Run(context.Background(), &SliceSource{})

	require.Len(t, f.ends, 1)
	assert.ErrorIs(t, f.ends[0].Err, io.ErrUnexpectedEOF)
}

func TestSession_RunStopsAfterComplete(t *testing.T) {
	f := newFixture("A")
	s := f.session()
	src := &SliceSource{Events: []Event{
		ev(KindComplete, `{}`),
		ev(KindChunk, `{"model":"A","chunk":"after"}`),
	}}

	s.Run(context.Background(), src)

	a, _ := f.table.Get("A")
	assert.Empty(t, a.Output)
	assert.Len(t, f.ends, 1)
	assert.True(t, src.Closed())
}

func TestSession_RunCancelledIsSilent(t *testing.T) {
	f := newFixture("A")
	s := f.session()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Run(ctx, &SliceSource{End: context.Canceled})

	assert.Empty(t, f.ends)
}
