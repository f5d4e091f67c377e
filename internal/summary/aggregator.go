package summary

// Aggregator keeps two independent views of the statistics stream: the live
// incremental table and the complete snapshot captured at the end of a run.
// Neither sink reads the other. Not safe for concurrent use.
type Aggregator struct {
	order []string
	rows  map[string]Row

	complete    []Row
	hasComplete bool
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{rows: make(map[string]Row)}
}

// ApplyIncremental merges rows into the live table. An existing model keeps
// its position and takes the new values; a new model is appended.
func (a *Aggregator) ApplyIncremental(rows []Row) {
	for _, r := range rows {
		if _, ok := a.rows[r.Model]; !ok {
			a.order = append(a.order, r.Model)
		}
		a.rows[r.Model] = r.Clone()
	}
}

// ApplyComplete replaces the complete snapshot. An empty snapshot holds no
// data, so it leaves nothing captured.
func (a *Aggregator) ApplyComplete(rows []Row) {
	a.complete = cloneRows(rows)
	a.hasComplete = len(rows) > 0
}

// Incremental returns the live table in first-seen order.
func (a *Aggregator) Incremental() []Row {
	out := make([]Row, 0, len(a.order))
	for _, m := range a.order {
		out = append(out, a.rows[m].Clone())
	}
	return out
}

// Complete returns the last complete snapshot, if one was captured.
func (a *Aggregator) Complete() ([]Row, bool) {
	if !a.hasComplete {
		return nil, false
	}
	return cloneRows(a.complete), true
}

// Reset clears both sinks.
func (a *Aggregator) Reset() {
	a.order = nil
	a.rows = make(map[string]Row)
	a.complete = nil
	a.hasComplete = false
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
