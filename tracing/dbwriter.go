package tracing

import (
	"context"

	"github.com/sarchlab/desim/datarecording"
)

// DefaultTable is the table decisions are stored in.
const DefaultTable = "decisions"

// DBWriter stores decisions through a data recorder.
type DBWriter struct {
	recorder datarecording.DataRecorder
	table    string
}

// NewDBWriter creates the decision table in the recorder.
func NewDBWriter(recorder datarecording.DataRecorder) *DBWriter {
	recorder.CreateTable(DefaultTable, Decision{})

	return &DBWriter{
		recorder: recorder,
		table:    DefaultTable,
	}
}

// Write buffers a decision in the recorder.
func (w *DBWriter) Write(d Decision) {
	w.recorder.InsertData(w.table, d)
}

// Flush flushes the recorder.
func (w *DBWriter) Flush() {
	w.recorder.Flush()
}

// ReadDecisions loads a decision log written by a DBWriter, in order.
func ReadDecisions(
	ctx context.Context,
	reader datarecording.DataReader,
) ([]Decision, error) {
	reader.MapTable(DefaultTable, Decision{})

	rows, _, err := reader.Query(ctx, DefaultTable,
		datarecording.QueryParams{OrderBy: "Seq"})
	if err != nil {
		return nil, err
	}

	decisions := make([]Decision, 0, len(rows))
	for _, r := range rows {
		decisions = append(decisions, r.(Decision))
	}

	return decisions, nil
}
