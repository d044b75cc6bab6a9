package tracing

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/desim/idgen"
)

// CSVWriter stores decisions into a CSV file.
type CSVWriter struct {
	path string
	file *os.File
	csv  *csv.Writer

	decisions  []Decision
	bufferSize int
	closed     bool
}

// NewCSVWriter creates a new CSVWriter. The file is path + ".csv".
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Init creates the csv file. It panics if the file already exists. The file
// is flushed and closed when the program exits through atexit.
func (w *CSVWriter) Init() {
	if w.path == "" {
		w.path = idgen.RunName("desim_decisions")
	}

	filename := w.Filename()
	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	file, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	w.file = file
	w.csv = csv.NewWriter(file)

	w.writeRecord([]string{"Seq", "Time", "Delta", "Kind", "Subject", "Detail"})
	w.csv.Flush()

	atexit.Register(func() {
		if err := w.Close(); err != nil {
			panic(err)
		}
	})
}

// Filename returns the name of the csv file.
func (w *CSVWriter) Filename() string {
	return w.path + ".csv"
}

// Write buffers a decision.
func (w *CSVWriter) Write(d Decision) {
	w.decisions = append(w.decisions, d)
	if len(w.decisions) >= w.bufferSize {
		w.Flush()
	}
}

// Flush writes the buffered decisions to the file.
func (w *CSVWriter) Flush() {
	if w.closed {
		return
	}

	for _, d := range w.decisions {
		w.writeRecord([]string{
			strconv.FormatUint(d.Seq, 10),
			strconv.FormatUint(uint64(d.Time), 10),
			strconv.FormatUint(d.Delta, 10),
			d.Kind,
			d.Subject,
			d.Detail,
		})
	}

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		panic(err)
	}

	w.decisions = nil
}

// writeRecord quotes fields holding commas, quotes or newlines.
func (w *CSVWriter) writeRecord(record []string) {
	if err := w.csv.Write(record); err != nil {
		panic(err)
	}
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *CSVWriter) Close() error {
	if w.closed {
		return nil
	}

	w.Flush()
	w.closed = true

	return w.file.Close()
}
