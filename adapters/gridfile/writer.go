package gridfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"patchcert/ports"
)

// Writer emits samples in the format Reader consumes.
type Writer struct {
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter wraps w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{buf: buf, enc: json.NewEncoder(buf)}
}

// Write appends one sample. Negative labels are written as unlabelled.
func (w *Writer) Write(sample *ports.Sample) error {
	rec := record{ID: sample.ID.String(), Grid: sample.Evidence.Cells()}
	if sample.Label >= 0 {
		label := sample.Label
		rec.Label = &label
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode sample %s: %w", sample.ID, err)
	}
	return nil
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}
