// Package eventlog persists a vnk.Kernel's append-only activity record
// to disk for offline replay. The schema is explicitly not part of the
// stable interface (see spec's event log file section), so gob --
// stdlib, non-portable, reflection-based -- is the right tool: there is
// nothing here for a wire-format library to buy.
package eventlog

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
)

// Writer appends vnk.LogEntry records to an underlying file, opened
// implicitly on create as the spec's "opened implicitly on creat"
// phrasing describes.
type Writer struct {
	f   *os.File
	enc *gob.Encoder
}

// Create truncates (or creates) path and returns a Writer over it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: create %s: %w", path, err)
	}
	return &Writer{f: f, enc: gob.NewEncoder(f)}, nil
}

// Append writes one entry.
func (w *Writer) Append(e vnk.LogEntry) error {
	return w.enc.Encode(&e)
}

// WriteAll appends every entry in entries, in order.
func (w *Writer) WriteAll(entries []vnk.LogEntry) error {
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// ReadAll reads every entry from path, for offline replay/inspection.
func ReadAll(path string) ([]vnk.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var out []vnk.LogEntry
	for {
		var e vnk.LogEntry
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("eventlog: decode %s: %w", path, err)
		}
		out = append(out, e)
	}
	return out, nil
}
