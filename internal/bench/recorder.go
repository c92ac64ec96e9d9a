package bench

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Record is one benchmark round's measurements, written as one JSON line.
// The stream is the interface to external comparison and plotting tools.
type Record struct {
	Round             int       `json:"round"`
	CumulativeDeleted int       `json:"cumulative_deleted"`
	Compactions       int       `json:"compactions"`
	LatencyMS         []float64 `json:"latency_ms"`
}

// Recorder appends Records to a JSON-lines file, one file per run. Every
// append is flushed so a crashed run still leaves the completed rounds on
// disk.
type Recorder struct {
	f *os.File
	w *bufio.Writer
}

// NewRecorder creates (truncating) the result file.
func NewRecorder(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating result directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result file: %w", err)
	}
	return &Recorder{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record and flushes it.
func (r *Recorder) Append(record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding result record: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing result record: %w", err)
	}
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("flushing result record: %w", err)
	}
	return nil
}

// Close flushes and closes the result file.
func (r *Recorder) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return fmt.Errorf("flushing result file: %w", err)
	}
	return r.f.Close()
}

// ReadRecords loads a result file back, for tests and the report printer.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("parsing result record: %w", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading result file: %w", err)
	}
	return records, nil
}
