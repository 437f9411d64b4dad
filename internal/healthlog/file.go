package healthlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"auction-batch/internal/models"
)

// FileLog keeps one JSON-lines file per run date. Each record is written with
// a single write on an O_APPEND descriptor, so concurrent appenders never
// interleave within a line.
type FileLog struct {
	dir string
}

func NewFileLog(dir string) *FileLog {
	return &FileLog{dir: dir}
}

// Close is a no-op; every append opens and closes its own descriptor.
func (l *FileLog) Close() error {
	return nil
}

// Path returns the log file for runDate.
func (l *FileLog) Path(runDate string) string {
	return filepath.Join(l.dir, "health-"+runDate+".jsonl")
}

func (l *FileLog) Append(_ context.Context, rec models.HealthRecord) error {
	if rec.RunDate == "" {
		return errors.New("health record has no run_date")
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal health record: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create health log dir: %w", err)
	}
	f, err := os.OpenFile(l.Path(rec.RunDate), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open health log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append health record: %w", err)
	}
	return f.Close()
}

func (l *FileLog) Records(_ context.Context, runDate string) ([]models.HealthRecord, error) {
	f, err := os.Open(l.Path(runDate))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open health log: %w", err)
	}
	defer f.Close()

	var out []models.HealthRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var rec models.HealthRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return out, fmt.Errorf("decode health log line %d: %w", lineNo, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan health log: %w", err)
	}
	return out, nil
}
