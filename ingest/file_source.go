package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"seclog/core"
)

const maxLineSize = 1024 * 1024

// FileEventLog reads an exported event log stored as JSON lines, one
// NativeRecord per line, at <dir>/<logfile>.jsonl. Lines without a
// record_number are numbered by position. Malformed lines are skipped.
type FileEventLog struct {
	name core.Logfile
	path string
}

// NewFileEventLog creates a source for logfile under dir. Path separators in
// channel names ("Microsoft-Windows-Sysmon/Operational") become underscores.
func NewFileEventLog(dir string, logfile core.Logfile) *FileEventLog {
	file := strings.NewReplacer("/", "_", "\\", "_").Replace(string(logfile)) + ".jsonl"
	return &FileEventLog{name: logfile, path: filepath.Join(dir, file)}
}

func (f *FileEventLog) Name() core.Logfile { return f.name }

// Path returns the backing file.
func (f *FileEventLog) Path() string { return f.path }

func (f *FileEventLog) Info(ctx context.Context) (SourceInfo, error) {
	var info SourceInfo
	err := f.scan(func(r NativeRecord) {
		if info.Oldest == 0 || r.RecordNumber < info.Oldest {
			info.Oldest = r.RecordNumber
		}
		if r.RecordNumber > info.Total {
			info.Total = r.RecordNumber
		}
	})
	return info, err
}

func (f *FileEventLog) ReadFrom(ctx context.Context, start uint64) ([]NativeRecord, error) {
	var out []NativeRecord
	oldest := uint64(0)
	err := f.scan(func(r NativeRecord) {
		if oldest == 0 || r.RecordNumber < oldest {
			oldest = r.RecordNumber
		}
		if r.RecordNumber >= start {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, err
	}
	if oldest != 0 && start < oldest {
		return nil, ErrInvalidPosition
	}
	return out, nil
}

func (f *FileEventLog) ReadAll(ctx context.Context) ([]NativeRecord, error) {
	var out []NativeRecord
	err := f.scan(func(r NativeRecord) { out = append(out, r) })
	return out, err
}

func (f *FileEventLog) scan(fn func(NativeRecord)) error {
	file, err := os.Open(f.path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		case errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		default:
			return err
		}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	var line uint64
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var r NativeRecord
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			continue
		}
		if r.RecordNumber == 0 {
			r.RecordNumber = line
		}
		r.Logfile = f.name
		fn(r)
	}
	return scanner.Err()
}
