// Package journal persists workflow transition events as NDJSON, one event per line.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
)

// maxLineSize bounds a single journal line; longer lines are skipped on read
const maxLineSize = 1 << 20

// Journal appends events to a file. It implements workflow.EventSink.
type Journal struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// New creates a journal writing to path on fs
func New(fs afero.Fs, path string) *Journal {
	return &Journal{fs: fs, path: path}
}

var _ wf.EventSink = (*Journal)(nil)

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.path
}

// Append writes the event as one JSON line and syncs the file
func (j *Journal) Append(e wf.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fs.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	f, err := j.fs.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return f.Sync()
}

// LoadResult is the content of a journal read
type LoadResult struct {
	Events []wf.Event
	// Skipped counts lines that could not be decoded
	Skipped int
}

// Load reads the events of one task, or all events when taskID is empty.
// A missing journal yields no events.
func (j *Journal) Load(taskID string) (*LoadResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := j.fs.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return &LoadResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	res := &LoadResult{}
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		res.add(bytes.TrimRight(line, "\r\n"), taskID)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}
	}
	return res, nil
}

// add decodes one line. Oversized, undecodable and task-less lines are
// counted as skipped.
func (res *LoadResult) add(line []byte, taskID string) {
	if len(line) == 0 {
		return
	}
	var e wf.Event
	if len(line) > maxLineSize || json.Unmarshal(line, &e) != nil || e.TaskID == "" {
		res.Skipped++
		return
	}
	if taskID == "" || e.TaskID == taskID {
		res.Events = append(res.Events, e)
	}
}
