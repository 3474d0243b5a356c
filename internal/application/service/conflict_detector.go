package service

import (
	"sync"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
)

// ConflictDetector tracks which files concurrent executions touch so two
// tasks listing the same file in their context never run side by side.
type ConflictDetector struct {
	activeFiles map[string]string // file path -> task ID
	mu          sync.Mutex
}

// NewConflictDetector creates a new conflict detector
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{
		activeFiles: make(map[string]string),
	}
}

// TryRegister claims the task's files. It returns the ID of the task holding
// a conflicting file, or "" once the claim succeeded.
func (d *ConflictDetector) TryRegister(t *task.Task) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, path := range t.Context.Files {
		if holder, exists := d.activeFiles[path]; exists && holder != t.ID {
			return holder
		}
	}
	for _, path := range t.Context.Files {
		d.activeFiles[path] = t.ID
	}
	return ""
}

// Unregister releases the files claimed by the task
func (d *ConflictDetector) Unregister(t *task.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, path := range t.Context.Files {
		if holder, exists := d.activeFiles[path]; exists && holder == t.ID {
			delete(d.activeFiles, path)
		}
	}
}

// Holder returns the task currently claiming the path, or ""
func (d *ConflictDetector) Holder(path string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeFiles[path]
}

// ActiveFileCount returns the number of claimed files
func (d *ConflictDetector) ActiveFileCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.activeFiles)
}
