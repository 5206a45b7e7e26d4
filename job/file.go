package job

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileExt is the controller's job file extension.
const FileExt = ".JBI"

// FileName returns the job file name for j.
func FileName(j *TrajectoryJob) string {
	return j.Name() + FileExt
}

// WriteFile renders j into a Buffer of capacity bytes and writes it to
// path. Nothing is written when rendering fails. A zero capacity sizes the
// buffer for the worst case.
func WriteFile(path string, j *TrajectoryJob, capacity int) error {
	if capacity <= 0 {
		capacity = j.LineCount() * (LineCapacity + 1)
	}
	buf := NewBuffer(capacity)
	if err := j.ToJobString(buf); err != nil {
		return fmt.Errorf("render job %s: %w", j.Name(), err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create job directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write job file: %w", err)
	}
	return nil
}
