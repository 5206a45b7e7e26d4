package lode

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// FileWriter writes sidecar files, such as rendered job files, next to a
// session's records.
type FileWriter interface {
	// PutFile writes a file under the session's files/ prefix.
	// The filename must not contain path separators or "..".
	PutFile(ctx context.Context, filename string, data []byte) error
}

var _ FileWriter = (*Recorder)(nil)

// PutFile writes data to the session's files/ prefix. Files bypass the
// dataset's snapshot machinery.
func (r *Recorder) PutFile(ctx context.Context, filename string, data []byte) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return fmt.Errorf("invalid sidecar filename %q", filename)
	}
	store, err := r.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, r.config.Dataset)
	}
	path := r.FilePath(filename)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

// FilePath returns the store path of a sidecar file.
// Format: datasets/<dataset>/partitions/robot_id=<r>/day=<d>/session=<s>/files/<filename>
func (r *Recorder) FilePath(filename string) string {
	return fmt.Sprintf("datasets/%s/partitions/robot_id=%s/day=%s/session=%s/files/%s",
		r.config.Dataset, r.config.RobotID, r.config.Day, r.config.Session, filename)
}

func (r *Recorder) getOrCreateStore() (lode.Store, error) {
	r.storeOnce.Do(func() {
		r.store, r.storeErr = r.storeFactory()
	})
	return r.store, r.storeErr
}
