package lode

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/types"
)

// sharedFactory lets write and read datasets share one in-memory store.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

// failingStore rejects every write.
type failingStore struct {
	putErr   error
	putCalls int
}

func (s *failingStore) Put(_ context.Context, _ string, _ io.Reader) error {
	s.putCalls++
	return s.putErr
}

func (s *failingStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, nil
}

func (s *failingStore) Exists(context.Context, string) (bool, error) { return false, nil }

func (s *failingStore) List(context.Context, string) ([]string, error) { return nil, nil }

func (s *failingStore) Delete(context.Context, string) error { return nil }

func (s *failingStore) ReadRange(context.Context, string, int64, int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(context.Context, string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)

func testConfig() Config {
	return Config{
		RobotID: "r1",
		Day:     "2026-10-19",
		Session: "s-001",
	}
}

func state(seq int64, positions ...float64) *types.JointState {
	names := make([]string, len(positions))
	for i := range names {
		names[i] = "joint_" + string(rune('1'+i))
	}
	return &types.JointState{
		ContractVersion: types.ContractVersion,
		RobotID:         "r1",
		Seq:             seq,
		Source:          "joint_feedback",
		Names:           names,
		Positions:       positions,
		ReceivedAt:      time.Date(2026, 10, 19, 12, 0, 0, int(seq), time.UTC),
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing robot", func(c *Config) { c.RobotID = "" }},
		{"missing day", func(c *Config) { c.Day = "" }},
		{"missing session", func(c *Config) { c.Session = "" }},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewRecorderWithFactory(cfg, lode.NewMemoryFactory()); err == nil {
				t.Error("NewRecorderWithFactory() error = nil")
			}
		})
	}
}

func TestRecorder_Defaults(t *testing.T) {
	r, err := NewRecorderWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Config().Dataset; got != DefaultDataset {
		t.Errorf("Dataset = %q, want %q", got, DefaultDataset)
	}
	if got := r.Config().BatchSize; got != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", got, DefaultBatchSize)
	}
}

func TestRecorder_BatchesAndReadsBack(t *testing.T) {
	store := lode.NewMemory()
	cfg := testConfig()
	cfg.BatchSize = 2

	r, err := NewRecorderWithFactory(cfg, sharedFactory(store))
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()

	if err := r.Publish(ctx, state(1, 0.1, 0.2)); err != nil {
		t.Fatal(err)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", r.Pending())
	}
	if err := r.Publish(ctx, state(2, 0.3, 0.4)); err != nil {
		t.Fatal(err)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d after full batch, want 0", r.Pending())
	}
	if err := r.Publish(ctx, state(3, 0.5, 0.6)); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ds, err := NewReadDataset(DefaultDataset, sharedFactory(store))
	if err != nil {
		t.Fatal(err)
	}
	record, err := QueryLatestState(ctx, ds, Filter{RobotID: "r1"})
	if err != nil {
		t.Fatalf("QueryLatestState() error = %v", err)
	}
	if got := toInt64(record["seq"]); got != 3 {
		t.Errorf("latest seq = %d, want 3", got)
	}
	if got := record["session"]; got != "s-001" {
		t.Errorf("session = %v, want s-001", got)
	}
}

func TestRecorder_PublishAfterClose(t *testing.T) {
	r, err := NewRecorderWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := r.Publish(t.Context(), state(1, 0)); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("Publish() error = %v, want ErrRecorderClosed", err)
	}
}

func TestRecorder_WriteFailureKeepsPending(t *testing.T) {
	store := &failingStore{putErr: errors.New("write /data: no space left on device")}
	cfg := testConfig()
	cfg.BatchSize = 1

	r, err := NewRecorderWithFactory(cfg, sharedFactory(store))
	if err != nil {
		t.Fatal(err)
	}
	err = r.Publish(t.Context(), state(1, 0))
	if err == nil {
		t.Fatal("Publish() error = nil")
	}
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Publish() error = %T, want *StorageError", err)
	}
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("kind = %v, want ErrDiskFull", storageErr.Kind)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1 after failed write", r.Pending())
	}
}

func TestRecorder_WriteMetrics(t *testing.T) {
	store := lode.NewMemory()
	r, err := NewRecorderWithFactory(testConfig(), sharedFactory(store))
	if err != nil {
		t.Fatal(err)
	}

	collector := metrics.NewCollector("r1", "lode")
	collector.IncPointsStreamed()
	collector.IncPointsStreamed()
	collector.IncCursorDesync()
	collector.IncUnhandled("STATUS")

	completedAt := time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
	if err := r.WriteMetrics(t.Context(), collector.Snapshot(), completedAt); err != nil {
		t.Fatalf("WriteMetrics() error = %v", err)
	}

	ds, err := NewReadDataset("", sharedFactory(store))
	if err != nil {
		t.Fatal(err)
	}
	record, err := QueryLatestMetrics(t.Context(), ds, Filter{RobotID: "r1", Session: "s-001"})
	if err != nil {
		t.Fatalf("QueryLatestMetrics() error = %v", err)
	}
	if got := toInt64(record["points_streamed"]); got != 2 {
		t.Errorf("points_streamed = %d, want 2", got)
	}
	if got := toInt64(record["cursor_desync"]); got != 1 {
		t.Errorf("cursor_desync = %d, want 1", got)
	}
	if got := record["publisher"]; got != "lode" {
		t.Errorf("publisher = %v, want lode", got)
	}
	if got := record["completed_at"]; got != "2026-10-19T15:00:00Z" {
		t.Errorf("completed_at = %v", got)
	}
}

func TestQueryLatest_FiltersByPartition(t *testing.T) {
	store := lode.NewMemory()
	ctx := t.Context()

	for _, robot := range []string{"r1", "r10"} {
		cfg := testConfig()
		cfg.RobotID = robot
		cfg.BatchSize = 1
		r, err := NewRecorderWithFactory(cfg, sharedFactory(store))
		if err != nil {
			t.Fatal(err)
		}
		s := state(1, 0)
		if robot == "r1" {
			s.Seq = 42
		}
		if err := r.Publish(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	ds, err := NewReadDataset("", sharedFactory(store))
	if err != nil {
		t.Fatal(err)
	}
	record, err := QueryLatestState(ctx, ds, Filter{RobotID: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if got := toInt64(record["seq"]); got != 42 {
		t.Errorf("seq = %d, want 42 (r10 record leaked through filter)", got)
	}

	if _, err := QueryLatestState(ctx, ds, Filter{RobotID: "r2"}); !errors.Is(err, ErrNoRecordsFound) {
		t.Errorf("QueryLatestState(r2) error = %v, want ErrNoRecordsFound", err)
	}
	if _, err := QueryLatestMetrics(ctx, ds, Filter{}); !errors.Is(err, ErrNoRecordsFound) {
		t.Errorf("QueryLatestMetrics() error = %v, want ErrNoRecordsFound", err)
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	tests := []struct {
		path  string
		key   string
		value string
		want  bool
	}{
		{"armlink/robot_id=r1/day=2026-10-19", "robot_id", "r1", true},
		{"armlink/robot_id=r10/day=2026-10-19", "robot_id", "r1", false},
		{"armlink/robot_id=r1/session=s-1", "session", "s-1", true},
		{"armlink/robot_id=r1", "session", "s-1", false},
	}
	for _, tt := range tests {
		if got := matchesPartitionValue(tt.path, tt.key, tt.value); got != tt.want {
			t.Errorf("matchesPartitionValue(%q, %q, %q) = %v, want %v", tt.path, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestSnapshotMatches(t *testing.T) {
	snap := &lode.DatasetSnapshot{
		ID: "snap-1",
		Manifest: &lode.Manifest{Files: []lode.FileRef{
			{Path: "partitions/robot_id=r1/day=2026-10-19/session=s-001/record_kind=joint_state/data.jsonl"},
		}},
	}
	tests := []struct {
		name       string
		snap       *lode.DatasetSnapshot
		key, value string
		want       bool
	}{
		{"empty value matches", snap, "robot_id", "", true},
		{"matching robot", snap, "robot_id", "r1", true},
		{"other robot", snap, "robot_id", "r2", false},
		{"no manifest", &lode.DatasetSnapshot{ID: "snap-2"}, "robot_id", "r1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snapshotMatches(tt.snap, tt.key, tt.value); got != tt.want {
				t.Errorf("snapshotMatches(%q, %q) = %v, want %v", tt.key, tt.value, got, tt.want)
			}
		})
	}
}

func TestNewReadDatasetFS(t *testing.T) {
	ds, err := NewReadDatasetFS("armlink", t.TempDir())
	if err != nil {
		t.Fatalf("NewReadDatasetFS() error = %v", err)
	}
	if ds.ID() != "armlink" {
		t.Errorf("ID() = %q, want armlink", ds.ID())
	}
}

func TestPutFile(t *testing.T) {
	store := lode.NewMemory()
	r, err := NewRecorderWithFactory(testConfig(), sharedFactory(store))
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("/JOB\n//NAME PICK\nEND\n")
	if err := r.PutFile(t.Context(), "PICK.JBI", data); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}

	rc, err := store.Get(t.Context(), r.FilePath("PICK.JBI"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = rc.Close() }()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("stored %q, want %q", got, data)
	}

	for _, bad := range []string{"", "../PICK.JBI", "jobs/PICK.JBI"} {
		if err := r.PutFile(t.Context(), bad, data); err == nil {
			t.Errorf("PutFile(%q) error = nil", bad)
		}
	}
}

// toInt64 reads a JSON number from a decoded record.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
