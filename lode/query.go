package lode

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// ErrNoRecordsFound is returned when no record matches a query.
var ErrNoRecordsFound = errors.New("no matching records found")

// Filter selects records by partition. Empty fields match everything.
type Filter struct {
	RobotID string
	Session string
}

// QueryLatest returns the most recent record of kind matching f.
func QueryLatest(ctx context.Context, ds lode.Dataset, kind string, f Filter) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "record_kind", kind) ||
			!snapshotMatches(snap, "robot_id", f.RobotID) ||
			!snapshotMatches(snap, "session", f.Session) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		// Manifest paths are a coarse filter; record fields decide.
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if !ok || record["record_kind"] != kind {
				continue
			}
			if f.RobotID != "" && toString(record["robot_id"]) != f.RobotID {
				continue
			}
			if f.Session != "" && toString(record["session"]) != f.Session {
				continue
			}
			return record, nil
		}
	}
	return nil, ErrNoRecordsFound
}

// QueryLatestState returns the most recent joint-state record.
func QueryLatestState(ctx context.Context, ds lode.Dataset, f Filter) (map[string]any, error) {
	return QueryLatest(ctx, ds, RecordKindJointState, f)
}

// QueryLatestMetrics returns the most recent metrics record.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, f Filter) (map[string]any, error) {
	return QueryLatest(ctx, ds, RecordKindMetrics, f)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
