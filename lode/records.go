package lode

import (
	"time"

	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/types"
)

// Record kind discriminators. record_kind is also the last partition key.
const (
	RecordKindJointState = "joint_state"
	RecordKindMetrics    = "metrics"
)

// JointStateRecord is the storage format of one published joint state.
type JointStateRecord struct {
	RecordKind      string    `json:"record_kind"`
	ContractVersion string    `json:"contract_version"`
	Seq             int64     `json:"seq"`
	Source          string    `json:"source"`
	ControllerTime  float64   `json:"controller_time,omitempty"`
	Names           []string  `json:"names"`
	Positions       []float64 `json:"positions"`
	Velocities      []float64 `json:"velocities,omitempty"`
	Accelerations   []float64 `json:"accelerations,omitempty"`
	ReceivedAt      string    `json:"received_at"`

	// Partition keys
	RobotID string `json:"robot_id"`
	Day     string `json:"day"`
	Session string `json:"session"`
}

// MetricsRecord is the storage format of a session's final counters.
type MetricsRecord struct {
	RecordKind  string `json:"record_kind"`
	CompletedAt string `json:"completed_at"`

	MessagesReceived  int64            `json:"messages_received"`
	MessagesSent      int64            `json:"messages_sent"`
	DecodeErrors      int64            `json:"decode_errors"`
	TransportFailures int64            `json:"transport_failures"`
	Reconnects        int64            `json:"reconnects"`
	Unhandled         int64            `json:"unhandled"`
	UnhandledByType   map[string]int64 `json:"unhandled_by_type,omitempty"`
	HandlerFailures   int64            `json:"handler_failures"`
	PointsStreamed    int64            `json:"points_streamed"`
	BufferFullWaits   int64            `json:"buffer_full_waits"`
	WriteRetries      int64            `json:"write_retries"`
	CursorDesync      int64            `json:"cursor_desync"`
	StatesPublished   int64            `json:"states_published"`
	PublishFailures   int64            `json:"publish_failures"`
	Publisher         string           `json:"publisher"`

	// Partition keys
	RobotID string `json:"robot_id"`
	Day     string `json:"day"`
	Session string `json:"session"`
}

// toJointStateRecordMap converts a JointState for storage.
// The Hive layout reads partition values from record fields, so records
// are stored as maps.
func toJointStateRecordMap(s *types.JointState, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind":      RecordKindJointState,
		"contract_version": s.ContractVersion,
		"seq":              s.Seq,
		"source":           s.Source,
		"names":            s.Names,
		"positions":        s.Positions,
		"received_at":      s.ReceivedAt.UTC().Format(time.RFC3339Nano),
		"robot_id":         cfg.RobotID,
		"day":              cfg.Day,
		"session":          cfg.Session,
	}
	if s.ControllerTime != 0 {
		m["controller_time"] = s.ControllerTime
	}
	if len(s.Velocities) > 0 {
		m["velocities"] = s.Velocities
	}
	if len(s.Accelerations) > 0 {
		m["accelerations"] = s.Accelerations
	}
	return m
}

// toMetricsRecordMap converts a metrics snapshot for storage.
func toMetricsRecordMap(snap metrics.Snapshot, completedAt time.Time, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind":        RecordKindMetrics,
		"completed_at":       completedAt.UTC().Format(time.RFC3339Nano),
		"messages_received":  snap.MessagesReceived,
		"messages_sent":      snap.MessagesSent,
		"decode_errors":      snap.DecodeErrors,
		"transport_failures": snap.TransportFailures,
		"reconnects":         snap.Reconnects,
		"unhandled":          snap.Unhandled,
		"handler_failures":   snap.HandlerFailures,
		"points_streamed":    snap.PointsStreamed,
		"buffer_full_waits":  snap.BufferFullWaits,
		"write_retries":      snap.WriteRetries,
		"cursor_desync":      snap.CursorDesync,
		"states_published":   snap.StatesPublished,
		"publish_failures":   snap.PublishFailures,
		"publisher":          snap.Publisher,
		"robot_id":           cfg.RobotID,
		"day":                cfg.Day,
		"session":            cfg.Session,
	}
	if len(snap.UnhandledByType) > 0 {
		m["unhandled_by_type"] = snap.UnhandledByType
	}
	return m
}
