package relay

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/pithecene-io/armlink/adapter"
	"github.com/pithecene-io/armlink/dispatch"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/types"
	"github.com/pithecene-io/armlink/wire"
)

var fixedNow = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

func newRelay(t *testing.T, jm JointMap) (*JointRelay, *adapter.StubPublisher, *metrics.Collector) {
	t.Helper()
	pub := adapter.NewStubPublisher(0)
	collector := metrics.NewCollector("r1", "stub")
	r, err := New(Config{
		RobotID:   "r1",
		JointMap:  jm,
		Publisher: pub,
		Collector: collector,
		Now:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, pub, collector
}

func mustMessage(t *testing.T, mt wire.MsgType, comm wire.CommType, v any) *wire.Message {
	t.Helper()
	msg, err := wire.Default.NewMessage(mt, comm, wire.ReplyInvalid, v)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

var approx = cmpopts.EquateApprox(0, 1e-6)

func TestJointRelay_JointPositionReordersAndScales(t *testing.T) {
	r, pub, collector := newRelay(t, JointMap{
		ControllerNames: []string{"s", "l", "u", "r", "b", "t"},
		Published:       []string{"t", "s", "l"},
		Scale:           map[string]float64{"t": 2},
		Offset:          map[string]float64{"s": 0.5},
	})

	msg := mustMessage(t, wire.MsgTypeJointPosition, wire.CommTopic, &wire.JointPosition{
		Sequence: 9,
		Joints:   wire.Joints{1, 2, 3, 4, 5, 6},
	})
	for _, h := range r.Handlers() {
		if h.MsgType() == msg.Type {
			if err := h.Handle(t.Context(), msg, nil); err != nil {
				t.Fatalf("Handle: %v", err)
			}
		}
	}

	got := pub.Last()
	if got == nil {
		t.Fatal("nothing published")
	}
	want := &types.JointState{
		ContractVersion: types.ContractVersion,
		RobotID:         "r1",
		Seq:             1,
		Source:          "JOINT_POSITION",
		Names:           []string{"t", "s", "l"},
		Positions:       []float64{12, 1.5, 2},
		ReceivedAt:      fixedNow,
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if s := collector.Snapshot(); s.StatesPublished != 1 {
		t.Errorf("StatesPublished = %d, want 1", s.StatesPublished)
	}
}

func TestJointRelay_FeedbackValidFields(t *testing.T) {
	r, pub, _ := newRelay(t, DefaultJointMap(3))

	feedback := &wire.JointFeedback{
		ValidFields:   wire.ValidTime | wire.ValidPosition | wire.ValidVelocity,
		Time:          1.5,
		Positions:     wire.Joints{0.1, 0.2, 0.3},
		Velocities:    wire.Joints{1, 1, 1},
		Accelerations: wire.Joints{9, 9, 9},
	}
	state, err := r.Convert(mustMessage(t, wire.MsgTypeJointFeedback, wire.CommTopic, feedback))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if state.ControllerTime != 1.5 {
		t.Errorf("ControllerTime = %v, want 1.5", state.ControllerTime)
	}
	if diff := cmp.Diff([]float64{0.1, 0.2, 0.3}, state.Positions, approx); diff != "" {
		t.Errorf("positions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 1, 1}, state.Velocities, approx); diff != "" {
		t.Errorf("velocities (-want +got):\n%s", diff)
	}
	if state.Accelerations != nil {
		t.Errorf("accelerations without valid bit: %v", state.Accelerations)
	}
	if diff := cmp.Diff([]string{"joint_1", "joint_2", "joint_3"}, state.Names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if len(pub.States()) != 0 {
		t.Error("Convert must not publish")
	}
}

func TestJointRelay_RatesAreNotOffset(t *testing.T) {
	r, _, _ := newRelay(t, JointMap{
		ControllerNames: []string{"a"},
		Scale:           map[string]float64{"a": math.Pi / 180},
		Offset:          map[string]float64{"a": 1},
	})
	state, err := r.Convert(mustMessage(t, wire.MsgTypeJointFeedback, wire.CommTopic, &wire.JointFeedback{
		ValidFields: wire.ValidPosition | wire.ValidVelocity,
		Positions:   wire.Joints{180},
		Velocities:  wire.Joints{90},
	}))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if diff := cmp.Diff([]float64{math.Pi + 1}, state.Positions, approx); diff != "" {
		t.Errorf("positions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{math.Pi / 2}, state.Velocities, approx); diff != "" {
		t.Errorf("velocities (-want +got):\n%s", diff)
	}
}

func TestJointRelay_FeedbackWithoutPositionsSkipped(t *testing.T) {
	r, pub, _ := newRelay(t, DefaultJointMap(6))
	msg := mustMessage(t, wire.MsgTypeJointFeedback, wire.CommTopic, &wire.JointFeedback{ValidFields: wire.ValidTime})

	m := dispatch.NewManager()
	for _, h := range r.Handlers() {
		if err := m.Add(h, false); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := m.Dispatch(t.Context(), msg, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(pub.States()) != 0 {
		t.Errorf("published %d states, want 0", len(pub.States()))
	}
}

func TestJointRelay_SequenceIncrements(t *testing.T) {
	r, pub, _ := newRelay(t, DefaultJointMap(2))
	h := r.Handlers()[0]
	for range 3 {
		msg := mustMessage(t, wire.MsgTypeJointPosition, wire.CommTopic, &wire.JointPosition{})
		if err := h.Handle(t.Context(), msg, nil); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	var seqs []int64
	for _, s := range pub.States() {
		seqs = append(seqs, s.Seq)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, seqs); diff != "" {
		t.Errorf("seqs (-want +got):\n%s", diff)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *types.JointState) error { return errors.New("sink down") }
func (failingPublisher) Close() error                                      { return nil }

type capture struct{ sent []*wire.Message }

func (c *capture) Send(_ context.Context, msg *wire.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

func TestJointRelay_PublishFailure(t *testing.T) {
	collector := metrics.NewCollector("r1", "broken")
	r, err := New(Config{RobotID: "r1", JointMap: DefaultJointMap(6), Publisher: failingPublisher{}, Collector: collector})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := &capture{}
	msg := mustMessage(t, wire.MsgTypeJointPosition, wire.CommRequest, &wire.JointPosition{})
	if err := r.Handlers()[0].Handle(t.Context(), msg, out); err == nil {
		t.Fatal("expected publish error")
	}
	if got := collector.Snapshot().PublishFailures; got != 1 {
		t.Errorf("PublishFailures = %d, want 1", got)
	}
	if len(out.sent) != 1 || out.sent[0].Reply != wire.ReplyFailure {
		t.Errorf("request should be answered with FAILURE, sent %v", out.sent)
	}
}

func TestJointRelay_RequestAnsweredWithSuccess(t *testing.T) {
	r, _, _ := newRelay(t, DefaultJointMap(6))
	out := &capture{}
	msg := mustMessage(t, wire.MsgTypeJointPosition, wire.CommRequest, &wire.JointPosition{Sequence: 1})
	if err := r.Handlers()[0].Handle(t.Context(), msg, out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(out.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(out.sent))
	}
	reply := out.sent[0]
	if !reply.Succeeded() || reply.Type != wire.MsgTypeJointPosition || len(reply.Body) != 44 {
		t.Errorf("reply = %s", reply)
	}
}

func TestJointRelay_MalformedPayload(t *testing.T) {
	r, _, _ := newRelay(t, DefaultJointMap(6))
	_, err := r.Convert(&wire.Message{Header: wire.Header{Type: wire.MsgTypeJointPosition}, Body: []byte{1, 2}})
	if !wire.IsDecodeError(err) {
		t.Errorf("expected decode error, got: %v", err)
	}
}

func TestJointMap_Validate(t *testing.T) {
	tests := []struct {
		name    string
		jm      JointMap
		wantErr bool
	}{
		{"default", DefaultJointMap(6), false},
		{"empty", JointMap{}, true},
		{"too many", DefaultJointMap(wire.MaxJoints + 1), true},
		{"duplicate", JointMap{ControllerNames: []string{"a", "a"}}, true},
		{"blank name", JointMap{ControllerNames: []string{"a", ""}}, true},
		{"unknown published", JointMap{ControllerNames: []string{"a"}, Published: []string{"b"}}, true},
		{"published twice", JointMap{ControllerNames: []string{"a"}, Published: []string{"a", "a"}}, true},
		{"zero scale", JointMap{ControllerNames: []string{"a"}, Scale: map[string]float64{"a": 0}}, true},
		{"unknown offset", JointMap{ControllerNames: []string{"a"}, Offset: map[string]float64{"z": 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.jm.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RequiresPublisher(t *testing.T) {
	if _, err := New(Config{JointMap: DefaultJointMap(6)}); err == nil {
		t.Error("expected error without publisher")
	}
}
