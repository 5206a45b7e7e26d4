package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/transport"
	"github.com/pithecene-io/armlink/wire"
)

// recordingSender captures sent messages.
type recordingSender struct {
	mu   sync.Mutex
	sent []*wire.Message
}

func (r *recordingSender) Send(_ context.Context, msg *wire.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func tagHandler(t wire.MsgType, tag string, calls *[]string) HandlerFunc {
	return HandlerFunc{Type: t, Fn: func(context.Context, *wire.Message, transport.Sender) error {
		*calls = append(*calls, tag)
		return nil
	}}
}

func TestManager_AddConflict(t *testing.T) {
	var calls []string
	m := NewManager()

	if err := m.Add(tagHandler(wire.MsgTypePing, "h1", &calls), false); err != nil {
		t.Fatalf("Add h1: %v", err)
	}

	err := m.Add(tagHandler(wire.MsgTypePing, "h2", &calls), false)
	if !errors.Is(err, ErrHandlerExists) {
		t.Fatalf("expected ErrHandlerExists, got: %v", err)
	}

	ping := &wire.Message{Header: wire.Header{Type: wire.MsgTypePing, Comm: wire.CommTopic}}
	if err := m.Dispatch(t.Context(), ping, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if diff := cmp.Diff([]string{"h1"}, calls); diff != "" {
		t.Errorf("original handler should be retained (-want +got):\n%s", diff)
	}
}

func TestManager_AddReplace(t *testing.T) {
	var calls []string
	m := NewManager()

	if err := m.Add(tagHandler(wire.MsgTypePing, "h1", &calls), false); err != nil {
		t.Fatalf("Add h1: %v", err)
	}
	if err := m.Add(tagHandler(wire.MsgTypePing, "h2", &calls), true); err != nil {
		t.Fatalf("Add h2 with replace: %v", err)
	}

	ping := &wire.Message{Header: wire.Header{Type: wire.MsgTypePing, Comm: wire.CommTopic}}
	if err := m.Dispatch(t.Context(), ping, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if diff := cmp.Diff([]string{"h2"}, calls); diff != "" {
		t.Errorf("replacement handler should be active (-want +got):\n%s", diff)
	}
}

func TestManager_RoutesByType(t *testing.T) {
	var calls []string
	m := NewManager()
	for _, h := range []HandlerFunc{
		tagHandler(wire.MsgTypeJointFeedback, "feedback", &calls),
		tagHandler(wire.MsgTypeJointPosition, "position", &calls),
	} {
		if err := m.Add(h, false); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	for _, mt := range []wire.MsgType{wire.MsgTypeJointPosition, wire.MsgTypeJointFeedback, wire.MsgTypeJointPosition} {
		if err := m.Dispatch(t.Context(), &wire.Message{Header: wire.Header{Type: mt, Comm: wire.CommTopic}}, nil); err != nil {
			t.Fatalf("Dispatch(%s): %v", mt, err)
		}
	}

	if diff := cmp.Diff([]string{"position", "feedback", "position"}, calls); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]wire.MsgType{wire.MsgTypeJointPosition, wire.MsgTypeJointFeedback}, m.Types()); diff != "" {
		t.Errorf("Types mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_UnhandledRequestGetsFailureReply(t *testing.T) {
	collector := metrics.NewCollector("r1", "none")
	m := NewManager(WithCollector(collector))
	out := &recordingSender{}

	req := &wire.Message{Header: wire.Header{Type: wire.MsgTypeVarReadInt, Comm: wire.CommRequest}, Body: make([]byte, 8)}
	if err := m.Dispatch(t.Context(), req, out); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(out.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(out.sent))
	}
	reply := out.sent[0]
	want := wire.Header{Type: wire.MsgTypeVarReadInt, Comm: wire.CommReply, Reply: wire.ReplyFailure}
	if diff := cmp.Diff(want, reply.Header); diff != "" {
		t.Errorf("reply header mismatch (-want +got):\n%s", diff)
	}
	if len(reply.Body) != 8 {
		t.Errorf("reply body = %d bytes, want 8", len(reply.Body))
	}

	s := collector.Snapshot()
	if s.Unhandled != 1 || s.UnhandledByType["VAR_READ_INT"] != 1 {
		t.Errorf("unhandled counters = %d / %v", s.Unhandled, s.UnhandledByType)
	}
}

func TestManager_UnhandledTopicIsDropped(t *testing.T) {
	m := NewManager()
	out := &recordingSender{}

	topic := &wire.Message{Header: wire.Header{Type: wire.MsgTypeStatus, Comm: wire.CommTopic}, Body: make([]byte, 28)}
	if err := m.Dispatch(t.Context(), topic, out); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(out.sent) != 0 {
		t.Errorf("topic messages must not be answered, sent %d", len(out.sent))
	}
}

func TestManager_HandlerErrorIsCountedAndReturned(t *testing.T) {
	collector := metrics.NewCollector("r1", "none")
	m := NewManager(WithCollector(collector))
	boom := errors.New("boom")

	if err := m.Add(HandlerFunc{Type: wire.MsgTypeStatus, Fn: func(context.Context, *wire.Message, transport.Sender) error {
		return boom
	}}, false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	err := m.Dispatch(t.Context(), &wire.Message{Header: wire.Header{Type: wire.MsgTypeStatus}}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got: %v", err)
	}
	if got := collector.Snapshot().HandlerFailures; got != 1 {
		t.Errorf("HandlerFailures = %d, want 1", got)
	}
}

func TestManager_CustomUnhandled(t *testing.T) {
	var seen []wire.MsgType
	m := NewManager(WithUnhandled(func(_ context.Context, msg *wire.Message, _ transport.Sender) error {
		seen = append(seen, msg.Type)
		return nil
	}))

	if err := m.Dispatch(t.Context(), &wire.Message{Header: wire.Header{Type: 77}}, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if diff := cmp.Diff([]wire.MsgType{77}, seen); diff != "" {
		t.Errorf("custom policy not used (-want +got):\n%s", diff)
	}
}

func TestManager_AddNil(t *testing.T) {
	if err := NewManager().Add(nil, true); err == nil {
		t.Error("expected error adding nil handler")
	}
}
