package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/armlink/types"
)

func testState() *types.JointState {
	return &types.JointState{
		ContractVersion: types.ContractVersion,
		RobotID:         "r1",
		Seq:             17,
		Source:          "JOINT_FEEDBACK",
		ControllerTime:  3.25,
		Names:           []string{"joint_s", "joint_l", "joint_u"},
		Positions:       []float64{0.5, -0.25, 1},
		Velocities:      []float64{0, 0.1, 0},
		ReceivedAt:      time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC),
	}
}

// asyncReceive starts a goroutine that reads one message from the subscriber
// and sends it to the returned channel. Must be called BEFORE Publish to avoid
// deadlocking miniredis's synchronous pub/sub delivery.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{} // unreachable
	}
}

func TestPublish_MsgpackRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = p.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	want := testState()
	if err := p.Publish(t.Context(), want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := waitMessage(t, ch)
	got, err := Decode(EncodingMsgpack, []byte(msg.Message))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestPublish_JSONEncoding(t *testing.T) {
	mr := miniredis.RunT(t)

	customChannel := "cell4:joints"
	p, err := New(Config{URL: "redis://" + mr.Addr(), Channel: customChannel, Encoding: EncodingJSON})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = p.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(customChannel)
	ch := asyncReceive(sub)

	if err := p.Publish(t.Context(), testState()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := waitMessage(t, ch)
	if msg.Channel != customChannel {
		t.Errorf("expected channel %q, got %q", customChannel, msg.Channel)
	}
	var received types.JointState
	if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if received.Seq != 17 || received.RobotID != "r1" {
		t.Errorf("received = %+v", received)
	}
}

func TestPublish_LatestKey(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(Config{URL: "redis://" + mr.Addr(), LatestKey: "armlink:latest", LatestTTL: time.Minute})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = p.Close() }()

	st := testState()
	if err := p.Publish(t.Context(), st); err != nil {
		t.Fatalf("publish: %v", err)
	}
	st.Seq = 18
	if err := p.Publish(t.Context(), st); err != nil {
		t.Fatalf("publish: %v", err)
	}

	raw, err := mr.Get("armlink:latest:r1")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	latest, err := Decode(EncodingMsgpack, []byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if latest.Seq != 18 {
		t.Errorf("latest seq = %d, want 18", latest.Seq)
	}
	if ttl := mr.TTL("armlink:latest:r1"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
}

func TestPublish_ExhaustsRetries(t *testing.T) {
	// Use an address that won't connect
	p, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 2, Timeout: 100 * time.Millisecond, Backoff: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.Publish(t.Context(), testState()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	p, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	if err := p.Publish(ctx, testState()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"requires URL", Config{}},
		{"invalid URL", Config{URL: "not-a-redis-url"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
		{"unknown encoding", Config{URL: "redis://localhost:6379", Encoding: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = p.Close() }()

	if p.config.Channel != DefaultChannel {
		t.Errorf("expected default channel %q, got %q", DefaultChannel, p.config.Channel)
	}
	if p.config.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, p.config.Timeout)
	}
	if p.config.Encoding != EncodingMsgpack {
		t.Errorf("expected default encoding msgpack, got %q", p.config.Encoding)
	}
}

func TestClose_ClosesConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Publish(t.Context(), testState()); err == nil {
		t.Fatal("expected error after close")
	}
}
