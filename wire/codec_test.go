package wire

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPayloadSizes(t *testing.T) {
	tests := []struct {
		msgType MsgType
		want    int
	}{
		{MsgTypePing, 0},
		{MsgTypeJointPosition, 44},
		{MsgTypeJointTrajPt, 52},
		{MsgTypeStatus, 28},
		{MsgTypeJointFeedback, 132},
		{MsgTypeVarReadInt, 8},
		{MsgTypeVarWriteInt, 8},
		{MsgTypeVarWritePosition, 44},
	}
	for _, tt := range tests {
		t.Run(tt.msgType.String(), func(t *testing.T) {
			got, ok := PayloadSize(tt.msgType)
			if !ok {
				t.Fatalf("PayloadSize(%s) not registered", tt.msgType)
			}
			if got != tt.want {
				t.Errorf("PayloadSize(%s) = %d, want %d", tt.msgType, got, tt.want)
			}
		})
	}

	if _, ok := PayloadSize(MsgType(9999)); ok {
		t.Error("PayloadSize(9999) should not be registered")
	}
}

func TestCodec_JointFeedbackBothByteOrders(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			c := NewCodec(order)
			in := &JointFeedback{
				RobotID:     1,
				ValidFields: ValidTime | ValidPosition,
				Time:        12.5,
				Positions:   Joints{0.1, -0.2, 0.3, 0, 1.5, -1.5},
			}
			msg, err := c.NewMessage(MsgTypeJointFeedback, CommTopic, ReplyInvalid, in)
			if err != nil {
				t.Fatalf("NewMessage failed: %v", err)
			}
			frame, err := c.Encode(msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if len(frame) != LengthPrefixSize+HeaderSize+132 {
				t.Fatalf("frame length = %d, want %d", len(frame), LengthPrefixSize+HeaderSize+132)
			}
			if got := order.Uint32(frame); got != HeaderSize+132 {
				t.Errorf("length prefix = %d, want %d", got, HeaderSize+132)
			}

			decoded, err := c.Decode(frame)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(msg.Header, decoded.Header); diff != "" {
				t.Errorf("header mismatch (-want +got):\n%s", diff)
			}

			var out JointFeedback
			if err := c.DecodePayload(decoded, &out); err != nil {
				t.Fatalf("DecodePayload failed: %v", err)
			}
			if diff := cmp.Diff(*in, out); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
			if !out.Has(ValidPosition) || out.Has(ValidVelocity) {
				t.Errorf("valid fields = %#x", out.ValidFields)
			}
		})
	}
}

func TestCodec_EncodeLayout(t *testing.T) {
	tests := []struct {
		name  string
		order binary.ByteOrder
		want  []byte
	}{
		{
			name:  "little endian",
			order: binary.LittleEndian,
			want: []byte{
				0x14, 0, 0, 0, // length
				0x35, 0x08, 0, 0, // VAR_WRITE_INT
				0x02, 0, 0, 0, // REQUEST
				0, 0, 0, 0, // reply
				0x33, 0, 0, 0, // index 51
				0x07, 0, 0, 0, // value 7
			},
		},
		{
			name:  "big endian",
			order: binary.BigEndian,
			want: []byte{
				0, 0, 0, 0x14,
				0, 0, 0x08, 0x35,
				0, 0, 0, 0x02,
				0, 0, 0, 0,
				0, 0, 0, 0x33,
				0, 0, 0, 0x07,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCodec(tt.order)
			msg, err := c.NewMessage(MsgTypeVarWriteInt, CommRequest, ReplyInvalid, &VarInt{Index: 51, Value: 7})
			if err != nil {
				t.Fatalf("NewMessage failed: %v", err)
			}
			frame, err := c.Encode(msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, frame); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCodec_ByteOrderIsAContract(t *testing.T) {
	msg, err := NewCodec(binary.BigEndian).NewMessage(MsgTypeVarWriteInt, CommRequest, ReplyInvalid, &VarInt{Index: 51, Value: 7})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	frame, err := NewCodec(binary.BigEndian).Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// A little-endian reader sees a nonsense length and must refuse.
	_, err = NewCodec(binary.LittleEndian).Decode(frame)
	if err == nil {
		t.Fatal("expected error decoding big-endian frame as little-endian")
	}
	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got %v", err)
	}
}

func TestCodec_Decode_Errors(t *testing.T) {
	c := Default
	valid, err := c.Encode(&Message{Header: Header{Type: MsgTypePing, Comm: CommRequest}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	shortPayload := binary.LittleEndian.AppendUint32(nil, HeaderSize+4)
	shortPayload = binary.LittleEndian.AppendUint32(shortPayload, uint32(MsgTypeJointPosition))
	shortPayload = binary.LittleEndian.AppendUint32(shortPayload, uint32(CommTopic))
	shortPayload = binary.LittleEndian.AppendUint32(shortPayload, uint32(ReplyInvalid))
	shortPayload = append(shortPayload, 1, 2, 3, 4)

	tests := []struct {
		name  string
		frame []byte
		kind  FrameErrorKind
	}{
		{"empty", nil, FrameErrorPartial},
		{"prefix only", valid[:2], FrameErrorPartial},
		{"declared longer than supplied", valid[:len(valid)-1], FrameErrorLength},
		{"declared shorter than supplied", append(append([]byte{}, valid...), 0), FrameErrorLength},
		{"length below header", binary.LittleEndian.AppendUint32(nil, 0), FrameErrorLength},
		{"payload size mismatch", shortPayload, FrameErrorDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.frame)
			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				t.Fatalf("expected *FrameError, got %T: %v", err, err)
			}
			if frameErr.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", frameErr.Kind, tt.kind)
			}
		})
	}
}

func TestCodec_UnknownTypeCarriesRawPayload(t *testing.T) {
	msg := &Message{Header: Header{Type: MsgType(4242), Comm: CommTopic}, Body: []byte{9, 8, 7}}
	frame, err := Default.Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Default.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(msg, decoded); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if decoded.Type.String() != "MSG_TYPE(4242)" {
		t.Errorf("String() = %q", decoded.Type.String())
	}
}

func TestCodec_DecodePayload_WrongShape(t *testing.T) {
	msg, err := Default.NewMessage(MsgTypeVarReadInt, CommReply, ReplySuccess, &VarInt{Index: 1, Value: 2})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	var pos JointPosition
	err = Default.DecodePayload(msg, &pos)
	if !IsDecodeError(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if IsFatalFrameError(err) {
		t.Error("decode error must not be fatal")
	}
}

func TestCodec_EncodeRejectsWrongPayloadSize(t *testing.T) {
	_, err := Default.Encode(&Message{Header: Header{Type: MsgTypeStatus, Comm: CommTopic}, Body: make([]byte, 12)})
	if !IsDecodeError(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestStopCommand(t *testing.T) {
	msg := StopCommand()
	if msg.Type != MsgTypeJointTrajPt || msg.Comm != CommRequest {
		t.Fatalf("header = %+v", msg.Header)
	}
	var pt JointTrajPt
	if err := Default.DecodePayload(msg, &pt); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if pt.Sequence != SeqStopTrajectory {
		t.Errorf("Sequence = %d, want %d", pt.Sequence, SeqStopTrajectory)
	}
}

func TestNewJoints(t *testing.T) {
	j, err := NewJoints([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("NewJoints failed: %v", err)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, j.Slice(3)); diff != "" {
		t.Errorf("Slice mismatch (-want +got):\n%s", diff)
	}
	if _, err := NewJoints(make([]float64, MaxJoints+1)); err == nil {
		t.Error("expected error for too many joints")
	}
}

func TestParseByteOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    binary.ByteOrder
		wantErr bool
	}{
		{"", binary.LittleEndian, false},
		{"little", binary.LittleEndian, false},
		{"BIG", binary.BigEndian, false},
		{"middle", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseByteOrder(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteOrder(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteOrder(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
