// Package metrics provides per-session counters for the driver core.
//
// The Collector is a leaf package with no internal dependencies. Every
// increment method is nil-receiver safe so components can be built without a
// collector in tests.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Connection
	MessagesReceived  int64 `json:"messages_received"`
	MessagesSent      int64 `json:"messages_sent"`
	DecodeErrors      int64 `json:"decode_errors"`
	TransportFailures int64 `json:"transport_failures"`
	Reconnects        int64 `json:"reconnects"`

	// Dispatch
	Unhandled       int64            `json:"unhandled"`
	UnhandledByType map[string]int64 `json:"unhandled_by_type,omitempty"`
	HandlerFailures int64            `json:"handler_failures"`

	// Motion buffer
	PointsStreamed  int64 `json:"points_streamed"`
	BufferFullWaits int64 `json:"buffer_full_waits"`
	WriteRetries    int64 `json:"write_retries"`
	CursorDesync    int64 `json:"cursor_desync"`

	// Telemetry
	StatesPublished int64 `json:"states_published"`
	PublishFailures int64 `json:"publish_failures"`

	// Dimensions (informational, set at construction)
	RobotID   string `json:"robot_id"`
	Publisher string `json:"publisher"`
}

// Collector accumulates counters during a session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	messagesReceived  int64
	messagesSent      int64
	decodeErrors      int64
	transportFailures int64
	reconnects        int64

	unhandled       int64
	unhandledByType map[string]int64
	handlerFailures int64

	pointsStreamed  int64
	bufferFullWaits int64
	writeRetries    int64
	cursorDesync    int64

	statesPublished int64
	publishFailures int64

	robotID   string
	publisher string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(robotID, publisher string) *Collector {
	return &Collector{
		unhandledByType: make(map[string]int64),
		robotID:         robotID,
		publisher:       publisher,
	}
}

func (c *Collector) add(field *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Connection ---

// IncMessagesReceived records a frame read from a connection.
func (c *Collector) IncMessagesReceived() {
	if c == nil {
		return
	}
	c.add(&c.messagesReceived)
}

// IncMessagesSent records a frame written to a connection.
func (c *Collector) IncMessagesSent() {
	if c == nil {
		return
	}
	c.add(&c.messagesSent)
}

// IncDecodeErrors records a discarded, malformed message.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.add(&c.decodeErrors)
}

// IncTransportFailures records a transport failure seen by an owning loop.
func (c *Collector) IncTransportFailures() {
	if c == nil {
		return
	}
	c.add(&c.transportFailures)
}

// IncReconnects records a successful redial.
func (c *Collector) IncReconnects() {
	if c == nil {
		return
	}
	c.add(&c.reconnects)
}

// --- Dispatch ---

// IncUnhandled records a message with no registered handler.
// msgType is the message type name, kept as a string so this package stays
// free of protocol dependencies.
func (c *Collector) IncUnhandled(msgType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unhandled++
	c.unhandledByType[msgType]++
	c.mu.Unlock()
}

// IncHandlerFailures records a handler returning an error.
func (c *Collector) IncHandlerFailures() {
	if c == nil {
		return
	}
	c.add(&c.handlerFailures)
}

// --- Motion buffer ---

// IncPointsStreamed records a point committed to the motion buffer.
func (c *Collector) IncPointsStreamed() {
	if c == nil {
		return
	}
	c.add(&c.pointsStreamed)
}

// IncBufferFullWaits records one poll interval spent waiting on a full buffer.
func (c *Collector) IncBufferFullWaits() {
	if c == nil {
		return
	}
	c.add(&c.bufferFullWaits)
}

// IncWriteRetries records a retried controller write.
func (c *Collector) IncWriteRetries() {
	if c == nil {
		return
	}
	c.add(&c.writeRetries)
}

// IncCursorDesync records the motion cursor observed ahead of the buffer cursor.
func (c *Collector) IncCursorDesync() {
	if c == nil {
		return
	}
	c.add(&c.cursorDesync)
}

// --- Telemetry ---

// IncStatesPublished records a joint state accepted by a publisher.
func (c *Collector) IncStatesPublished() {
	if c == nil {
		return
	}
	c.add(&c.statesPublished)
}

// IncPublishFailures records a publisher error.
func (c *Collector) IncPublishFailures() {
	if c == nil {
		return
	}
	c.add(&c.publishFailures)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[string]int64, len(c.unhandledByType))
	for k, v := range c.unhandledByType {
		byType[k] = v
	}

	return Snapshot{
		MessagesReceived:  c.messagesReceived,
		MessagesSent:      c.messagesSent,
		DecodeErrors:      c.decodeErrors,
		TransportFailures: c.transportFailures,
		Reconnects:        c.reconnects,

		Unhandled:       c.unhandled,
		UnhandledByType: byType,
		HandlerFailures: c.handlerFailures,

		PointsStreamed:  c.pointsStreamed,
		BufferFullWaits: c.bufferFullWaits,
		WriteRetries:    c.writeRetries,
		CursorDesync:    c.cursorDesync,

		StatesPublished: c.statesPublished,
		PublishFailures: c.publishFailures,

		RobotID:   c.robotID,
		Publisher: c.publisher,
	}
}
