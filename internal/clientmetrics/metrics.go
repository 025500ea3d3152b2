// Package clientmetrics counts ext_proc stream traffic across all workers of a run.
package clientmetrics

import (
	"sync/atomic"
	"time"
)

// ClientMetrics tracks stream and message statistics. All methods are safe for
// concurrent use and a nil receiver records nothing.
type ClientMetrics struct {
	connectedAt   atomic.Int64
	streamsOpened atomic.Int64
	earlyCloses   atomic.Int64
	messagesSent  atomic.Int64
	messagesRecv  atomic.Int64
	bytesSent     atomic.Int64
	errors        atomic.Int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkConnected records the first time a connection became ready.
func (m *ClientMetrics) MarkConnected() {
	if m == nil {
		return
	}
	m.connectedAt.CompareAndSwap(0, time.Now().UnixNano())
}

// StreamOpened counts one Process stream.
func (m *ClientMetrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streamsOpened.Add(1)
}

// IncrementSent counts one request message of the given encoded size.
func (m *ClientMetrics) IncrementSent(bytes int) {
	if m == nil {
		return
	}
	m.messagesSent.Add(1)
	m.bytesSent.Add(int64(bytes))
}

// IncrementReceived counts one response message.
func (m *ClientMetrics) IncrementReceived() {
	if m == nil {
		return
	}
	m.messagesRecv.Add(1)
}

// EarlyClose counts a stream the server closed before answering every message.
func (m *ClientMetrics) EarlyClose() {
	if m == nil {
		return
	}
	m.earlyCloses.Add(1)
}

// IncrementErrors increments the error counter.
func (m *ClientMetrics) IncrementErrors() {
	if m == nil {
		return
	}
	m.errors.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ConnectionDuration time.Duration `json:"-"`
	StreamsOpened      int64         `json:"streams_opened"`
	EarlyCloses        int64         `json:"early_closes"`
	MessagesSent       int64         `json:"messages_sent"`
	MessagesReceived   int64         `json:"messages_received"`
	BytesSent          int64         `json:"bytes_sent"`
	Errors             int64         `json:"errors"`
}

// Snapshot returns the current counter values.
func (m *ClientMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	var duration time.Duration
	if at := m.connectedAt.Load(); at != 0 {
		duration = time.Since(time.Unix(0, at))
	}
	return Snapshot{
		ConnectionDuration: duration,
		StreamsOpened:      m.streamsOpened.Load(),
		EarlyCloses:        m.earlyCloses.Load(),
		MessagesSent:       m.messagesSent.Load(),
		MessagesReceived:   m.messagesRecv.Load(),
		BytesSent:          m.bytesSent.Load(),
		Errors:             m.errors.Load(),
	}
}
