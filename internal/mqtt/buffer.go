package mqtt

import "log/slog"

// DefaultBufferSize is how many messages are kept while disconnected.
// At one state message per publish interval plus totals, this covers
// roughly an hour of outage.
const DefaultBufferSize = 512

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
	dropped  int
	logger   *slog.Logger
}

func newRingBuffer(capacity int, logger *slog.Logger) *ringBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == r.capacity {
		if !r.overflow {
			r.logger.Warn("mqtt buffer full, dropping oldest", "capacity", r.capacity)
			r.overflow = true
		}
		r.dropped++
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	if r.dropped > 0 {
		r.logger.Warn("mqtt buffer dropped messages during outage", "dropped", r.dropped)
	}
	r.count = 0
	r.head = 0
	r.overflow = false
	r.dropped = 0
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
