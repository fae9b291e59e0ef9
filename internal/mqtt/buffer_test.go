package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushN(rb *ringBuffer, from, to int) {
	for i := from; i < to; i++ {
		rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
	}
}

func payloadBytes(msgs []bufferedMsg) []byte {
	out := make([]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer(10, testLogger())
	assert.Nil(t, rb.drainAll())
}

func TestRingBufferPushAndDrain(t *testing.T) {
	rb := newRingBuffer(10, testLogger())
	pushN(rb, 0, 5)

	got := rb.drainAll()
	require.Len(t, got, 5)
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, payloadBytes(got))

	assert.Nil(t, rb.drainAll(), "second drain should be empty")
}

func TestRingBufferFillToCapacity(t *testing.T) {
	rb := newRingBuffer(4, testLogger())
	pushN(rb, 0, 4)
	assert.Equal(t, []byte{0, 1, 2, 3}, payloadBytes(rb.drainAll()))
}

func TestRingBufferOverflow(t *testing.T) {
	rb := newRingBuffer(5, testLogger())

	// Push 0..7, buffer should keep the most recent 5 (3..7)
	pushN(rb, 0, 8)
	assert.Equal(t, 3, rb.dropped)

	got := rb.drainAll()
	assert.Equal(t, []byte{3, 4, 5, 6, 7}, payloadBytes(got))
	assert.Zero(t, rb.dropped)
	assert.False(t, rb.overflow)
}

func TestRingBufferMultipleCycles(t *testing.T) {
	rb := newRingBuffer(5, testLogger())

	pushN(rb, 0, 3)
	require.Len(t, rb.drainAll(), 3)

	pushN(rb, 10, 14)
	assert.Equal(t, []byte{10, 11, 12, 13}, payloadBytes(rb.drainAll()))
}

func TestRingBufferLen(t *testing.T) {
	rb := newRingBuffer(10, testLogger())
	assert.Equal(t, 0, rb.len())

	rb.push(bufferedMsg{topic: "t"})
	rb.push(bufferedMsg{topic: "t"})
	assert.Equal(t, 2, rb.len())

	rb.drainAll()
	assert.Equal(t, 0, rb.len())
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer(10, testLogger())
	rb.push(bufferedMsg{
		topic:    "energy/boiler/fioul/totals",
		payload:  []byte(`{"test":true}`),
		qos:      1,
		retained: true,
	})

	got := rb.drainAll()
	require.Len(t, got, 1)
	assert.Equal(t, "energy/boiler/fioul/totals", got[0].topic)
	assert.Equal(t, `{"test":true}`, string(got[0].payload))
	assert.Equal(t, byte(1), got[0].qos)
	assert.True(t, got[0].retained)
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	rb := newRingBuffer(0, nil)
	assert.Equal(t, DefaultBufferSize, rb.capacity)
}
