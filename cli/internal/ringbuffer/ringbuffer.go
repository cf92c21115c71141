// Package ringbuffer is a lock-free single-producer single-consumer queue of PCM samples,
// sitting between the network reader and the audio device callback.
package ringbuffer

import (
	"encoding/binary"
	"sync/atomic"
)

// reference: https://en.wikipedia.org/wiki/Circular_buffer
type RingBuffer struct {
	buffer []int16
	size   int64

	writeIdx,
	readIdx atomic.Int64
}

// New returns a buffer holding up to capacity samples.
func New(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]int16, capacity+1), // one slot stays empty to tell full from empty
		size:   int64(capacity + 1),
	}
}

// Len is the number of unread samples.
func (rb *RingBuffer) Len() int {
	w, r := rb.writeIdx.Load(), rb.readIdx.Load()
	if w >= r {
		return int(w - r)
	}
	return int(rb.size - r + w)
}

// Write copies samples from src until the buffer is full and returns how many were written.
// Safe for a single producer.
func (rb *RingBuffer) Write(src []int16) int {
	written := 0
	writeIdx := rb.writeIdx.Load()
	for _, s := range src {
		next := (writeIdx + 1) % rb.size
		if next == rb.readIdx.Load() {
			break // full
		}
		rb.buffer[writeIdx] = s
		writeIdx = next
		rb.writeIdx.Store(writeIdx) // publish write
		written++
	}
	return written
}

// Read fills dst with little-endian 16-bit samples and pads whatever it cannot fill with
// silence. It returns the number of samples read. Safe for a single consumer.
func (rb *RingBuffer) Read(dst []byte) int {
	read := 0
	readIdx := rb.readIdx.Load()
	for i := 0; i+1 < len(dst); i += 2 {
		if readIdx == rb.writeIdx.Load() {
			clear(dst[i:])
			break
		}
		binary.LittleEndian.PutUint16(dst[i:], uint16(rb.buffer[readIdx]))
		readIdx = (readIdx + 1) % rb.size
		rb.readIdx.Store(readIdx) // publish read
		read++
	}
	return read
}

// Discard drops every unread sample. It is a consumer operation.
func (rb *RingBuffer) Discard() {
	rb.readIdx.Store(rb.writeIdx.Load())
}
