package common

// CircularBuffer is a fixed-capacity history of float64 values. Writing to a
// full buffer overwrites the oldest value. It never reallocates after
// construction.
type CircularBuffer struct {
	buffer   []float64
	size     int
	writePos int
	count    int
}

// NewCircularBuffer creates a new circular buffer
func NewCircularBuffer(size int) *CircularBuffer {
	if size < 1 {
		size = 1
	}
	return &CircularBuffer{
		buffer: make([]float64, size),
		size:   size,
	}
}

// Push appends one value, evicting the oldest when full
func (cb *CircularBuffer) Push(value float64) {
	cb.buffer[cb.writePos] = value
	cb.writePos = (cb.writePos + 1) % cb.size
	if cb.count < cb.size {
		cb.count++
	}
}

// Peek copies values oldest-first into data without consuming them
func (cb *CircularBuffer) Peek(data []float64) int {
	pos := cb.readPos()
	read := 0
	for i := range data {
		if read >= cb.count {
			break
		}
		data[i] = cb.buffer[pos]
		pos = (pos + 1) % cb.size
		read++
	}
	return read
}

// Values returns a new slice with the contents oldest-first
func (cb *CircularBuffer) Values() []float64 {
	out := make([]float64, cb.count)
	cb.Peek(out)
	return out
}

// Last returns the newest value
func (cb *CircularBuffer) Last() (float64, bool) {
	if cb.count == 0 {
		return 0, false
	}
	return cb.buffer[(cb.writePos-1+cb.size)%cb.size], true
}

// Available returns number of values held
func (cb *CircularBuffer) Available() int {
	return cb.count
}

// Clear empties the buffer
func (cb *CircularBuffer) Clear() {
	cb.writePos = 0
	cb.count = 0
	for i := range cb.buffer {
		cb.buffer[i] = 0
	}
}

func (cb *CircularBuffer) readPos() int {
	return (cb.writePos - cb.count + cb.size) % cb.size
}
