// Package ring provides the fixed-capacity byte ring that sits between
// the audio decoders and the audio sink.
package ring

// Buffer is a single-producer, single-consumer byte ring. It is not safe
// for concurrent use. Writes never overwrite unread data and reads never
// return more than was written.
type Buffer struct {
	data  []byte
	read  int
	write int
	count int
}

// New allocates a ring of the given capacity in bytes.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.count }

// Free returns the number of bytes that can be written.
func (b *Buffer) Free() int { return len(b.data) - b.count }

// Write copies as much of p as fits and returns the number of bytes taken.
func (b *Buffer) Write(p []byte) int {
	n := min(len(p), b.Free())
	if n == 0 {
		return 0
	}
	first := copy(b.data[b.write:], p[:n])
	if first < n {
		copy(b.data, p[first:n])
	}
	b.write = (b.write + n) % len(b.data)
	b.count += n
	return n
}

// Read copies up to len(p) unread bytes into p.
func (b *Buffer) Read(p []byte) int {
	n := min(len(p), b.count)
	if n == 0 {
		return 0
	}
	first := copy(p[:n], b.data[b.read:])
	if first < n {
		copy(p[first:n], b.data)
	}
	b.read = (b.read + n) % len(b.data)
	b.count -= n
	return n
}

// Reset discards all unread data.
func (b *Buffer) Reset() {
	b.read, b.write, b.count = 0, 0, 0
}
