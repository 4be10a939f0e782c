package avi

import (
	"errors"
	"io"
)

// SeekableBuffer is an in-memory io.ReadWriteSeeker and io.ReaderAt.
// The muxer writes into it and the demuxer reads it back without touching disk.
type SeekableBuffer struct {
	buf []byte
	pos int64
}

// NewSeekableBuffer creates an empty SeekableBuffer
func NewSeekableBuffer() *SeekableBuffer {
	return &SeekableBuffer{}
}

// NewSeekableBufferFrom wraps existing bytes; the buffer takes ownership of data.
func NewSeekableBufferFrom(data []byte) *SeekableBuffer {
	return &SeekableBuffer{buf: data}
}

// Write writes at the current position, overwriting and extending as needed.
func (sb *SeekableBuffer) Write(p []byte) (int, error) {
	end := sb.pos + int64(len(p))
	oldLen := int64(len(sb.buf))
	if end > oldLen {
		if end > int64(cap(sb.buf)) {
			grown := make([]byte, end, max(end, 2*int64(cap(sb.buf))))
			copy(grown, sb.buf)
			sb.buf = grown
		} else {
			sb.buf = sb.buf[:end]
		}
		if sb.pos > oldLen {
			clear(sb.buf[oldLen:sb.pos])
		}
	}
	copy(sb.buf[sb.pos:], p)
	sb.pos = end
	return len(p), nil
}

// Seek sets the position for the next Read or Write. Seeking past the end
// is allowed; the gap is zero filled by the next Write.
func (sb *SeekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = sb.pos + offset
	case io.SeekEnd:
		newPos = int64(len(sb.buf)) + offset
	default:
		return 0, errors.New("invalid seek whence")
	}
	if newPos < 0 {
		return 0, errors.New("seek before start of buffer")
	}
	sb.pos = newPos
	return newPos, nil
}

// Read reads from the current position.
func (sb *SeekableBuffer) Read(p []byte) (int, error) {
	if sb.pos >= int64(len(sb.buf)) {
		return 0, io.EOF
	}
	n := copy(p, sb.buf[sb.pos:])
	sb.pos += int64(n)
	return n, nil
}

// ReadAt reads without moving the position.
func (sb *SeekableBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(sb.buf)) {
		return 0, io.EOF
	}
	n := copy(p, sb.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes returns the buffer contents
func (sb *SeekableBuffer) Bytes() []byte {
	return sb.buf
}

// Len returns the buffer length
func (sb *SeekableBuffer) Len() int {
	return len(sb.buf)
}

// Reset empties the buffer
func (sb *SeekableBuffer) Reset() {
	sb.buf = sb.buf[:0]
	sb.pos = 0
}
