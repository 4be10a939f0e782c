package codec

import (
	"encoding/binary"
	"fmt"
)

// PCMConverter normalizes 8-bit unsigned or 16-bit signed little-endian
// PCM, mono or stereo, to interleaved stereo int16.
type PCMConverter struct {
	channels int
	bits     int
}

// NewPCMConverter validates the source layout.
func NewPCMConverter(channels, bits int) (*PCMConverter, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupported, channels)
	}
	if bits != 8 && bits != 16 {
		return nil, fmt.Errorf("%w: %d-bit pcm", ErrUnsupported, bits)
	}
	return &PCMConverter{channels: channels, bits: bits}, nil
}

// FrameSize is the number of source bytes per sample frame.
func (c *PCMConverter) FrameSize() int {
	return c.channels * c.bits / 8
}

// Convert appends the stereo samples for every whole frame in src to dst.
// A trailing partial frame is ignored; callers keep it for the next call.
func (c *PCMConverter) Convert(dst []int16, src []byte) []int16 {
	frame := c.FrameSize()
	n := len(src) / frame
	for i := 0; i < n; i++ {
		p := src[i*frame:]
		var l, r int16
		if c.bits == 8 {
			l = int16(int(p[0])-128) << 8
			r = l
			if c.channels == 2 {
				r = int16(int(p[1])-128) << 8
			}
		} else {
			l = int16(binary.LittleEndian.Uint16(p))
			r = l
			if c.channels == 2 {
				r = int16(binary.LittleEndian.Uint16(p[2:]))
			}
		}
		dst = append(dst, l, r)
	}
	return dst
}
