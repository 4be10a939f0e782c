package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Synthesizer decodes layer III frames to PCM with go-mp3. Frames are
// fed one at a time; the go-mp3 decoder keeps the bit reservoir between
// them until Reset.
type MP3Synthesizer struct {
	feed    frameFeed
	dec     *mp3.Decoder
	scratch []byte
	pcm     []byte
}

// NewMP3Synthesizer returns a synthesizer with no stream state.
func NewMP3Synthesizer() *MP3Synthesizer {
	return &MP3Synthesizer{}
}

// Synthesize decodes frame and appends its samples to dst. go-mp3 always
// produces stereo; mono streams keep the left channel.
func (s *MP3Synthesizer) Synthesize(dst []int16, hdr MP3FrameHeader, frame []byte) (out []int16, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Reset()
			out, err = dst, fmt.Errorf("mp3 synthesis: %v", r)
		}
	}()

	s.feed.buf = frame
	defer func() { s.feed.buf = nil }()

	if s.dec == nil {
		dec, err := mp3.NewDecoder(&s.feed)
		if err != nil {
			return dst, fmt.Errorf("mp3 synthesis: %w", err)
		}
		s.dec = dec
	}

	if len(s.scratch) == 0 {
		s.scratch = make([]byte, 4096)
	}
	s.pcm = s.pcm[:0]
	for {
		n, err := s.dec.Read(s.scratch)
		s.pcm = append(s.pcm, s.scratch[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.Reset()
			return dst, fmt.Errorf("mp3 synthesis: %w", err)
		}
	}
	if len(s.pcm) < 4 {
		// frames leaning on a reservoir we never saw decode to nothing
		return dst, errors.New("mp3 synthesis: frame produced no samples")
	}

	mono := hdr.Channels == 1
	for i := 0; i+4 <= len(s.pcm); i += 4 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(s.pcm[i:])))
		if !mono {
			dst = append(dst, int16(binary.LittleEndian.Uint16(s.pcm[i+2:])))
		}
	}
	return dst, nil
}

// Reset drops the decoder; the next frame starts a fresh stream.
func (s *MP3Synthesizer) Reset() {
	s.dec = nil
	s.feed.buf = nil
}

// frameFeed hands go-mp3 the current frame and reports EOF once it is
// consumed, which makes the decoder stop at the frame boundary.
type frameFeed struct {
	buf []byte
}

func (f *frameFeed) Read(p []byte) (int, error) {
	if len(f.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}
