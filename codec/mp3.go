package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"
	gocodec "github.com/yapingcat/gomedia/go-codec"
)

const mp3HeaderSize = 4

// MP3FrameHeader is the decoded 4-byte MPEG audio frame header.
type MP3FrameHeader struct {
	Version         int
	Layer           int
	SampleRate      int
	Channels        int
	Bitrate         int
	SamplesPerFrame int
	FrameSize       int
}

// Synthesizer turns one complete MPEG audio frame into PCM. Implementations
// own any inter-frame state such as the bit reservoir.
type Synthesizer interface {
	// Synthesize appends the samples of frame to dst, interleaved with
	// hdr.Channels channels.
	Synthesize(dst []int16, hdr MP3FrameHeader, frame []byte) ([]int16, error)
	// Reset drops inter-frame state after a discontinuity.
	Reset()
}

// SilenceSynthesizer emits frame-accurate silence. It keeps audio timing
// and ring accounting exact without decoding any samples.
type SilenceSynthesizer struct{}

func (SilenceSynthesizer) Synthesize(dst []int16, hdr MP3FrameHeader, frame []byte) ([]int16, error) {
	n := hdr.SamplesPerFrame * hdr.Channels
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	return dst, nil
}

func (SilenceSynthesizer) Reset() {}

// MP3Decoder frames an MPEG audio byte stream and hands complete frames to
// a Synthesizer. The real sample rate and channel count are latched from
// the first good frame.
type MP3Decoder struct {
	synth      Synthesizer
	sampleRate int
	channels   int
	frames     int
}

// NewMP3Decoder creates a decoder; a nil synth selects an MP3Synthesizer.
func NewMP3Decoder(synth Synthesizer) *MP3Decoder {
	if synth == nil {
		synth = NewMP3Synthesizer()
	}
	return &MP3Decoder{synth: synth}
}

// Decode decodes the frame at the start of buf and appends its samples to dst.
//
// ErrNeedMoreData with consumed == 0 means buf holds only part of a frame.
// ErrCorruptUnit comes with consumed >= 1: the bytes up to the next
// possible sync word, or the whole frame when synthesis failed.
func (d *MP3Decoder) Decode(dst []int16, buf []byte) (consumed int, out []int16, err error) {
	if len(buf) < mp3HeaderSize {
		return 0, dst, ErrNeedMoreData
	}

	hdr, err := ParseMP3FrameHeader(buf)
	if err != nil {
		return resync(buf), dst, err
	}
	if len(buf) < hdr.FrameSize {
		return 0, dst, ErrNeedMoreData
	}

	out, err = d.synth.Synthesize(dst, hdr, buf[:hdr.FrameSize])
	if err != nil {
		return hdr.FrameSize, dst, fmt.Errorf("%w: %v", ErrCorruptUnit, err)
	}

	d.frames++
	if d.sampleRate == 0 {
		d.sampleRate = hdr.SampleRate
		d.channels = hdr.Channels
		logrus.WithFields(logrus.Fields{
			"function":    "MP3Decoder.Decode",
			"sample_rate": hdr.SampleRate,
			"channels":    hdr.Channels,
			"bitrate":     hdr.Bitrate,
		}).Info("MP3 stream format detected")
	}
	return hdr.FrameSize, out, nil
}

// DetectedFormat returns the rate and channel count of the first good
// frame, or zeros before one was decoded.
func (d *MP3Decoder) DetectedFormat() (sampleRate, channels int) {
	return d.sampleRate, d.channels
}

// Frames returns the number of frames decoded since creation.
func (d *MP3Decoder) Frames() int {
	return d.frames
}

// Reset drops synthesis state for a discontinuity. The detected format is
// a property of the stream and survives.
func (d *MP3Decoder) Reset() {
	d.synth.Reset()
}

// ParseMP3FrameHeader validates and decodes the header at the start of b.
func ParseMP3FrameHeader(b []byte) (hdr MP3FrameHeader, err error) {
	if len(b) < mp3HeaderSize || !plausibleMP3Header(b) {
		return hdr, ErrCorruptUnit
	}

	defer func() {
		if r := recover(); r != nil {
			hdr = MP3FrameHeader{}
			err = fmt.Errorf("%w: header parse: %v", ErrCorruptUnit, r)
		}
	}()

	head, err := gocodec.DecodeMp3Head(b[:mp3HeaderSize])
	if err != nil {
		return hdr, fmt.Errorf("%w: %v", ErrCorruptUnit, err)
	}

	hdr = MP3FrameHeader{
		Version:         int(head.Version),
		Layer:           int(head.Layer),
		SampleRate:      head.GetSampleRate(),
		Channels:        2,
		Bitrate:         head.GetBitRate(),
		SamplesPerFrame: head.SampleSize,
		FrameSize:       head.FrameSize,
	}
	// channel mode 3 is single channel
	if head.Mode == 3 {
		hdr.Channels = 1
	}
	if hdr.SampleRate == 0 || hdr.FrameSize < mp3HeaderSize {
		return MP3FrameHeader{}, ErrCorruptUnit
	}
	return hdr, nil
}

// plausibleMP3Header rejects sync words with reserved or free-format
// fields before they reach the table-driven header parser.
func plausibleMP3Header(b []byte) bool {
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	bitrate := b[2] >> 4
	rate := (b[2] >> 2) & 0x03
	return version != 1 && layer != 0 && bitrate != 0 && bitrate != 15 && rate != 3
}

// resync returns how many bytes to drop to reach the next candidate sync word.
func resync(buf []byte) int {
	for i := 1; i < len(buf); i++ {
		if buf[i] == 0xFF && (i+1 >= len(buf) || buf[i+1]&0xE0 == 0xE0) {
			return i
		}
	}
	return len(buf)
}

// MP3SamplesPerFrame is the seek granularity used for a container sample rate.
func MP3SamplesPerFrame(sampleRate int) int {
	if sampleRate >= 32000 {
		return 1152
	}
	return 576
}
