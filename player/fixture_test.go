package player

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlescerisier/avplayer/avi"
)

// clip describes a synthetic AVI file.
type clip struct {
	frames int
	fps    float64
	fourcc string
	width  int
	height int
	// video returns the payload of frame i.
	video func(i int) []byte

	audio *avi.Codec
	// audioChunk returns the audio chunk stored after frame i, or nil.
	audioChunk func(i int) []byte

	mux avi.MuxOptions
}

func buildClip(t *testing.T, c clip) *avi.SeekableBuffer {
	t.Helper()

	buf := avi.NewSeekableBuffer()
	m := avi.NewMuxerWithOptions(c.mux)
	require.NoError(t, m.Create(buf))

	fourcc := c.fourcc
	if fourcc == "" {
		fourcc = "MJPG"
	}
	vs, err := m.AddStream(avi.Codec{
		Type:   avi.StreamTypeVideo,
		FourCC: avi.StringToChunkID(fourcc),
		Width:  c.width,
		Height: c.height,
		FPS:    c.fps,
	})
	require.NoError(t, err)

	as := -1
	if c.audio != nil {
		as, err = m.AddStream(*c.audio)
		require.NoError(t, err)
	}

	for i := 0; i < c.frames; i++ {
		require.NoError(t, m.WritePacket(&avi.Packet{StreamIndex: vs, Data: c.video(i), Keyframe: true}))
		if as >= 0 && c.audioChunk != nil {
			if data := c.audioChunk(i); data != nil {
				require.NoError(t, m.WritePacket(&avi.Packet{StreamIndex: as, Data: data}))
			}
		}
	}
	require.NoError(t, m.Finalize())

	_, err = buf.Seek(0, 0)
	require.NoError(t, err)
	return buf
}

func solidJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var out bytes.Buffer
	require.NoError(t, jpeg.Encode(&out, img, nil))
	return out.Bytes()
}

// pcmClip is 450 frames at 15 fps with one chunk of mono 22050 Hz 16-bit
// PCM per frame: 1470 samples, 2940 bytes.
func pcmClip(t *testing.T) *avi.SeekableBuffer {
	red := solidJPEG(t, color.RGBA{R: 255, A: 255})
	blue := solidJPEG(t, color.RGBA{B: 255, A: 255})
	chunk := make([]byte, 2940)
	for i := 0; i < len(chunk); i += 2 {
		chunk[i] = byte(i)
	}
	return buildClip(t, clip{
		frames: 450,
		fps:    15,
		width:  16,
		height: 16,
		video: func(i int) []byte {
			if i == 0 {
				return red
			}
			return blue
		},
		audio: &avi.Codec{
			Type:       avi.StreamTypeAudio,
			FormatTag:  avi.WaveFormatPCM,
			Channels:   1,
			SampleRate: 22050,
			BitDepth:   16,
		},
		audioChunk: func(int) []byte { return chunk },
	})
}

func openSession(t *testing.T, buf *avi.SeekableBuffer, cfg *Config, audio AudioSink, video VideoSink) *Session {
	t.Helper()
	s := NewSession(cfg, audio, video)
	require.NoError(t, s.OpenReader(buf, int64(buf.Len())))
	t.Cleanup(func() { s.Close() })
	return s
}

type recordingAudio struct {
	frames int
	limit  int
}

func (r *recordingAudio) WriteSamples(samples []int16) int {
	n := len(samples) / 2
	if r.limit > 0 && n > r.limit {
		n = r.limit
	}
	r.frames += n
	return n
}

type recordingVideo struct {
	presented int
	last      image.Image
}

func (r *recordingVideo) Present(img image.Image) {
	r.presented++
	r.last = img
}
