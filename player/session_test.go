package player

import (
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlescerisier/avplayer/avi"
	"github.com/charlescerisier/avplayer/codec"
)

func TestOpenPCMClip(t *testing.T) {
	video := &recordingVideo{}
	s := openSession(t, pcmClip(t), nil, nil, video)

	desc := s.Descriptor()
	assert.Equal(t, 15, desc.FrameRate)
	assert.Equal(t, avi.VideoFamilyIntra, desc.VideoFamily)
	assert.True(t, desc.HasAudio)
	assert.Equal(t, avi.AudioPCM, desc.AudioFormat)
	assert.Equal(t, 2, desc.SrcBytesPerSample)

	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, 450, s.TotalFrames())
	assert.Equal(t, 2, s.RepeatCount())
	assert.Equal(t, 30*time.Second, s.Duration())
	require.NotNil(t, s.Frame(), "intra streams show frame 0 on open")
	assert.Equal(t, uint64(1), s.Stats().FramesDecoded)
}

func TestOpenReplacesPreviousFile(t *testing.T) {
	s := openSession(t, pcmClip(t), nil, nil, nil)
	require.NoError(t, s.Seek(300))

	buf := pcmClip(t)
	require.NoError(t, s.OpenReader(buf, int64(buf.Len())))
	assert.Equal(t, TransportCursor{}, s.Cursor())
	assert.Equal(t, uint64(0), s.Stats().Seeks)
}

func TestOpenRejectsGarbage(t *testing.T) {
	s := NewSession(nil, nil, nil)
	buf := avi.NewSeekableBufferFrom([]byte("this is not a RIFF file at all"))
	err := s.OpenReader(buf, int64(buf.Len()))
	require.Error(t, err)
	assert.ErrorIs(t, err, avi.ErrNotAVI)
	assert.Equal(t, StateStopped, s.State())
}

func TestTickHoldsFramesForRepeatCount(t *testing.T) {
	video := &recordingVideo{}
	s := openSession(t, pcmClip(t), nil, nil, video)

	s.Tick()
	assert.Equal(t, TransportCursor{Frame: 0, Repeat: 1}, s.Cursor())
	s.Tick()
	assert.Equal(t, TransportCursor{Frame: 1, Repeat: 0}, s.Cursor())
	s.Tick()
	assert.Equal(t, TransportCursor{Frame: 1, Repeat: 1}, s.Cursor())

	assert.Equal(t, 3, video.presented, "a picture is presented every tick")
	// frames 0 and 1 plus the eager decode at open
	assert.Equal(t, uint64(3), s.Stats().FramesDecoded)
}

func TestSeekMapsFrameToAudioTime(t *testing.T) {
	s := openSession(t, pcmClip(t), nil, nil, nil)

	require.NoError(t, s.Seek(225))
	assert.Equal(t, TransportCursor{Frame: 225}, s.Cursor())

	_, sent, ok := s.AudioCursor()
	require.True(t, ok)
	assert.Equal(t, uint64(330750), sent)

	cursor, reached := s.audio.Locate(330750)
	assert.Equal(t, uint64(330750), reached)
	var offset uint64
	for _, ref := range s.index.Audio[:cursor.Chunk] {
		offset += uint64(ref.Size)
	}
	offset += uint64(cursor.Pos)
	assert.Equal(t, uint64(661500), offset)
	assert.Equal(t, AudioCursor{Chunk: 225, Pos: 0}, cursor)

	assert.Greater(t, s.audio.Buffered(), 0, "non-MP3 audio refills after a seek")
}

func TestSeekClamps(t *testing.T) {
	s := openSession(t, pcmClip(t), nil, nil, nil)

	tests := []struct {
		name   string
		target int
		want   int
	}{
		{name: "negative", target: -10, want: 0},
		{name: "in range", target: 100, want: 100},
		{name: "last frame", target: 449, want: 449},
		{name: "past end", target: 10000, want: 449},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.Seek(tt.target))
			assert.Equal(t, TransportCursor{Frame: tt.want}, s.Cursor())
			assert.Equal(t, StatePlaying, s.State())
		})
	}
}

func TestSeekIsIdempotent(t *testing.T) {
	s := openSession(t, pcmClip(t), nil, nil, nil)

	require.NoError(t, s.Seek(120))
	cursor := s.Cursor()
	audio, sent, _ := s.AudioCursor()
	level := s.audio.Buffered()

	require.NoError(t, s.Seek(120))
	audio2, sent2, _ := s.AudioCursor()
	assert.Equal(t, cursor, s.Cursor())
	assert.Equal(t, audio, audio2)
	assert.Equal(t, sent, sent2)
	assert.Equal(t, level, s.audio.Buffered())
}

func TestSeekWithoutFile(t *testing.T) {
	s := NewSession(nil, nil, nil)
	assert.ErrorIs(t, s.Seek(10), ErrNotOpen)
	assert.ErrorIs(t, s.Restart(), ErrNotOpen)
}

func TestAudioTracksVideoClock(t *testing.T) {
	sink := &recordingAudio{}
	s := openSession(t, pcmClip(t), nil, sink, nil)

	for i := 0; i < 200; i++ {
		s.Tick()
		_, sent, _ := s.AudioCursor()
		assert.Equal(t, s.expectedSamples(), sent, "tick %d", i)
	}
	assert.Equal(t, uint64(sink.frames), s.Stats().SamplesSent)
	assert.Zero(t, s.Stats().SinkShortfall)
	assert.LessOrEqual(t, s.Stats().RingLevel, s.cfg.RingSize)
}

func TestAudioBatchIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBatch = 100
	sink := &recordingAudio{}
	s := openSession(t, pcmClip(t), cfg, sink, nil)

	s.Tick()
	_, sent, _ := s.AudioCursor()
	assert.Equal(t, uint64(100), sent)
	assert.Equal(t, 100, sink.frames)
}

func TestSinkShortfallIsCounted(t *testing.T) {
	sink := &recordingAudio{limit: 10}
	s := openSession(t, pcmClip(t), nil, sink, nil)

	s.Tick()
	_, sent, _ := s.AudioCursor()
	assert.Equal(t, uint64(2205), sent, "sent counts what left the ring")
	assert.Equal(t, uint64(2205-10), s.Stats().SinkShortfall)
}

func TestLoopRestartsFromFirstFrame(t *testing.T) {
	red := solidJPEG(t, color.RGBA{R: 255, A: 255})
	blue := solidJPEG(t, color.RGBA{B: 255, A: 255})
	chunk := make([]byte, 1000)
	buf := buildClip(t, clip{
		frames: 5,
		fps:    30,
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
			Channels:   2,
			SampleRate: 8000,
			BitDepth:   16,
		},
		audioChunk: func(int) []byte { return chunk },
	})

	s := openSession(t, buf, nil, &recordingAudio{}, nil)
	first := s.Frame()
	require.NotNil(t, first)
	firstPixel := first.At(8, 8)

	for i := 0; i < 5; i++ {
		s.Tick()
	}
	assert.Equal(t, TransportCursor{}, s.Cursor())
	assert.Equal(t, uint64(1), s.Stats().Loops)
	assert.NotEqual(t, firstPixel, s.Frame().At(8, 8))

	_, sent, _ := s.AudioCursor()
	assert.Zero(t, sent)

	s.Tick()
	assert.Equal(t, firstPixel, s.Frame().At(8, 8))
}

func TestPauseFreezesTransport(t *testing.T) {
	video := &recordingVideo{}
	s := openSession(t, pcmClip(t), nil, nil, video)

	s.Tick()
	s.TogglePause()
	assert.Equal(t, StatePaused, s.State())

	before := s.Cursor()
	s.Tick()
	s.Tick()
	assert.Equal(t, before, s.Cursor())
	assert.Equal(t, 3, video.presented, "paused ticks still present")

	s.TogglePause()
	assert.Equal(t, StatePlaying, s.State())
}

func TestRestart(t *testing.T) {
	s := openSession(t, pcmClip(t), nil, nil, nil)
	require.NoError(t, s.Seek(200))
	s.TogglePause()

	require.NoError(t, s.Restart())
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, TransportCursor{}, s.Cursor())
	assert.Equal(t, time.Duration(0), s.Position())
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openSession(t, pcmClip(t), nil, nil, nil)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, StateStopped, s.State())
	assert.Nil(t, s.Frame())

	s.Tick()
	assert.Zero(t, s.Stats().Ticks)
}

func TestOversizedFrameIsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFramePayload = 16
	s := openSession(t, pcmClip(t), cfg, nil, nil)

	assert.Nil(t, s.Frame())
	assert.Equal(t, uint64(1), s.Stats().OversizedFrames)
}

func TestMotionStreamWaitsForPicture(t *testing.T) {
	vop := []byte{0x00, 0x00, 0x01, 0xB6, 0x10, 0x00, 0x00, 0x00}
	buf := buildClip(t, clip{
		frames: 4,
		fps:    25,
		fourcc: "XVID",
		width:  32,
		height: 32,
		video:  func(int) []byte { return vop },
	})

	s := openSession(t, buf, nil, nil, nil)
	assert.Equal(t, avi.VideoFamilyMotion, s.Descriptor().VideoFamily)
	assert.Nil(t, s.Frame(), "motion streams are not decoded eagerly")
	assert.Zero(t, s.Stats().FramesDecoded)

	s.Tick()
	assert.Equal(t, TransportCursor{Frame: 1}, s.Cursor())
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{RingSize: 1001, RefillThreshold: 5000}
	n := cfg.normalize()
	assert.Equal(t, 1000, n.RingSize)
	assert.Equal(t, 500, n.RefillThreshold)
	assert.Equal(t, 30, n.DisplayRate)
	assert.Equal(t, 4096, n.MaxBatch)
	assert.Equal(t, avi.Options{}, n.Container, "zero container options fall back inside the reader")
}

func TestMP3BitstreamRateOverridesContainer(t *testing.T) {
	jpg := solidJPEG(t, color.RGBA{G: 255, A: 255})
	frame := mp3Frame()
	buf := buildClip(t, clip{
		frames: 200,
		fps:    25,
		width:  16,
		height: 16,
		video:  func(int) []byte { return jpg },
		// the header claims 32000 Hz, the frames carry 22050 Hz
		audio: &avi.Codec{
			Type:       avi.StreamTypeAudio,
			FormatTag:  avi.WaveFormatMP3,
			Channels:   1,
			SampleRate: 32000,
		},
		audioChunk: func(int) []byte { return frame },
	})

	sink := &recordingAudio{}
	s := NewSession(nil, sink, nil, WithSynthesizer(func() codec.Synthesizer { return codec.SilenceSynthesizer{} }))
	require.NoError(t, s.OpenReader(buf, int64(buf.Len())))
	t.Cleanup(func() { s.Close() })
	require.Equal(t, 32000, s.Descriptor().SampleRate)

	for i := 0; i < 10; i++ {
		s.Tick()
	}
	assert.Equal(t, 22050, s.audio.SampleRate())
	// 10 frames at 25 fps plus 100 ms of lead, at the bitstream rate
	assert.Equal(t, uint64(11025), s.expectedSamples())
	_, sent, ok := s.AudioCursor()
	require.True(t, ok)
	assert.Equal(t, uint64(11025), sent)
	assert.Equal(t, 11025, sink.frames)

	// 100 frames = 88200 samples, aligned down to 576-sample frames
	require.NoError(t, s.Seek(100))
	cursor, sent, ok := s.AudioCursor()
	require.True(t, ok)
	assert.Equal(t, AudioCursor{Chunk: 153}, cursor)
	assert.Equal(t, uint64(88128), sent)
}
