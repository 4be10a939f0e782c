// Package player drives playback of an indexed AVI file: it paces video
// frames against the host tick, keeps the audio ring ahead of the video
// clock and implements the transport operations.
package player

import (
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlescerisier/avplayer/avi"
	"github.com/charlescerisier/avplayer/codec"
)

// State is the transport state.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
	StateSeeking
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	default:
		return "stopped"
	}
}

// AudioSink receives interleaved stereo s16 samples and returns how many
// sample frames it accepted.
type AudioSink interface {
	WriteSamples(samples []int16) int
}

// VideoSink receives the current picture once per tick.
type VideoSink interface {
	Present(img image.Image)
}

// TransportCursor is the video position: Frame is the next frame to
// decode, Repeat counts ticks already spent on the current frame.
type TransportCursor struct {
	Frame  int
	Repeat int
}

// Option configures a Session.
type Option func(*Session)

// WithPictureBackend sets the factory used for motion-family streams.
func WithPictureBackend(factory func(avi.StreamDescriptor) codec.PictureBackend) Option {
	return func(s *Session) {
		s.newBackend = factory
	}
}

// WithSynthesizer sets the factory used for MP3 audio.
func WithSynthesizer(factory func() codec.Synthesizer) Option {
	return func(s *Session) {
		s.newSynth = factory
	}
}

// Session owns everything belonging to one open file. It is driven from a
// single goroutine: HandleInput and Tick once per host frame.
type Session struct {
	cfg        *Config
	audioSink  AudioSink
	videoSink  VideoSink
	newBackend func(avi.StreamDescriptor) codec.PictureBackend
	newSynth   func() codec.Synthesizer

	reader *avi.Reader
	desc   avi.StreamDescriptor
	index  *avi.Index
	video  *codec.VideoDecoder
	audio  *AudioPipeline

	state       State
	cursor      TransportCursor
	repeatCount int
	frame       image.Image
	payload     []byte
	batch       []int16

	input inputState
	stats Stats
}

// NewSession creates a stopped session. Either sink may be nil.
func NewSession(cfg *Config, audio AudioSink, video VideoSink, opts ...Option) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Session{
		cfg:       cfg.normalize(),
		audioSink: audio,
		videoSink: video,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open closes any open file and starts playback of path.
func (s *Session) Open(path string) error {
	s.Close()

	reader := avi.NewReader(s.cfg.Container)
	if err := reader.OpenFile(path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return s.start(reader, path)
}

// OpenReader closes any open file and starts playback from r.
func (s *Session) OpenReader(r io.ReadSeeker, size int64) error {
	s.Close()

	reader := avi.NewReader(s.cfg.Container)
	if err := reader.Open(r, size); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	return s.start(reader, "")
}

func (s *Session) start(reader *avi.Reader, name string) error {
	s.reader = reader
	s.desc = reader.Descriptor()
	s.index = reader.Index()
	s.stats = Stats{}
	s.input = inputState{}
	s.cursor = TransportCursor{}
	s.frame = nil
	s.repeatCount = avi.RepeatCount(s.desc.FrameRate)

	var backend codec.PictureBackend
	if s.newBackend != nil && s.desc.VideoFamily == avi.VideoFamilyMotion {
		backend = s.newBackend(s.desc)
	}
	s.video = codec.NewVideoDecoder(s.desc, backend)

	if s.desc.HasAudio {
		var synth codec.Synthesizer
		if s.newSynth != nil {
			synth = s.newSynth()
		}
		audio, err := NewAudioPipeline(reader, s.index.Audio, s.desc, s.cfg, &s.stats, synth)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.Open",
				"error":    err.Error(),
			}).Warn("Audio disabled")
		} else {
			s.audio = audio
		}
	}

	s.state = StatePlaying

	// motion-family streams may need several units before the first
	// picture, so only intra streams show frame 0 immediately
	if s.desc.VideoFamily == avi.VideoFamilyIntra {
		s.decodeFrame(0)
	}
	if s.audio != nil {
		s.audio.Refill()
	}

	fields := logrus.Fields{
		"function": "Session.Open",
		"frames":   len(s.index.Frames),
		"fps":      s.desc.FrameRate,
		"repeat":   s.repeatCount,
		"codec":    s.desc.VideoFourCC,
		"family":   s.desc.VideoFamily.String(),
		"index":    s.index.Source.String(),
	}
	if name != "" {
		fields["file"] = name
	}
	if s.audio != nil {
		fields["audio"] = s.desc.AudioFormat.String()
		fields["sample_rate"] = s.desc.SampleRate
		fields["channels"] = s.desc.Channels
	}
	logrus.WithFields(fields).Info("Playback started")
	return nil
}

// Close releases the open file. Safe to call at any time.
func (s *Session) Close() error {
	if s.reader == nil {
		s.state = StateStopped
		return nil
	}

	var errs []error
	if s.video != nil {
		errs = append(errs, s.video.Close())
	}
	errs = append(errs, s.reader.Close())

	s.reader = nil
	s.index = nil
	s.video = nil
	s.audio = nil
	s.frame = nil
	s.desc = avi.StreamDescriptor{}
	s.cursor = TransportCursor{}
	s.state = StateStopped

	logrus.WithFields(logrus.Fields{
		"function": "Session.Close",
		"ticks":    s.stats.Ticks,
	}).Debug("Session closed")
	return errors.Join(errs...)
}

// Tick advances playback by one host frame and presents the current picture.
func (s *Session) Tick() {
	if s.state == StateStopped {
		return
	}
	s.stats.Ticks++

	if s.state == StatePlaying {
		total := len(s.index.Frames)
		if s.cursor.Repeat == 0 && s.cursor.Frame < total {
			s.decodeFrame(s.cursor.Frame)
		}
		s.cursor.Repeat++
		if s.cursor.Repeat >= s.repeatCount {
			s.cursor.Repeat = 0
			s.cursor.Frame++
		}

		s.playAudio()

		if s.cursor.Frame >= total {
			s.loop()
		}
	}

	if s.videoSink != nil && s.frame != nil {
		s.videoSink.Present(s.frame)
	}
}

// decodeFrame replaces the current picture with frame i. Failures keep
// the previous picture.
func (s *Session) decodeFrame(i int) {
	if i < 0 || i >= len(s.index.Frames) {
		return
	}
	ref := s.index.Frames[i]
	if ref.Size == 0 {
		return
	}
	if int(ref.Size) > s.cfg.MaxFramePayload {
		s.stats.OversizedFrames++
		return
	}

	payload, err := s.reader.ReadPayload(ref, s.payload)
	s.payload = payload
	if err != nil {
		s.stats.VideoErrors++
		logrus.WithFields(logrus.Fields{
			"function": "Session.decodeFrame",
			"frame":    i,
			"error":    err.Error(),
		}).Debug("Frame read failed")
		return
	}

	img, err := s.video.Decode(payload)
	switch {
	case err == nil:
		s.frame = img
		s.stats.FramesDecoded++
	case errors.Is(err, codec.ErrNeedMoreData):
		s.stats.FramesPending++
	default:
		s.stats.VideoErrors++
		logrus.WithFields(logrus.Fields{
			"function": "Session.decodeFrame",
			"frame":    i,
			"error":    err.Error(),
		}).Debug("Frame decode failed")
	}
}

// playAudio tops up the ring and sends the sink enough samples to stay
// LeadTime ahead of the video clock.
func (s *Session) playAudio() {
	if s.audio == nil {
		return
	}
	if s.audio.Buffered() < s.cfg.RefillThreshold {
		s.audio.Refill()
	}

	expected := s.expectedSamples()
	sent := s.audio.Sent()
	if expected <= sent {
		return
	}
	toSend := int(min(expected-sent, uint64(s.cfg.MaxBatch)))

	if cap(s.batch) < toSend*2 {
		s.batch = make([]int16, s.cfg.MaxBatch*2)
	}
	n := s.audio.Consume(s.batch[:toSend*2])
	if n == 0 || s.audioSink == nil {
		return
	}
	if accepted := s.audioSink.WriteSamples(s.batch[:n*2]); accepted < n {
		s.stats.SinkShortfall += uint64(n - max(accepted, 0))
	}
}

// expectedSamples is the audio position matching the video cursor plus
// the lead time.
func (s *Session) expectedSamples() uint64 {
	rate := uint64(s.audio.SampleRate())
	lead := rate * uint64(s.cfg.LeadTime) / uint64(time.Second)
	return uint64(s.cursor.Frame)*rate/uint64(s.desc.FrameRate) + lead
}

// loop rewinds video and audio to the start of the file.
func (s *Session) loop() {
	s.cursor = TransportCursor{}
	if s.audio != nil {
		s.audio.Reset()
		s.audio.Refill()
	}
	s.stats.Loops++
	logrus.WithFields(logrus.Fields{
		"function": "Session.loop",
		"loops":    s.stats.Loops,
	}).Debug("Looping to start")
}

// Seek moves playback to frame target, clamped to the file, and shows
// that frame. Audio is repositioned to the matching sample time.
func (s *Session) Seek(target int) error {
	if s.state == StateStopped {
		return ErrNotOpen
	}
	total := len(s.index.Frames)
	target = max(0, min(target, total-1))

	prev := s.state
	s.state = StateSeeking

	s.cursor = TransportCursor{Frame: target}
	if s.audio != nil {
		rate := uint64(s.audio.SampleRate())
		s.audio.Seek(uint64(target) * rate / uint64(s.desc.FrameRate))
	}
	s.decodeFrame(target)

	s.state = prev
	s.stats.Seeks++
	logrus.WithFields(logrus.Fields{
		"function": "Session.Seek",
		"frame":    target,
		"total":    total,
	}).Debug("Seek complete")
	return nil
}

// SeekBy moves playback by d relative to the current frame.
func (s *Session) SeekBy(d time.Duration) error {
	if s.state == StateStopped {
		return ErrNotOpen
	}
	step := int(d * time.Duration(s.desc.FrameRate) / time.Second)
	return s.Seek(s.cursor.Frame + step)
}

// Restart seeks to the first frame and resumes playback.
func (s *Session) Restart() error {
	if err := s.Seek(0); err != nil {
		return err
	}
	s.state = StatePlaying
	return nil
}

// TogglePause switches between playing and paused.
func (s *Session) TogglePause() {
	switch s.state {
	case StatePlaying:
		s.state = StatePaused
	case StatePaused:
		s.state = StatePlaying
	default:
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Session.TogglePause",
		"state":    s.state.String(),
	}).Debug("Pause toggled")
}

// State returns the transport state.
func (s *Session) State() State {
	return s.state
}

// Cursor returns the video position.
func (s *Session) Cursor() TransportCursor {
	return s.cursor
}

// AudioCursor returns the audio decode position and the sample frames sent.
func (s *Session) AudioCursor() (AudioCursor, uint64, bool) {
	if s.audio == nil {
		return AudioCursor{}, 0, false
	}
	return s.audio.Cursor(), s.audio.Sent(), true
}

// Descriptor returns the stream description of the open file.
func (s *Session) Descriptor() avi.StreamDescriptor {
	return s.desc
}

// Frame returns the picture currently on screen, or nil.
func (s *Session) Frame() image.Image {
	return s.frame
}

// TotalFrames returns the number of indexed video frames.
func (s *Session) TotalFrames() int {
	if s.index == nil {
		return 0
	}
	return len(s.index.Frames)
}

// RepeatCount returns how many ticks each video frame is held.
func (s *Session) RepeatCount() int {
	return s.repeatCount
}

// Position returns the media time of the video cursor.
func (s *Session) Position() time.Duration {
	return s.frameTime(s.cursor.Frame)
}

// Duration returns the media time of the whole video table.
func (s *Session) Duration() time.Duration {
	return s.frameTime(s.TotalFrames())
}

func (s *Session) frameTime(frame int) time.Duration {
	if s.desc.FrameRate <= 0 {
		return 0
	}
	return time.Duration(frame) * time.Second / time.Duration(s.desc.FrameRate)
}

// Stats returns the counters with current snapshots filled in.
func (s *Session) Stats() Stats {
	st := s.stats
	if s.audio != nil {
		st.SamplesSent = s.audio.Sent()
		st.RingLevel = s.audio.Buffered()
	}
	return st
}
