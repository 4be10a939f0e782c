package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlescerisier/avplayer/player"
	"github.com/charlescerisier/avplayer/settings"
)

// Config holds CLI configuration
type Config struct {
	InputFile    string
	Ticks        int
	Realtime     bool
	WAVFile      string
	SnapshotDir  string
	SnapshotStep int
	SeekSeconds  float64
	SettingsFile string
	Verbose      bool
}

var version = "dev"

func main() {
	config := parseFlags()

	if config.InputFile == "" {
		fmt.Fprintf(os.Stderr, "Error: input file is required\n")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		logrus.WithError(err).Fatal("Playback failed")
	}
}

func parseFlags() Config {
	var config Config

	flag.StringVar(&config.InputFile, "i", "", "Input AVI file (required)")
	flag.IntVar(&config.Ticks, "ticks", 0, "Stop after this many display ticks (default: one pass through the file)")
	flag.BoolVar(&config.Realtime, "realtime", false, "Pace ticks at the display rate instead of running as fast as possible")
	flag.StringVar(&config.WAVFile, "wav", "", "Write delivered audio to this WAV file")
	flag.StringVar(&config.SnapshotDir, "snapshot", "", "Write PNG snapshots of presented frames to this directory")
	flag.IntVar(&config.SnapshotStep, "every", 30, "Ticks between snapshots")
	flag.Float64Var(&config.SeekSeconds, "seek", 0, "Start playback at this position in seconds")
	flag.StringVar(&config.SettingsFile, "settings", "", "Settings file (key=value)")
	flag.BoolVar(&config.Verbose, "v", false, "Verbose output")

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "avplayer %s - headless AVI player\n", version)
		fmt.Fprintf(os.Stderr, "\nUsage: %s [options] -i input.avi\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i video.avi -wav out.wav          # Decode the audio track in sync\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i video.avi -snapshot shots       # Save a frame every second\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i video.avi -seek 60 -ticks 300   # Play ten seconds from 1:00\n", os.Args[0])
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("avplayer %s\n", version)
		os.Exit(0)
	}
	if config.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return config
}

func run(ctx context.Context, config Config) error {
	cfg := player.DefaultConfig()

	var prefs *settings.Settings
	if config.SettingsFile != "" {
		var err error
		prefs, err = settings.Load(config.SettingsFile)
		if err != nil {
			return err
		}
		cfg.LeadTime = time.Duration(prefs.Int(settings.KeyLeadMillis, int(cfg.LeadTime/time.Millisecond))) * time.Millisecond
		cfg.DisplayRate = prefs.Int(settings.KeyDisplayRate, cfg.DisplayRate)
	}

	video := &snapshotSink{dir: config.SnapshotDir, every: config.SnapshotStep}
	if video.dir != "" {
		if err := os.MkdirAll(video.dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	audio := &deferredAudio{}
	session := player.NewSession(cfg, audio, video)
	defer session.Close()

	if err := session.Open(config.InputFile); err != nil {
		return err
	}

	desc := session.Descriptor()
	if config.WAVFile != "" && desc.HasAudio {
		wav, err := createWAV(config.WAVFile, desc.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			if err := wav.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to finalize wav file")
			}
		}()
		audio.sink = wav
	}

	if config.SeekSeconds > 0 {
		frame := int(config.SeekSeconds * float64(desc.FrameRate))
		if err := session.Seek(frame); err != nil {
			return err
		}
	}

	ticks := config.Ticks
	if ticks <= 0 {
		ticks = (session.TotalFrames() - session.Cursor().Frame) * session.RepeatCount()
	}

	var pace <-chan time.Time
	if config.Realtime {
		ticker := time.NewTicker(time.Second / time.Duration(cfg.DisplayRate))
		defer ticker.Stop()
		pace = ticker.C
	}

	start := time.Now()
	for i := 0; i < ticks; i++ {
		if pace != nil {
			select {
			case <-ctx.Done():
				return summarize(session, i, time.Since(start))
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return summarize(session, i, time.Since(start))
		}

		session.Tick()
		if err := video.flush(); err != nil {
			return err
		}
	}

	if prefs != nil {
		abs, err := filepath.Abs(config.InputFile)
		if err == nil {
			prefs.Set(settings.KeyLastDir, filepath.Dir(abs))
		}
		if err := prefs.Save(config.SettingsFile); err != nil {
			logrus.WithError(err).Warn("Failed to save settings")
		}
	}

	return summarize(session, ticks, time.Since(start))
}

func summarize(session *player.Session, ticks int, elapsed time.Duration) error {
	st := session.Stats()
	logrus.WithFields(logrus.Fields{
		"function":       "run",
		"ticks":          ticks,
		"position":       session.Position(),
		"duration":       session.Duration(),
		"frames_decoded": st.FramesDecoded,
		"frames_pending": st.FramesPending,
		"video_errors":   st.VideoErrors,
		"audio_errors":   st.AudioErrors,
		"adpcm_skips":    st.ADPCMSkips,
		"mp3_frames":     st.MP3Frames,
		"ring_bytes":     st.RingBytesWritten,
		"samples_sent":   st.SamplesSent,
		"ring_level":     st.RingLevel,
		"loops":          st.Loops,
		"elapsed":        elapsed,
	}).Info("Playback finished")
	return nil
}

// deferredAudio forwards to sink once one is attached and otherwise
// accepts and drops everything.
type deferredAudio struct {
	sink player.AudioSink
}

func (d *deferredAudio) WriteSamples(samples []int16) int {
	if d.sink == nil {
		return len(samples) / 2
	}
	return d.sink.WriteSamples(samples)
}

// snapshotSink saves every Nth presented picture as PNG.
type snapshotSink struct {
	dir     string
	every   int
	count   int
	pending image.Image
}

func (s *snapshotSink) Present(img image.Image) {
	s.count++
	if s.dir == "" || s.every <= 0 || (s.count-1)%s.every != 0 {
		return
	}
	s.pending = img
}

func (s *snapshotSink) flush() error {
	if s.pending == nil {
		return nil
	}
	img := s.pending
	s.pending = nil

	path := filepath.Join(s.dir, fmt.Sprintf("tick_%06d.png", s.count-1))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return f.Close()
}
