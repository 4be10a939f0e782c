package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/charlescerisier/avplayer/avi"
)

// OutputFormat represents different output formats
type OutputFormat string

const (
	OutputJSON OutputFormat = "json"
	OutputText OutputFormat = "text"
)

// Config holds CLI configuration
type Config struct {
	InputFiles   []string
	OutputFile   string
	OutputFormat OutputFormat
	ShowStreams  bool
	ShowIndex    bool
	Jobs         int
	Verbose      bool
}

// ChunkInfo is one row of an index table in JSON output
type ChunkInfo struct {
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
}

// StreamInfo represents stream information for JSON output
type StreamInfo struct {
	Index      int     `json:"index"`
	CodecType  string  `json:"codec_type"`
	CodecName  string  `json:"codec_name,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	BitDepth   int     `json:"bit_depth,omitempty"`
	Packets    int     `json:"packets"`
	Duration   string  `json:"duration,omitempty"`
}

// PlaybackInfo is what the player will do with the file
type PlaybackInfo struct {
	FrameRate     int    `json:"frame_rate"`
	RepeatCount   int    `json:"repeat_count"`
	VideoCodec    string `json:"video_codec"`
	VideoFamily   string `json:"video_family"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ExtraData     int    `json:"extradata_bytes,omitempty"`
	Audio         string `json:"audio"`
	AudioDisabled string `json:"audio_disabled,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
}

// IndexInfo describes how the chunk tables were built
type IndexInfo struct {
	Source     string      `json:"source"`
	Base       int64       `json:"base"`
	HeaderSkip int64       `json:"header_skip"`
	Truncated  bool        `json:"truncated,omitempty"`
	Frames     int         `json:"frames"`
	Audio      int         `json:"audio_chunks"`
	FrameTable []ChunkInfo `json:"frame_table,omitempty"`
	AudioTable []ChunkInfo `json:"audio_table,omitempty"`
}

// FileOutput represents the complete file information for JSON output
type FileOutput struct {
	File     string        `json:"file"`
	Size     int64         `json:"size"`
	Duration string        `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Playback *PlaybackInfo `json:"playback,omitempty"`
	Index    *IndexInfo    `json:"index,omitempty"`
	Streams  []StreamInfo  `json:"streams,omitempty"`
}

func main() {
	config := parseFlags()

	if len(config.InputFiles) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one input file is required\n")
		flag.Usage()
		os.Exit(1)
	}

	results, err := probeFiles(context.Background(), config)
	if err != nil {
		logrus.WithError(err).Fatal("Probe failed")
	}

	if err := writeOutput(config, results); err != nil {
		logrus.WithError(err).Fatal("Failed to write output")
	}

	for _, r := range results {
		if r.Error != "" {
			os.Exit(2)
		}
	}
}

func parseFlags() Config {
	var config Config
	var input string

	flag.StringVar(&input, "i", "", "Input AVI file")
	flag.StringVar(&config.OutputFile, "o", "", "Output file (default: stdout)")
	flag.BoolVar(&config.ShowStreams, "show-streams", true, "Show stream information")
	flag.BoolVar(&config.ShowIndex, "show-index", false, "Include the frame and audio chunk tables")
	flag.IntVar(&config.Jobs, "j", runtime.NumCPU(), "Files probed in parallel")
	flag.BoolVar(&config.Verbose, "v", false, "Verbose output")

	var format string
	flag.StringVar(&format, "f", "json", "Output format (json, text)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] -i input.avi [more.avi ...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i video.avi                    # JSON description on stdout\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -f text *.avi                   # Text summary of many files\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i video.avi -show-index        # Include chunk tables\n", os.Args[0])
	}

	flag.Parse()

	if config.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	switch strings.ToLower(format) {
	case "json":
		config.OutputFormat = OutputJSON
	case "text":
		config.OutputFormat = OutputText
	default:
		logrus.Fatalf("unsupported output format '%s'", format)
	}

	if input != "" {
		config.InputFiles = append(config.InputFiles, input)
	}
	config.InputFiles = append(config.InputFiles, flag.Args()...)
	return config
}

// probeFiles opens every input concurrently. A file that fails to open is
// reported in its result and does not stop the others.
func probeFiles(ctx context.Context, config Config) ([]FileOutput, error) {
	results := make([]FileOutput, len(config.InputFiles))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, config.Jobs))
	for i, path := range config.InputFiles {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = probeFile(path, config)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func probeFile(path string, config Config) FileOutput {
	out := FileOutput{File: path}

	reader := avi.NewDemuxer()
	defer reader.Close()

	if err := reader.OpenFile(path); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "probeFile",
			"file":     path,
			"error":    err.Error(),
		}).Warn("Failed to open file")
		out.Error = err.Error()
		return out
	}

	fileInfo, err := reader.GetFileInfo()
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Size = fileInfo.FileSize
	out.Duration = fileInfo.Duration.String()

	desc := reader.Descriptor()
	out.Playback = &PlaybackInfo{
		FrameRate:     desc.FrameRate,
		RepeatCount:   avi.RepeatCount(desc.FrameRate),
		VideoCodec:    desc.VideoFourCC,
		VideoFamily:   desc.VideoFamily.String(),
		Width:         desc.Width,
		Height:        desc.Height,
		ExtraData:     len(desc.ExtraData),
		Audio:         "none",
		AudioDisabled: desc.AudioDisabled,
	}
	if desc.HasAudio {
		out.Playback.Audio = desc.AudioFormat.String()
		out.Playback.SampleRate = desc.SampleRate
		out.Playback.Channels = desc.Channels
	}

	index := reader.Index()
	out.Index = &IndexInfo{
		Source:     index.Source.String(),
		Base:       index.Base,
		HeaderSkip: index.HeaderSkip,
		Truncated:  index.Truncated,
		Frames:     len(index.Frames),
		Audio:      len(index.Audio),
	}
	if config.ShowIndex {
		out.Index.FrameTable = chunkTable(index.Frames)
		out.Index.AudioTable = chunkTable(index.Audio)
	}

	if config.ShowStreams {
		for _, stream := range fileInfo.Streams {
			info := StreamInfo{
				Index:     stream.Index,
				CodecType: string(stream.Type),
				CodecName: stream.Codec.Name,
				Packets:   stream.PacketCount,
			}
			if stream.Duration > 0 {
				info.Duration = stream.Duration.String()
			}
			switch stream.Type {
			case avi.StreamTypeVideo:
				info.Width = stream.Codec.Width
				info.Height = stream.Codec.Height
				info.FPS = stream.Codec.FPS
			case avi.StreamTypeAudio:
				info.Channels = stream.Codec.Channels
				info.SampleRate = stream.Codec.SampleRate
				info.BitDepth = stream.Codec.BitDepth
			}
			out.Streams = append(out.Streams, info)
		}
	}
	return out
}

func chunkTable(refs []avi.ChunkRef) []ChunkInfo {
	table := make([]ChunkInfo, len(refs))
	for i, ref := range refs {
		table[i] = ChunkInfo{Offset: ref.Offset, Size: ref.Size}
	}
	return table
}

func writeOutput(config Config, results []FileOutput) error {
	var w io.Writer = os.Stdout
	if config.OutputFile != "" {
		file, err := os.Create(config.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		w = file
	}

	switch config.OutputFormat {
	case OutputText:
		for _, r := range results {
			writeText(w, config, r)
		}
		return nil
	default:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "    ")
		if len(results) == 1 {
			return encoder.Encode(results[0])
		}
		return encoder.Encode(results)
	}
}

func writeText(w io.Writer, config Config, r FileOutput) {
	fmt.Fprintf(w, "File: %s\n", filepath.Base(r.File))
	if r.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n\n", r.Error)
		return
	}
	fmt.Fprintf(w, "  Size: %d bytes\n", r.Size)
	fmt.Fprintf(w, "  Duration: %s\n", r.Duration)

	p := r.Playback
	fmt.Fprintf(w, "  Video: %s (%s) %dx%d @ %d fps, each frame shown %d ticks\n",
		p.VideoCodec, p.VideoFamily, p.Width, p.Height, p.FrameRate, p.RepeatCount)
	if p.AudioDisabled != "" {
		fmt.Fprintf(w, "  Audio: disabled (%s)\n", p.AudioDisabled)
	} else {
		fmt.Fprintf(w, "  Audio: %s", p.Audio)
		if p.SampleRate > 0 {
			fmt.Fprintf(w, " %d Hz, %d channels", p.SampleRate, p.Channels)
		}
		fmt.Fprintf(w, "\n")
	}

	ix := r.Index
	fmt.Fprintf(w, "  Index: %s, base %d, skip %d, %d frames, %d audio chunks",
		ix.Source, ix.Base, ix.HeaderSkip, ix.Frames, ix.Audio)
	if ix.Truncated {
		fmt.Fprintf(w, " (truncated)")
	}
	fmt.Fprintf(w, "\n")

	if config.ShowStreams {
		for _, s := range r.Streams {
			fmt.Fprintf(w, "  Stream #%d: %s (%s), %d packets\n", s.Index, s.CodecType, s.CodecName, s.Packets)
		}
	}
	if config.ShowIndex {
		for i, c := range ix.FrameTable {
			fmt.Fprintf(w, "    frame %6d  offset %10d  size %8d\n", i, c.Offset, c.Size)
		}
		for i, c := range ix.AudioTable {
			fmt.Fprintf(w, "    audio %6d  offset %10d  size %8d\n", i, c.Offset, c.Size)
		}
	}
	fmt.Fprintf(w, "\n")
}
