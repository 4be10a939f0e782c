package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlescerisier/avplayer/avi"
)

// Config holds CLI configuration
type Config struct {
	InputFile  string
	OutputFile string
	Verbose    bool
	Progress   bool
	DryRun     bool
}

// Version can be set at build time
var version = "dev"

func main() {
	config := parseFlags()

	if config.InputFile == "" {
		fmt.Fprintf(os.Stderr, "Error: input file is required\n")
		flag.Usage()
		os.Exit(1)
	}

	if _, err := os.Stat(config.InputFile); os.IsNotExist(err) {
		logrus.Fatalf("input file '%s' does not exist", config.InputFile)
	}

	if config.OutputFile == "" {
		dir := filepath.Dir(config.InputFile)
		base := filepath.Base(config.InputFile)
		ext := filepath.Ext(base)
		name := base[:len(base)-len(ext)]
		config.OutputFile = filepath.Join(dir, name+"_indexed"+ext)
	}

	if err := reindexFile(config); err != nil {
		logrus.WithError(err).Fatal("Reindex failed")
	}
}

func parseFlags() Config {
	var config Config

	flag.StringVar(&config.InputFile, "i", "", "Input AVI file (required)")
	flag.StringVar(&config.OutputFile, "o", "", "Output AVI file (default: input_indexed.avi)")
	flag.BoolVar(&config.Verbose, "v", false, "Verbose output")
	flag.BoolVar(&config.Progress, "p", false, "Show progress")
	flag.BoolVar(&config.DryRun, "dry-run", false, "Analyze input without creating output")

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "avireindex %s - rewrite an AVI file with a standard idx1 index\n", version)
		fmt.Fprintf(os.Stderr, "\nUsage: %s [options] -i input.avi\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i video.avi                    # Write video_indexed.avi\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i video.avi -o output.avi      # Specify output file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i video.avi --dry-run          # Report how the index is built\n", os.Args[0])
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("avireindex %s\n", version)
		os.Exit(0)
	}
	if config.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	return config
}

func reindexFile(config Config) error {
	startTime := time.Now()

	reader := avi.NewReader(avi.DefaultOptions())
	defer reader.Close()

	if err := reader.OpenFile(config.InputFile); err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}

	fileInfo, err := reader.GetFileInfo()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}
	streams, err := reader.GetStreams()
	if err != nil {
		return fmt.Errorf("failed to get streams: %w", err)
	}
	desc := reader.Descriptor()
	index := reader.Index()

	if config.Verbose || config.DryRun {
		fmt.Printf("\nInput file information:\n")
		fmt.Printf("  File: %s\n", filepath.Base(config.InputFile))
		fmt.Printf("  Size: %s\n", formatBytes(fileInfo.FileSize))
		fmt.Printf("  Duration: %v\n", fileInfo.Duration)
		fmt.Printf("  Video: %s (%s) %dx%d @ %d fps\n",
			desc.VideoFourCC, desc.VideoFamily, desc.Width, desc.Height, desc.FrameRate)
		fmt.Printf("  Index: %s (base %d, skip %d)\n", index.Source, index.Base, index.HeaderSkip)
		fmt.Printf("  Chunks: %d video, %d audio\n", len(index.Frames), len(index.Audio))
		if index.Truncated {
			fmt.Printf("  Warning: index truncated, trailing chunks are dropped\n")
		}
	}

	packets, err := reader.ReadAllPackets()
	if err != nil {
		return fmt.Errorf("failed to read packets: %w", err)
	}

	if config.DryRun {
		fmt.Printf("\nDry run complete. No output file created.\n")
		return nil
	}

	muxer := avi.NewMuxer()
	defer muxer.Close()

	if err := muxer.CreateFile(config.OutputFile); err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	// only the streams the index selected carry packets
	used := make(map[int]bool)
	for _, packet := range packets {
		used[packet.StreamIndex] = true
	}
	streamMapping := make(map[int]int)
	for _, stream := range streams {
		if !used[stream.Index] {
			continue
		}
		codec := stream.Codec
		if codec.Type == avi.StreamTypeVideo && codec.FPS <= 0 {
			codec.FPS = float64(desc.FrameRate)
		}
		newIndex, err := muxer.AddStream(codec)
		if err != nil {
			return fmt.Errorf("failed to add stream: %w", err)
		}
		streamMapping[stream.Index] = newIndex
		logrus.WithFields(logrus.Fields{
			"function": "reindexFile",
			"stream":   stream.Index,
			"type":     stream.Type,
			"output":   newIndex,
		}).Debug("Stream mapped")
	}

	keyframes := 0
	for i, packet := range packets {
		data, err := reader.ReadPacketData(&packet)
		if err != nil {
			return fmt.Errorf("failed to read packet %d data: %w", i, err)
		}

		keyframe := packet.Keyframe
		if packet.Codec == avi.StreamTypeVideo {
			keyframe = avi.IsKeyframe(desc.VideoFamily, data)
			if keyframe {
				keyframes++
			}
		}

		out := &avi.Packet{
			StreamIndex: streamMapping[packet.StreamIndex],
			Codec:       packet.Codec,
			Data:        data,
			PTS:         packet.PTS,
			Size:        len(data),
			Keyframe:    keyframe,
			PTSTime:     packet.PTSTime,
		}
		if err := muxer.WritePacket(out); err != nil {
			return fmt.Errorf("failed to write packet %d: %w", i, err)
		}

		if config.Progress && (i+1)%100 == 0 {
			progress := float64(i+1) / float64(len(packets)) * 100
			fmt.Printf("\r  Progress: %d/%d packets (%.1f%%)", i+1, len(packets), progress)
		}
	}
	if config.Progress {
		fmt.Printf("\r  Progress: %d/%d packets (100.0%%)\n", len(packets), len(packets))
	}

	if err := muxer.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}

	outputInfo, err := os.Stat(config.OutputFile)
	if err != nil {
		return fmt.Errorf("failed to stat output file: %w", err)
	}

	fmt.Printf("\nReindex completed.\n")
	fmt.Printf("\nSummary:\n")
	fmt.Printf("  Input:  %s (%s, %s index)\n", filepath.Base(config.InputFile), formatBytes(fileInfo.FileSize), index.Source)
	fmt.Printf("  Output: %s (%s)\n", filepath.Base(config.OutputFile), formatBytes(outputInfo.Size()))
	fmt.Printf("  Packets: %d (%d keyframes)\n", len(packets), keyframes)
	fmt.Printf("  Time: %v\n", time.Since(startTime))

	return nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
