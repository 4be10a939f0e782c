package avi

import "errors"

// Sentinel errors returned (wrapped in *AVIError) by Reader.Open.
// Use errors.Is to classify them.
var (
	// ErrNotAVI indicates the input lacks the RIFF/AVI signatures.
	ErrNotAVI = errors.New("not a RIFF AVI file")

	// ErrNoVideo indicates the header list declares no video stream.
	ErrNoVideo = errors.New("no video stream")

	// ErrNoFrames indicates neither the index nor a movi scan produced a frame.
	ErrNoFrames = errors.New("no video frames")

	// ErrNotOpen indicates a read on a reader without an open file.
	ErrNotOpen = errors.New("file not opened")

	// ErrNoWriter indicates a muxer call before Create.
	ErrNoWriter = errors.New("file not created")
)
