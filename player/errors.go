package player

import "errors"

var (
	// ErrNotOpen is returned by transport operations without an open file.
	ErrNotOpen = errors.New("no file open")

	// ErrNoAudio is returned when an audio pipeline is requested for a
	// stream without usable audio.
	ErrNoAudio = errors.New("no usable audio stream")
)
