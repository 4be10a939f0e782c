package player

// Stats counts what happened since the file was opened.
type Stats struct {
	Ticks         uint64
	FramesDecoded uint64
	// FramesPending counts motion-family units that produced no picture yet.
	FramesPending uint64
	VideoErrors   uint64
	// OversizedFrames counts video chunks skipped for exceeding MaxFramePayload.
	OversizedFrames uint64

	AudioErrors      uint64
	ADPCMSkips       uint64
	MP3Frames        uint64
	RingBytesWritten uint64
	// SinkShortfall counts sample frames the sink refused.
	SinkShortfall uint64

	Seeks uint64
	Loops uint64

	// SamplesSent and RingLevel are snapshots taken by Session.Stats.
	SamplesSent uint64
	RingLevel   int
}
