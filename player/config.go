package player

import (
	"time"

	"github.com/charlescerisier/avplayer/avi"
)

// Config holds the playback tuning parameters.
type Config struct {
	// DisplayRate is the host tick rate in Hz.
	DisplayRate int

	// RingSize is the audio ring capacity in bytes of interleaved stereo s16.
	RingSize int
	// RefillThreshold triggers a refill when fewer bytes are buffered.
	RefillThreshold int
	// MaxBatch caps the sample frames handed to the audio sink per tick.
	MaxBatch int
	// LeadTime keeps audio this far ahead of the video clock.
	LeadTime time.Duration

	// MaxFramePayload skips video chunks larger than this many bytes.
	MaxFramePayload int

	// RefillByteBudget ends a refill once more decoded bytes than this were produced.
	RefillByteBudget int
	// MinFreeSpace is the ring space below which block decoding stops.
	MinFreeSpace int
	// ADPCMMaxBlocks caps blocks decoded per refill.
	ADPCMMaxBlocks int
	// ADPCMMaxSkips caps short chunks skipped per refill.
	ADPCMMaxSkips int
	// MP3StagingSize is the compressed input staging buffer size.
	MP3StagingSize int
	// MP3RefillBelow tops the staging buffer up when fewer bytes remain.
	MP3RefillBelow int
	// MP3MaxErrors ends a refill after this many consecutive bad frames.
	MP3MaxErrors int

	// SeekShortStep and SeekLongStep are the jumps bound to left/right and up/down.
	SeekShortStep time.Duration
	SeekLongStep  time.Duration
	// LockHold is how long L+R must be held to toggle the key lock.
	LockHold time.Duration

	// Container bounds the indexer.
	Container avi.Options
}

// DefaultConfig returns the tuning used on the target device.
func DefaultConfig() *Config {
	const ringSize = 44100 * 4
	return &Config{
		DisplayRate:      30,
		RingSize:         ringSize,
		RefillThreshold:  ringSize / 2,
		MaxBatch:         4096,
		LeadTime:         100 * time.Millisecond,
		MaxFramePayload:  1 << 20,
		RefillByteBudget: 4096,
		MinFreeSpace:     512,
		ADPCMMaxBlocks:   500,
		ADPCMMaxSkips:    100,
		MP3StagingSize:   8192,
		MP3RefillBelow:   2048,
		MP3MaxErrors:     100,
		SeekShortStep:    15 * time.Second,
		SeekLongStep:     60 * time.Second,
		LockHold:         2 * time.Second,
		Container:        avi.DefaultOptions(),
	}
}

// normalize fills zero fields from DefaultConfig and keeps the ring a
// whole number of stereo sample frames.
func (c Config) normalize() *Config {
	def := DefaultConfig()
	if c.DisplayRate <= 0 {
		c.DisplayRate = def.DisplayRate
	}
	if c.RingSize <= 0 {
		c.RingSize = def.RingSize
	}
	c.RingSize -= c.RingSize % bytesPerFrame
	if c.RingSize < bytesPerFrame {
		c.RingSize = bytesPerFrame
	}
	if c.RefillThreshold <= 0 || c.RefillThreshold > c.RingSize {
		c.RefillThreshold = c.RingSize / 2
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = def.MaxBatch
	}
	if c.LeadTime < 0 {
		c.LeadTime = 0
	}
	if c.MaxFramePayload <= 0 {
		c.MaxFramePayload = def.MaxFramePayload
	}
	if c.RefillByteBudget <= 0 {
		c.RefillByteBudget = def.RefillByteBudget
	}
	if c.MinFreeSpace <= 0 {
		c.MinFreeSpace = def.MinFreeSpace
	}
	if c.ADPCMMaxBlocks <= 0 {
		c.ADPCMMaxBlocks = def.ADPCMMaxBlocks
	}
	if c.ADPCMMaxSkips <= 0 {
		c.ADPCMMaxSkips = def.ADPCMMaxSkips
	}
	if c.MP3StagingSize <= 0 {
		c.MP3StagingSize = def.MP3StagingSize
	}
	if c.MP3RefillBelow <= 0 || c.MP3RefillBelow > c.MP3StagingSize {
		c.MP3RefillBelow = c.MP3StagingSize / 4
	}
	if c.MP3MaxErrors <= 0 {
		c.MP3MaxErrors = def.MP3MaxErrors
	}
	if c.SeekShortStep <= 0 {
		c.SeekShortStep = def.SeekShortStep
	}
	if c.SeekLongStep <= 0 {
		c.SeekLongStep = def.SeekLongStep
	}
	if c.LockHold <= 0 {
		c.LockHold = def.LockHold
	}
	return &c
}
