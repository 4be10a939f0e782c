package avi

import (
	"io"
	"time"
)

// StreamType represents the type of media stream
type StreamType string

const (
	StreamTypeVideo StreamType = "video"
	StreamTypeAudio StreamType = "audio"
)

// VideoFamily selects the video decoder variant.
type VideoFamily int

const (
	// VideoFamilyIntra covers codecs where every frame decodes on its own (MJPEG and friends).
	VideoFamilyIntra VideoFamily = iota
	// VideoFamilyMotion covers MPEG-4 Part 2 style codecs with inter-frame state.
	VideoFamilyMotion
)

func (f VideoFamily) String() string {
	switch f {
	case VideoFamilyIntra:
		return "intra"
	case VideoFamilyMotion:
		return "motion"
	default:
		return "unknown"
	}
}

// AudioFormat is the audio codec family derived from the WAVEFORMATEX tag.
type AudioFormat int

const (
	AudioNone AudioFormat = iota
	AudioPCM
	AudioMSADPCM
	AudioMP3
)

func (f AudioFormat) String() string {
	switch f {
	case AudioPCM:
		return "pcm"
	case AudioMSADPCM:
		return "ms-adpcm"
	case AudioMP3:
		return "mp3"
	default:
		return "none"
	}
}

// AudioFormatFromTag maps a WAVEFORMATEX format tag to an AudioFormat.
func AudioFormatFromTag(tag uint16) AudioFormat {
	switch tag {
	case WaveFormatPCM:
		return AudioPCM
	case WaveFormatMSADPCM:
		return AudioMSADPCM
	case WaveFormatMP3:
		return AudioMP3
	default:
		return AudioNone
	}
}

// Codec represents codec information
type Codec struct {
	Name       string
	FourCC     [4]byte
	Type       StreamType
	Width      int     // for video
	Height     int     // for video
	FPS        float64 // for video
	ExtraData  []byte  // for video, bytes after BITMAPINFOHEADER
	Channels   int     // for audio
	SampleRate int     // for audio
	BitDepth   int     // for audio
	FormatTag  uint16  // for audio, WAVEFORMATEX tag (0 means PCM when writing)
	BlockAlign int     // for audio
	// SamplesPerBlock is the MS-ADPCM frames-per-block value.
	SamplesPerBlock int
}

// Packet represents a single media packet
type Packet struct {
	StreamIndex int
	Codec       StreamType
	Data        []byte
	PTS         int64 // frame number for video, chunk number for audio
	Size        int
	Position    int64 // payload position in file
	Keyframe    bool
	PTSTime     time.Duration
}

// Stream represents a media stream
type Stream struct {
	Index       int
	Type        StreamType
	Codec       Codec
	Duration    time.Duration
	PacketCount int
}

// FileInfo contains metadata about the AVI file
type FileInfo struct {
	Filename     string
	Duration     time.Duration
	FileSize     int64
	Streams      []Stream
	VideoStreams int
	AudioStreams int
}

// ChunkRef locates one chunk payload: Offset is the absolute file
// position of the first payload byte (framing header skipped).
type ChunkRef struct {
	Offset uint32
	Size   uint32
}

// End returns the position just past the payload.
func (c ChunkRef) End() int64 {
	return int64(c.Offset) + int64(c.Size)
}

// IndexSource says how the chunk tables were built.
type IndexSource int

const (
	IndexFromIdx1 IndexSource = iota
	IndexFromScan
)

func (s IndexSource) String() string {
	if s == IndexFromScan {
		return "scan"
	}
	return "idx1"
}

// Index holds the random-access tables built once per open file.
// Frames and Audio are in presentation order.
type Index struct {
	Frames []ChunkRef
	Audio  []ChunkRef
	Source IndexSource
	// Base is the offset base the idx1 records resolved against.
	Base int64
	// HeaderSkip is 8 when idx1 offsets point at chunk headers, 0 when
	// they point at payloads directly.
	HeaderSkip int64
	// Truncated is set when a table hit Options.MaxEntries or ran past the file end.
	Truncated bool
}

// StreamDescriptor is the read-only description of the selected video
// stream and, when usable, the first audio stream.
type StreamDescriptor struct {
	FrameRate        int
	MicroSecPerFrame uint32
	Width            int
	Height           int
	VideoFourCC      string
	VideoFamily      VideoFamily
	ExtraData        []byte

	HasAudio        bool
	AudioFormat     AudioFormat
	AudioFormatTag  uint16
	Channels        int
	SampleRate      int
	BitsPerSample   int
	BlockAlign      int
	SamplesPerBlock int
	// SrcBytesPerSample is the size of one PCM sample frame across all channels.
	SrcBytesPerSample int
	// AudioDisabled explains why HasAudio is false when an audio stream exists.
	AudioDisabled string
}

// Options bounds the work and memory spent by Reader.Open.
type Options struct {
	// MaxEntries caps each chunk table; the file is treated as truncated past it.
	MaxEntries int
	// MaxExtradata is the largest video extradata kept.
	MaxExtradata int
	// IndexLookahead is how many top-level chunks after movi are inspected for idx1.
	IndexLookahead int
	// MaxAudioSampleRate disables audio above this rate. The default plays
	// everything below 44000 Hz.
	MaxAudioSampleRate int
}

// DefaultOptions returns the limits used by the player.
func DefaultOptions() Options {
	return Options{
		MaxEntries:         360000,
		MaxExtradata:       256,
		IndexLookahead:     64,
		MaxAudioSampleRate: 43999,
	}
}

// Demuxer interface for reading AVI files
type Demuxer interface {
	// Open parses headers and builds the chunk index
	Open(r io.ReadSeeker, size int64) error

	// OpenFile opens an AVI file for reading (convenience method)
	OpenFile(filename string) error

	// GetFileInfo returns metadata about the file
	GetFileInfo() (*FileInfo, error)

	// GetStreams returns all streams in the file
	GetStreams() ([]Stream, error)

	// Descriptor returns the playback description of the file
	Descriptor() StreamDescriptor

	// Index returns the chunk tables
	Index() *Index

	// ReadPayload reads one indexed chunk into buf, growing it if needed
	ReadPayload(ref ChunkRef, buf []byte) ([]byte, error)

	// ReadAt reads from an absolute file position
	ReadAt(p []byte, off int64) (int, error)

	// Close closes the reader
	Close() error
}

// Muxer interface for writing AVI files
type Muxer interface {
	// Create creates a new AVI writer
	Create(w io.WriteSeeker) error

	// CreateFile creates a new AVI file for writing (convenience method)
	CreateFile(filename string) error

	// AddStream adds a new stream to the file
	AddStream(codec Codec) (int, error)

	// WritePacket queues a packet for the file
	WritePacket(packet *Packet) error

	// Finalize writes headers, chunks and the index
	Finalize() error

	// Close closes the writer
	Close() error
}

// Reader wraps an io.ReadSeeker for AVI reading
type Reader struct {
	r        io.ReadSeeker
	filename string
	fileSize int64
	opts     Options
	streams  []Stream
	fileInfo *FileInfo
	desc     StreamDescriptor
	index    Index

	mainHeader  AVIMainHeader
	videoStream int
	audioStream int
	moviStart   int64 // first byte after the movi fourcc
	moviEnd     int64
	idx1Pos     int64
	idx1Size    uint32
	hasIdx1     bool
}

// Writer wraps an io.WriteSeeker for AVI writing
type Writer struct {
	w        io.WriteSeeker
	filename string
	opts     MuxOptions
	streams  []Stream
	packets  []Packet
}
