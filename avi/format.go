package avi

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// AVI Format Constants
const (
	// RIFF chunk identifiers
	RIFFSignature = "RIFF"
	AVISignature  = "AVI "
	LISTSignature = "LIST"
	JUNKChunk     = "JUNK"

	// AVI List types
	HDRLList = "hdrl"
	STRLList = "strl"
	MOVIList = "movi"
	RECList  = "rec "

	// Chunk types
	AVIHChunk = "avih"
	STRHChunk = "strh"
	STRFChunk = "strf"
	IDX1Chunk = "idx1"

	// Stream types
	STREAMTypeVideo = "vids"
	STREAMTypeAudio = "auds"
)

// WAVEFORMATEX format tags understood by the player.
const (
	WaveFormatPCM     uint16 = 0x0001
	WaveFormatMSADPCM uint16 = 0x0002
	WaveFormatMP3     uint16 = 0x0055
)

// On-disk structure sizes.
const (
	mainHeaderSize   = 56
	streamHeaderSize = 56
	bitmapInfoSize   = 40
	waveFormatSize   = 18
	indexEntrySize   = 16

	// msadpcmExtraSize is the cbSize of an MS-ADPCM WAVEFORMATEX:
	// samples per block, coefficient count and seven coefficient pairs.
	msadpcmExtraSize = 32

	// AVIIF_KEYFRAME
	indexFlagKeyframe = 0x10
)

// Fourcc families. Comparison is done on the upper-cased code.
var (
	intraFourCCs  = []string{"MJPG", "JPEG", "AVRN", "DMB1", "MJLS"}
	motionFourCCs = []string{"XVID", "DIVX", "DX50", "FMP4", "MP4V", "MP4S", "M4S2", "3IV2", "BLZ0"}
)

// RIFFHeader represents the main RIFF header
type RIFFHeader struct {
	Signature [4]byte // "RIFF"
	FileSize  uint32  // File size minus 8 bytes
	Type      [4]byte // "AVI "
}

// ChunkHeader represents a generic chunk header
type ChunkHeader struct {
	ID   [4]byte // Chunk identifier
	Size uint32  // Chunk data size
}

// LISTHeader represents a LIST chunk header
type LISTHeader struct {
	ChunkHeader
	Type [4]byte // List type
}

// AVIMainHeader represents the main AVI header (avih chunk)
type AVIMainHeader struct {
	MicroSecPerFrame    uint32 // Frame display rate
	MaxBytesPerSec      uint32 // Maximum data rate
	PaddingGranularity  uint32 // Data alignment
	Flags               uint32 // File flags
	TotalFrames         uint32 // Total number of frames
	InitialFrames       uint32 // Initial frames for interleaved files
	Streams             uint32 // Number of streams
	SuggestedBufferSize uint32 // Suggested buffer size
	Width               uint32 // Video width
	Height              uint32 // Video height
	Reserved            [4]uint32
}

// AVIStreamHeader represents a stream header (strh chunk)
type AVIStreamHeader struct {
	Type                [4]byte // Stream type (vids, auds, etc.)
	Handler             [4]byte // Codec handler
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32 // Time scale
	Rate                uint32 // Rate in Scale units per second
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             uint32
	SampleSize          uint32
	Frame               struct {
		Left   uint16
		Top    uint16
		Right  uint16
		Bottom uint16
	}
}

// BitmapInfoHeader represents video format info
type BitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   [4]byte
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// WaveFormatEx represents audio format info
type WaveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Size           uint16 // Extra format bytes
}

// IndexEntry represents an index entry (idx1)
type IndexEntry struct {
	ChunkID [4]byte
	Flags   uint32
	Offset  uint32
	Size    uint32
}

// ChunkKind classifies a movi sub-chunk by its two-character type code.
type ChunkKind int

const (
	ChunkOther ChunkKind = iota
	ChunkVideo
	ChunkAudio
)

// MakeChunkID builds a stream chunk tag such as "00dc" or "01wb".
func MakeChunkID(streamIndex int, twoCC string) [4]byte {
	var id [4]byte
	id[0] = byte('0' + (streamIndex / 10))
	id[1] = byte('0' + (streamIndex % 10))
	id[2] = twoCC[0]
	id[3] = twoCC[1]
	return id
}

// ParseChunkTag splits a stream chunk tag into its stream number and kind.
// Type codes are matched case-insensitively; ok is false for anything that
// is not two decimal digits followed by dc, db or wb.
func ParseChunkTag(id [4]byte) (stream int, kind ChunkKind, ok bool) {
	if id[0] < '0' || id[0] > '9' || id[1] < '0' || id[1] > '9' {
		return 0, ChunkOther, false
	}
	stream = int(id[0]-'0')*10 + int(id[1]-'0')
	switch strings.ToLower(string(id[2:4])) {
	case "dc", "db":
		return stream, ChunkVideo, true
	case "wb":
		return stream, ChunkAudio, true
	}
	return stream, ChunkOther, false
}

func ChunkIDToString(id [4]byte) string {
	return string(id[:])
}

func StringToChunkID(s string) [4]byte {
	var id [4]byte
	copy(id[:], s)
	return id
}

// ReadChunkHeader decodes an 8-byte chunk header.
func ReadChunkHeader(data []byte) ChunkHeader {
	var header ChunkHeader
	copy(header.ID[:], data[0:4])
	header.Size = binary.LittleEndian.Uint32(data[4:8])
	return header
}

func AlignSize(size uint32) uint32 {
	return (size + 1) &^ 1
}

// CleanFourCC strips NULs, spaces and unprintable bytes and upper-cases the rest.
func CleanFourCC(code [4]byte) string {
	var sb strings.Builder
	for _, b := range code {
		if b > ' ' && b <= '~' {
			sb.WriteByte(b)
		}
	}
	return strings.ToUpper(sb.String())
}

// ClassifyVideoFourCC maps a codec fourcc to its decoder family.
// Unknown and empty codes fall back to the intra family.
func ClassifyVideoFourCC(fourcc string) VideoFamily {
	code := strings.ToUpper(strings.TrimSpace(fourcc))
	for _, c := range motionFourCCs {
		if code == c {
			return VideoFamilyMotion
		}
	}
	return VideoFamilyIntra
}

// IsIntraFourCC reports whether fourcc is one of the known intra-only codes.
func IsIntraFourCC(fourcc string) bool {
	code := strings.ToUpper(strings.TrimSpace(fourcc))
	for _, c := range intraFourCCs {
		if code == c {
			return true
		}
	}
	return false
}

// IsKeyframe reports whether a video payload can be decoded without earlier
// frames. Intra codecs always can; motion payloads need an I-VOP.
func IsKeyframe(family VideoFamily, payload []byte) bool {
	if family == VideoFamilyIntra {
		return true
	}
	for i := 0; i+4 < len(payload); i++ {
		if payload[i] != 0 || payload[i+1] != 0 || payload[i+2] != 1 {
			continue
		}
		if payload[i+3] == 0xB6 {
			return payload[i+4]>>6 == 0
		}
	}
	return false
}

// FrameRateFromMicros converts avih microseconds-per-frame to a whole
// frame rate. Zero means the header did not say and yields 30.
func FrameRateFromMicros(us uint32) int {
	if us == 0 {
		return 30
	}
	fps := int(1000000 / us)
	if fps < 1 {
		fps = 1
	}
	return fps
}

// RepeatCount is the number of display ticks each source frame is held for.
func RepeatCount(fps int) int {
	switch {
	case fps >= 25:
		return 1
	case fps >= 12:
		return 2
	default:
		return 3
	}
}

// Validation functions
func IsValidRIFFSignature(sig [4]byte) bool {
	return string(sig[:]) == RIFFSignature
}

func IsValidAVISignature(sig [4]byte) bool {
	return string(sig[:]) == AVISignature
}

func IsVideoStream(streamType [4]byte) bool {
	return string(streamType[:]) == STREAMTypeVideo
}

func IsAudioStream(streamType [4]byte) bool {
	return string(streamType[:]) == STREAMTypeAudio
}

// AVIError records the container operation that failed.
type AVIError struct {
	Op  string
	Err error
}

func (e *AVIError) Error() string {
	return fmt.Sprintf("avi: %s: %v", e.Op, e.Err)
}

func (e *AVIError) Unwrap() error {
	return e.Err
}
