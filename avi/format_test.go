package avi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChunkTag(t *testing.T) {
	tests := []struct {
		id     string
		stream int
		kind   ChunkKind
		ok     bool
	}{
		{"00dc", 0, ChunkVideo, true},
		{"00db", 0, ChunkVideo, true},
		{"00DC", 0, ChunkVideo, true},
		{"01wb", 1, ChunkAudio, true},
		{"12WB", 12, ChunkAudio, true},
		{"00pc", 0, ChunkOther, false},
		{"ix00", 0, ChunkOther, false},
		{"a0dc", 0, ChunkOther, false},
		{"LIST", 0, ChunkOther, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			stream, kind, ok := ParseChunkTag(StringToChunkID(tt.id))
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.stream, stream)
			}
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestMakeChunkID(t *testing.T) {
	assert.Equal(t, "00dc", ChunkIDToString(MakeChunkID(0, "dc")))
	assert.Equal(t, "13wb", ChunkIDToString(MakeChunkID(13, "wb")))
}

func TestCleanFourCC(t *testing.T) {
	assert.Equal(t, "DIVX", CleanFourCC([4]byte{'d', 'i', 'v', 'x'}))
	assert.Equal(t, "MJP", CleanFourCC([4]byte{'m', 'j', 'p', ' '}))
	assert.Equal(t, "", CleanFourCC([4]byte{}))
	assert.Equal(t, "XVI", CleanFourCC([4]byte{'X', 0x01, 'V', 'I'}))
}

func TestClassifyVideoFourCC(t *testing.T) {
	motion := []string{"XVID", "xvid", "DIVX", "DX50", "FMP4", "MP4V"}
	for _, code := range motion {
		assert.Equal(t, VideoFamilyMotion, ClassifyVideoFourCC(code), code)
	}
	intra := []string{"MJPG", "jpeg", "ZZZZ", ""}
	for _, code := range intra {
		assert.Equal(t, VideoFamilyIntra, ClassifyVideoFourCC(code), code)
	}

	assert.True(t, IsIntraFourCC("mjpg"))
	assert.True(t, IsIntraFourCC("AVRN"))
	assert.False(t, IsIntraFourCC("ZZZZ"))
	assert.False(t, IsIntraFourCC("XVID"))
}

func TestIsKeyframe(t *testing.T) {
	tests := []struct {
		name    string
		family  VideoFamily
		payload []byte
		want    bool
	}{
		{"intra always", VideoFamilyIntra, nil, true},
		{"i-vop", VideoFamilyMotion, []byte{0, 0, 1, 0xB6, 0x00}, true},
		{"p-vop", VideoFamilyMotion, []byte{0, 0, 1, 0xB6, 0x40}, false},
		{"b-vop", VideoFamilyMotion, []byte{0, 0, 1, 0xB6, 0x80}, false},
		{"vol then i-vop", VideoFamilyMotion, []byte{0, 0, 1, 0x20, 0x08, 0xC8, 0, 0, 1, 0xB6, 0x10}, true},
		{"no start code", VideoFamilyMotion, []byte{1, 2, 3, 4, 5, 6}, false},
		{"cut after start code", VideoFamilyMotion, []byte{0, 0, 1, 0xB6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsKeyframe(tt.family, tt.payload))
		})
	}
}

func TestFrameRateFromMicros(t *testing.T) {
	tests := []struct {
		us   uint32
		want int
	}{
		{0, 30},
		{40000, 25},
		{33366, 29},
		{66666, 15},
		{1000000, 1},
		{2000000, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FrameRateFromMicros(tt.us), "us=%d", tt.us)
	}
}

func TestRepeatCount(t *testing.T) {
	tests := []struct {
		fps  int
		want int
	}{
		{60, 1}, {30, 1}, {25, 1}, {24, 2}, {15, 2}, {12, 2}, {11, 3}, {1, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RepeatCount(tt.fps), "fps=%d", tt.fps)
	}
}

func TestAlignSize(t *testing.T) {
	assert.Equal(t, uint32(0), AlignSize(0))
	assert.Equal(t, uint32(2), AlignSize(1))
	assert.Equal(t, uint32(2), AlignSize(2))
	assert.Equal(t, uint32(8), AlignSize(7))
}

func TestAVIError(t *testing.T) {
	err := error(&AVIError{Op: "validate riff", Err: ErrNotAVI})
	assert.Equal(t, "avi: validate riff: not a RIFF AVI file", err.Error())
	assert.True(t, errors.Is(err, ErrNotAVI))

	var aviErr *AVIError
	assert.True(t, errors.As(err, &aviErr))
	assert.Equal(t, "validate riff", aviErr.Op)
}
