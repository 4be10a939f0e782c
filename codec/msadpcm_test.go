package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMSADPCMDecoderRejects(t *testing.T) {
	tests := []struct {
		name       string
		channels   int
		blockAlign int
	}{
		{"no channels", 0, 256},
		{"three channels", 3, 256},
		{"mono block shorter than header", 1, 6},
		{"stereo block shorter than header", 2, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMSADPCMDecoder(tt.channels, tt.blockAlign, 500)
			assert.True(t, errors.Is(err, ErrUnsupported))
		})
	}
}

func TestMSADPCMMono(t *testing.T) {
	header := func(pred byte, delta, s1, s2 int16) []byte {
		return []byte{pred, byte(delta), byte(uint16(delta) >> 8), byte(s1), byte(uint16(s1) >> 8), byte(s2), byte(uint16(s2) >> 8)}
	}

	tests := []struct {
		name            string
		block           []byte
		samplesPerBlock int
		want            []int16
	}{
		{
			name:  "header samples come first, oldest first",
			block: header(0, 16, 100, 50),
			want:  []int16{50, 100},
		},
		{
			name:  "nibbles high then low",
			block: append(header(0, 16, 100, 50), 0x1F),
			want:  []int16{50, 100, 116, 100},
		},
		{
			name:  "linear predictor",
			block: append(header(1, 16, 100, 50), 0x00),
			want:  []int16{50, 100, 150, 200},
		},
		{
			name:  "out of range predictor index uses the first pair",
			block: append(header(9, 16, 100, 50), 0x10),
			want:  []int16{50, 100, 116, 116},
		},
		{
			name:  "clamped to int16",
			block: append(header(0, 16, 32760, 0), 0x70),
			want:  []int16{0, 32760, 32767, 32767},
		},
		{
			name:            "samples per block bounds the output",
			block:           append(header(0, 16, 100, 50), 0x1F, 0x00),
			samplesPerBlock: 3,
			want:            []int16{50, 100, 116},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewMSADPCMDecoder(1, 256, tt.samplesPerBlock)
			require.NoError(t, err)

			out := d.DecodeBlock(nil, tt.block)
			var want []int16
			for _, s := range tt.want {
				want = append(want, s, s)
			}
			assert.Equal(t, want, out, "mono is duplicated to both channels")
		})
	}
}

func TestMSADPCMStereo(t *testing.T) {
	d, err := NewMSADPCMDecoder(2, 512, 1012)
	require.NoError(t, err)
	assert.Equal(t, 14, d.HeaderSize())
	assert.Equal(t, 512, d.BlockAlign())
	assert.Equal(t, 1012, d.SamplesPerBlock())

	block := []byte{
		0, 0, // predictors
		16, 0, 16, 0, // deltas
		100, 0, 0x9C, 0xFF, // s1: 100, -100
		50, 0, 0xCE, 0xFF, // s2: 50, -50
		0x1F,
	}
	out := d.DecodeBlock([]int16{7, 7}, block)
	assert.Equal(t, []int16{7, 7, 50, -50, 100, -100, 116, -116}, out)
}

func TestMSADPCMShortBlock(t *testing.T) {
	d, err := NewMSADPCMDecoder(1, 256, 500)
	require.NoError(t, err)

	dst := []int16{1, 2}
	assert.Equal(t, dst, d.DecodeBlock(dst, []byte{0, 16, 0, 1, 0, 1}))
}

func TestMSADPCMFullBlockLength(t *testing.T) {
	d, err := NewMSADPCMDecoder(1, 256, 500)
	require.NoError(t, err)

	block := make([]byte, 256)
	block[1] = 16
	out := d.DecodeBlock(nil, block)
	assert.Len(t, out, 500*2)
}
