package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSolid(t *testing.T, c color.RGBA, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// stripSegments drops every header segment with the given marker, the
// way AVI1 MJPEG muxers leave out the Huffman tables.
func stripSegments(data []byte, marker byte) []byte {
	out := append([]byte(nil), data[:2]...)
	i := 2
	for i+4 <= len(data) && data[i+1] != markerSOS {
		end := i + 2 + int(binary.BigEndian.Uint16(data[i+2:]))
		if data[i+1] != marker {
			out = append(out, data[i:end]...)
		}
		i = end
	}
	return append(out, data[i:]...)
}

func assertRed(t *testing.T, img image.Image, w, h int) {
	t.Helper()
	require.NotNil(t, img)
	assert.Equal(t, image.Rect(0, 0, w, h), img.Bounds())
	r, g, b, _ := img.At(w/2, h/2).RGBA()
	assert.InDelta(t, 255, r>>8, 12)
	assert.InDelta(t, 0, g>>8, 12)
	assert.InDelta(t, 0, b>>8, 12)
}

func TestIntraDecode(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	full := encodeSolid(t, red, 32, 16)
	noDHT := stripSegments(full, markerDHT)
	require.Less(t, len(noDHT), len(full))
	require.False(t, hasSegmentBeforeScan(noDHT, markerDHT))
	require.True(t, hasSegmentBeforeScan(full, markerDHT))

	tests := []struct {
		name    string
		payload []byte
	}{
		{"complete", full},
		{"huffman tables omitted", noDHT},
		{"leading junk", append([]byte("AVI1junk"), full...)},
		{"trailing padding", append(append([]byte(nil), full...), 0, 0, 0, 0)},
		{"missing end marker", full[:len(full)-2]},
	}
	d := NewIntraDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := d.Decode(tt.payload)
			require.NoError(t, err)
			assertRed(t, img, 32, 16)
		})
	}
}

func TestIntraDecodeErrors(t *testing.T) {
	d := NewIntraDecoder()

	_, err := d.Decode(nil)
	assert.True(t, errors.Is(err, ErrNeedMoreData))

	_, err = d.Decode(append(make([]byte, 100), 0xFF, 0xD8))
	assert.True(t, errors.Is(err, ErrCorruptUnit), "start of image too far in")

	_, err = d.Decode([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	assert.True(t, errors.Is(err, ErrCorruptUnit))
}

func TestStandardHuffmanTables(t *testing.T) {
	dht := standardHuffmanTables()
	require.NotEmpty(t, dht)
	assert.Equal(t, []byte{0xFF, markerDHT}, dht[:2])
	assert.Equal(t, dht, standardHuffmanTables())
}
