package avi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunk frames payload under id and pads it to an even length.
func chunk(id string, payload []byte) []byte {
	b := make([]byte, 8, 9+len(payload))
	copy(b, id)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(payload)))
	b = append(b, payload...)
	if len(payload)%2 == 1 {
		b = append(b, 0)
	}
	return b
}

func list(kind string, items ...[]byte) []byte {
	return chunk(LISTSignature, bytes.Join(append([][]byte{[]byte(kind)}, items...), nil))
}

func riffAVI(items ...[]byte) []byte {
	return chunk(RIFFSignature, bytes.Join(append([][]byte{[]byte(AVISignature)}, items...), nil))
}

func le(v any) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func hdrl(usPerFrame uint32, strls ...[]byte) []byte {
	avih := AVIMainHeader{MicroSecPerFrame: usPerFrame, Width: 64, Height: 48}
	return list(HDRLList, append([][]byte{chunk(AVIHChunk, le(&avih))}, strls...)...)
}

func videoStrl(handler, compression string, extra []byte) []byte {
	strh := AVIStreamHeader{
		Type:    StringToChunkID(STREAMTypeVideo),
		Handler: StringToChunkID(handler),
		Scale:   1,
		Rate:    25,
	}
	bih := BitmapInfoHeader{
		Size:        bitmapInfoSize + uint32(len(extra)),
		Width:       64,
		Height:      -48,
		Planes:      1,
		BitCount:    24,
		Compression: StringToChunkID(compression),
	}
	return list(STRLList, chunk(STRHChunk, le(&strh)), chunk(STRFChunk, append(le(&bih), extra...)))
}

func audioStrl(wfx WaveFormatEx, ext []byte) []byte {
	strh := AVIStreamHeader{
		Type:  StringToChunkID(STREAMTypeAudio),
		Scale: 1,
		Rate:  wfx.SamplesPerSec,
	}
	return list(STRLList, chunk(STRHChunk, le(&strh)), chunk(STRFChunk, append(le(&wfx), ext...)))
}

func idx1(entries ...IndexEntry) []byte {
	var body []byte
	for _, e := range entries {
		body = append(body, le(&e)...)
	}
	return chunk(IDX1Chunk, body)
}

var pcmMono = WaveFormatEx{
	FormatTag:      WaveFormatPCM,
	Channels:       1,
	SamplesPerSec:  22050,
	AvgBytesPerSec: 44100,
	BlockAlign:     2,
	BitsPerSample:  16,
}

// jpegish returns an n-byte payload that opens with a JPEG SOI marker.
func jpegish(n int, fill byte) []byte {
	b := bytes.Repeat([]byte{fill}, n)
	b[0], b[1] = 0xFF, 0xD8
	return b
}

func openBytes(t *testing.T, data []byte, opts Options) *Reader {
	t.Helper()
	r := NewReader(opts)
	require.NoError(t, r.Open(NewSeekableBufferFrom(data), int64(len(data))))
	t.Cleanup(func() { r.Close() })
	return r
}

func assertPayloads(t *testing.T, r *Reader, refs []ChunkRef, want [][]byte) {
	t.Helper()
	require.Len(t, refs, len(want))
	for i, ref := range refs {
		got, err := r.ReadPayload(ref, nil)
		require.NoError(t, err)
		assert.Equal(t, want[i], got, "chunk %d", i)
	}
}

// muxVideo writes frames as a single MJPG stream at 25 fps.
func muxVideo(t *testing.T, opts MuxOptions, frames [][]byte) []byte {
	t.Helper()
	buf := NewSeekableBuffer()
	m := NewMuxerWithOptions(opts)
	require.NoError(t, m.Create(buf))
	vs, err := m.AddStream(Codec{Type: StreamTypeVideo, FourCC: StringToChunkID("MJPG"), Width: 64, Height: 48, FPS: 25})
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, m.WritePacket(&Packet{StreamIndex: vs, Data: f, Keyframe: true}))
	}
	require.NoError(t, m.Finalize())
	return buf.Bytes()
}

// distinctFrames gives frame 0 a size no other frame shares so an idx1
// record can only validate against its own chunk header.
func distinctFrames(n int) [][]byte {
	frames := [][]byte{jpegish(34, 0x11)}
	for i := 1; i < n; i++ {
		frames = append(frames, jpegish(30, byte(i)))
	}
	return frames
}
