package avi

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxerRoundTrip(t *testing.T) {
	vol := []byte{0, 0, 1, 0xB0, 0x01, 0, 0, 1, 0x20, 0x08, 0xC8, 0x0D}
	buf := NewSeekableBuffer()
	m := NewMuxer()
	require.NoError(t, m.Create(buf))

	vs, err := m.AddStream(Codec{
		Type:      StreamTypeVideo,
		FourCC:    StringToChunkID("XVID"),
		Width:     176,
		Height:    144,
		FPS:       15,
		ExtraData: vol,
	})
	require.NoError(t, err)
	as, err := m.AddStream(Codec{
		Type:            StreamTypeAudio,
		FormatTag:       WaveFormatMSADPCM,
		Channels:        1,
		SampleRate:      22050,
		BitDepth:        4,
		BlockAlign:      256,
		SamplesPerBlock: 500,
	})
	require.NoError(t, err)

	iVOP := []byte{0, 0, 1, 0xB6, 0x10, 0x20, 0x30}
	pVOP := []byte{0, 0, 1, 0xB6, 0x50, 0x60}
	block := make([]byte, 256)
	require.NoError(t, m.WritePacket(&Packet{StreamIndex: vs, Data: iVOP, Keyframe: true}))
	require.NoError(t, m.WritePacket(&Packet{StreamIndex: as, Data: block}))
	require.NoError(t, m.WritePacket(&Packet{StreamIndex: vs, Data: pVOP}))
	require.NoError(t, m.Finalize())

	data := buf.Bytes()
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(len(data)-8), binary.LittleEndian.Uint32(data[4:8]))

	r := openBytes(t, data, DefaultOptions())
	d := r.Descriptor()
	assert.Equal(t, "XVID", d.VideoFourCC)
	assert.Equal(t, VideoFamilyMotion, d.VideoFamily)
	assert.Equal(t, 15, d.FrameRate)
	assert.Equal(t, 176, d.Width)
	assert.Equal(t, 144, d.Height)
	assert.Equal(t, vol, d.ExtraData)

	assert.True(t, d.HasAudio)
	assert.Equal(t, AudioMSADPCM, d.AudioFormat)
	assert.Equal(t, 256, d.BlockAlign)
	assert.Equal(t, 500, d.SamplesPerBlock)
	assert.Equal(t, 22050, d.SampleRate)

	idx := r.Index()
	assert.Equal(t, IndexFromIdx1, idx.Source)
	assertPayloads(t, r, idx.Frames, [][]byte{iVOP, pVOP})
	assertPayloads(t, r, idx.Audio, [][]byte{block})

	require.Equal(t, uint32(3*indexEntrySize), r.idx1Size)
	var flags []uint32
	for i := 0; i < 3; i++ {
		off := r.idx1Pos + int64(i*indexEntrySize)
		flags = append(flags, decodeIndexEntry(data[off:]).Flags)
	}
	assert.Equal(t, []uint32{indexFlagKeyframe, 0, 0}, flags)

	packets, err := r.ReadAllPackets()
	require.NoError(t, err)
	require.Len(t, packets, 3)
	assert.False(t, packets[0].Keyframe, "motion keyframes are decided from payloads")
	assert.True(t, IsKeyframe(d.VideoFamily, iVOP))
	assert.False(t, IsKeyframe(d.VideoFamily, pVOP))
}

func TestMuxerOddPayloadPadding(t *testing.T) {
	frames := [][]byte{jpegish(5, 1), jpegish(3, 2), jpegish(6, 3)}
	data := muxVideo(t, MuxOptions{}, frames)

	r := openBytes(t, data, DefaultOptions())
	refs := r.Index().Frames
	require.Len(t, refs, 3)
	assert.Equal(t, refs[0].Offset+6+8, refs[1].Offset)
	assert.Equal(t, refs[1].Offset+4+8, refs[2].Offset)
	assertPayloads(t, r, refs, frames)
}

func TestMuxerErrors(t *testing.T) {
	m := NewMuxer()
	_, err := m.AddStream(Codec{Type: StreamTypeVideo})
	assert.True(t, errors.Is(err, ErrNoWriter))
	assert.True(t, errors.Is(m.WritePacket(&Packet{}), ErrNoWriter))
	assert.True(t, errors.Is(m.Finalize(), ErrNoWriter))
	assert.NoError(t, m.Close())

	require.NoError(t, m.Create(NewSeekableBuffer()))
	_, err = m.AddStream(Codec{Type: StreamType("subtitle")})
	assert.Error(t, err)
	assert.Error(t, m.WritePacket(&Packet{StreamIndex: 0}))

	err = m.(*Writer).CreateFile(filepath.Join(t.TempDir(), "missing", "out.avi"))
	assert.Error(t, err)
}

func TestMuxerCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.avi")

	m := NewMuxerWithOptions(MuxOptions{IndexBase: IndexBaseAbsolute})
	require.NoError(t, m.(*Writer).CreateFile(path))
	vs, err := m.AddStream(Codec{Type: StreamTypeVideo, FourCC: StringToChunkID("MJPG"), Width: 32, Height: 32, FPS: 30})
	require.NoError(t, err)
	frames := distinctFrames(3)
	for _, f := range frames {
		require.NoError(t, m.WritePacket(&Packet{StreamIndex: vs, Data: f}))
	}
	require.NoError(t, m.Finalize())
	require.NoError(t, m.Close())

	r := NewReader(DefaultOptions())
	require.NoError(t, r.OpenFile(path))
	defer r.Close()
	assert.Equal(t, int64(0), r.Index().Base)
	assert.Equal(t, 30, r.Descriptor().FrameRate)
	assertPayloads(t, r, r.Index().Frames, frames)
}
