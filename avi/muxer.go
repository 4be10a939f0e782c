package avi

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// IndexBase selects what the idx1 offsets written by the muxer are relative to.
type IndexBase int

const (
	// IndexBaseMoviFourCC is the standard layout: offsets count from the
	// movi fourcc, so the first chunk sits at 4.
	IndexBaseMoviFourCC IndexBase = iota
	// IndexBaseMoviData counts from the first byte after the movi fourcc.
	IndexBaseMoviData
	// IndexBaseAbsolute writes absolute file positions.
	IndexBaseAbsolute
	// IndexOmit writes no idx1 chunk at all.
	IndexOmit
)

// MuxOptions controls the layout produced by Finalize.
type MuxOptions struct {
	IndexBase IndexBase
	// PayloadOffsets makes idx1 offsets point past the 8-byte chunk header.
	PayloadOffsets bool
	// LeadingJunk inserts a JUNK chunk of this many bytes at the start of movi.
	LeadingJunk int
}

// standard MS-ADPCM coefficient pairs written into the format extension
var msadpcmCoefficients = [7][2]int16{
	{256, 0}, {512, -256}, {0, 0}, {192, 64}, {240, 0}, {460, -208}, {392, -232},
}

var _ Muxer = (*Writer)(nil)

// NewMuxer creates a new AVI muxer writing a standard idx1
func NewMuxer() Muxer {
	return &Writer{}
}

// NewMuxerWithOptions creates a muxer with a specific layout.
func NewMuxerWithOptions(opts MuxOptions) Muxer {
	return &Writer{opts: opts}
}

// Create creates a new AVI writer
func (w *Writer) Create(writer io.WriteSeeker) error {
	w.w = writer
	w.filename = ""
	w.streams = nil
	w.packets = nil
	return nil
}

// CreateFile creates a new AVI file for writing (convenience method)
func (w *Writer) CreateFile(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return &AVIError{Op: "create", Err: err}
	}
	if err := w.Create(file); err != nil {
		return err
	}
	w.filename = filename
	return nil
}

// AddStream adds a new stream to the file
func (w *Writer) AddStream(codec Codec) (int, error) {
	if w.w == nil {
		return -1, &AVIError{Op: "add stream", Err: ErrNoWriter}
	}
	if codec.Type != StreamTypeVideo && codec.Type != StreamTypeAudio {
		return -1, &AVIError{Op: "add stream", Err: fmt.Errorf("unsupported stream type %q", codec.Type)}
	}

	stream := Stream{
		Index: len(w.streams),
		Type:  codec.Type,
		Codec: codec,
	}
	w.streams = append(w.streams, stream)
	return stream.Index, nil
}

// WritePacket queues a packet; chunks are laid out by Finalize.
func (w *Writer) WritePacket(packet *Packet) error {
	if w.w == nil {
		return &AVIError{Op: "write packet", Err: ErrNoWriter}
	}
	if packet.StreamIndex < 0 || packet.StreamIndex >= len(w.streams) {
		return &AVIError{Op: "write packet", Err: fmt.Errorf("invalid stream index %d", packet.StreamIndex)}
	}
	w.packets = append(w.packets, *packet)
	return nil
}

// Finalize writes the complete file structure
func (w *Writer) Finalize() error {
	if w.w == nil {
		return &AVIError{Op: "finalize", Err: ErrNoWriter}
	}

	hdrlSize := w.calculateHDRLSize()
	moviSize := w.calculateMOVISize()
	totalSize := 4 + 8 + hdrlSize + 8 + moviSize
	if w.opts.IndexBase != IndexOmit {
		totalSize += 8 + w.calculateIDX1Size()
	}

	riffHeader := RIFFHeader{
		Signature: StringToChunkID(RIFFSignature),
		FileSize:  totalSize,
		Type:      StringToChunkID(AVISignature),
	}
	if err := binary.Write(w.w, binary.LittleEndian, &riffHeader); err != nil {
		return &AVIError{Op: "write riff header", Err: err}
	}

	if err := w.writeHDRLList(hdrlSize); err != nil {
		return err
	}
	if err := w.writeMOVIList(moviSize); err != nil {
		return err
	}
	if w.opts.IndexBase != IndexOmit {
		if err := w.writeIDX1Chunk(12 + 8 + int64(hdrlSize) + 12); err != nil {
			return err
		}
	}
	return nil
}

// writeHDRLList writes the header list
func (w *Writer) writeHDRLList(hdrlSize uint32) error {
	listHeader := LISTHeader{
		ChunkHeader: ChunkHeader{ID: StringToChunkID(LISTSignature), Size: hdrlSize},
		Type:        StringToChunkID(HDRLList),
	}
	if err := binary.Write(w.w, binary.LittleEndian, &listHeader); err != nil {
		return &AVIError{Op: "write hdrl list", Err: err}
	}

	if err := w.writeAVIHChunk(); err != nil {
		return err
	}
	for i := range w.streams {
		if err := w.writeSTRLList(i); err != nil {
			return err
		}
	}
	return nil
}

// writeAVIHChunk writes the main AVI header
func (w *Writer) writeAVIHChunk() error {
	var totalFrames, microSecPerFrame, width, height uint32

	for _, stream := range w.streams {
		if stream.Type == StreamTypeVideo {
			width = uint32(stream.Codec.Width)
			height = uint32(stream.Codec.Height)
			if stream.Codec.FPS > 0 {
				microSecPerFrame = uint32(1000000.0 / stream.Codec.FPS)
			}
			break
		}
	}
	for _, packet := range w.packets {
		if w.streams[packet.StreamIndex].Type == StreamTypeVideo {
			totalFrames++
		}
	}

	var flags uint32 = 0x100 // AVIF_ISINTERLEAVED
	if w.opts.IndexBase != IndexOmit {
		flags |= 0x10 // AVIF_HASINDEX
	}

	header := AVIMainHeader{
		MicroSecPerFrame: microSecPerFrame,
		Flags:            flags,
		TotalFrames:      totalFrames,
		Streams:          uint32(len(w.streams)),
		Width:            width,
		Height:           height,
	}

	if err := w.writeChunkHeader(AVIHChunk, mainHeaderSize); err != nil {
		return err
	}
	if err := binary.Write(w.w, binary.LittleEndian, &header); err != nil {
		return &AVIError{Op: "write avih", Err: err}
	}
	return nil
}

// writeSTRLList writes a stream list
func (w *Writer) writeSTRLList(streamIndex int) error {
	listHeader := LISTHeader{
		ChunkHeader: ChunkHeader{ID: StringToChunkID(LISTSignature), Size: w.calculateSTRLSize(streamIndex)},
		Type:        StringToChunkID(STRLList),
	}
	if err := binary.Write(w.w, binary.LittleEndian, &listHeader); err != nil {
		return &AVIError{Op: "write strl list", Err: err}
	}

	if err := w.writeSTRHChunk(streamIndex); err != nil {
		return err
	}
	return w.writeSTRFChunk(streamIndex)
}

// writeSTRHChunk writes a stream header
func (w *Writer) writeSTRHChunk(streamIndex int) error {
	stream := w.streams[streamIndex]

	var length uint32
	for _, packet := range w.packets {
		if packet.StreamIndex == streamIndex {
			length++
		}
	}

	header := AVIStreamHeader{
		Scale:   1,
		Rate:    1,
		Length:  length,
		Quality: 0xFFFFFFFF,
	}

	switch stream.Type {
	case StreamTypeVideo:
		header.Type = StringToChunkID(STREAMTypeVideo)
		header.Handler = stream.Codec.FourCC
		if stream.Codec.FPS > 0 {
			header.Scale = 1000
			header.Rate = uint32(stream.Codec.FPS * 1000)
		}
		header.Frame.Right = uint16(stream.Codec.Width)
		header.Frame.Bottom = uint16(stream.Codec.Height)
	case StreamTypeAudio:
		header.Type = StringToChunkID(STREAMTypeAudio)
		if stream.Codec.SampleRate > 0 {
			header.Rate = uint32(stream.Codec.SampleRate)
		}
		header.SampleSize = uint32(audioBlockAlign(stream.Codec))
	}

	if err := w.writeChunkHeader(STRHChunk, streamHeaderSize); err != nil {
		return err
	}
	if err := binary.Write(w.w, binary.LittleEndian, &header); err != nil {
		return &AVIError{Op: "write strh", Err: err}
	}
	return nil
}

// writeSTRFChunk writes stream format chunk
func (w *Writer) writeSTRFChunk(streamIndex int) error {
	switch w.streams[streamIndex].Type {
	case StreamTypeVideo:
		return w.writeVideoFormat(streamIndex)
	case StreamTypeAudio:
		return w.writeAudioFormat(streamIndex)
	}
	return nil
}

// writeVideoFormat writes BITMAPINFOHEADER followed by extradata
func (w *Writer) writeVideoFormat(streamIndex int) error {
	codec := w.streams[streamIndex].Codec

	bih := BitmapInfoHeader{
		Size:        bitmapInfoSize + uint32(len(codec.ExtraData)),
		Width:       int32(codec.Width),
		Height:      int32(codec.Height),
		Planes:      1,
		BitCount:    24,
		Compression: codec.FourCC,
	}

	size := videoFormatSize(codec)
	if err := w.writeChunkHeader(STRFChunk, size); err != nil {
		return err
	}
	if err := binary.Write(w.w, binary.LittleEndian, &bih); err != nil {
		return &AVIError{Op: "write bitmap info", Err: err}
	}
	if _, err := w.w.Write(codec.ExtraData); err != nil {
		return &AVIError{Op: "write extradata", Err: err}
	}
	return w.writePad(size)
}

// writeAudioFormat writes WAVEFORMATEX, with the coefficient extension for MS-ADPCM
func (w *Writer) writeAudioFormat(streamIndex int) error {
	codec := w.streams[streamIndex].Codec
	tag := codec.FormatTag
	if tag == 0 {
		tag = WaveFormatPCM
	}
	blockAlign := audioBlockAlign(codec)

	avg := uint32(codec.SampleRate * codec.Channels * codec.BitDepth / 8)
	if tag == WaveFormatMSADPCM && codec.SamplesPerBlock > 0 {
		avg = uint32(codec.SampleRate * blockAlign / codec.SamplesPerBlock)
	}

	wfx := WaveFormatEx{
		FormatTag:      tag,
		Channels:       uint16(codec.Channels),
		SamplesPerSec:  uint32(codec.SampleRate),
		AvgBytesPerSec: avg,
		BlockAlign:     uint16(blockAlign),
		BitsPerSample:  uint16(codec.BitDepth),
	}
	if tag == WaveFormatMSADPCM {
		wfx.Size = msadpcmExtraSize
	}

	size := audioFormatSize(codec)
	if err := w.writeChunkHeader(STRFChunk, size); err != nil {
		return err
	}
	if err := binary.Write(w.w, binary.LittleEndian, &wfx); err != nil {
		return &AVIError{Op: "write wave format", Err: err}
	}
	if tag == WaveFormatMSADPCM {
		ext := struct {
			SamplesPerBlock uint16
			NumCoef         uint16
			Coef            [7][2]int16
		}{uint16(codec.SamplesPerBlock), 7, msadpcmCoefficients}
		if err := binary.Write(w.w, binary.LittleEndian, &ext); err != nil {
			return &AVIError{Op: "write adpcm extension", Err: err}
		}
	}
	return nil
}

// writeMOVIList writes the movie data list
func (w *Writer) writeMOVIList(moviSize uint32) error {
	listHeader := LISTHeader{
		ChunkHeader: ChunkHeader{ID: StringToChunkID(LISTSignature), Size: moviSize},
		Type:        StringToChunkID(MOVIList),
	}
	if err := binary.Write(w.w, binary.LittleEndian, &listHeader); err != nil {
		return &AVIError{Op: "write movi list", Err: err}
	}

	if w.opts.LeadingJunk > 0 {
		if err := w.writeChunkHeader(JUNKChunk, uint32(w.opts.LeadingJunk)); err != nil {
			return err
		}
		if _, err := w.w.Write(make([]byte, AlignSize(uint32(w.opts.LeadingJunk)))); err != nil {
			return &AVIError{Op: "write junk", Err: err}
		}
	}

	for _, packet := range w.packets {
		if err := w.writePacketData(packet); err != nil {
			return err
		}
	}
	return nil
}

// writePacketData writes a single packet as a dc or wb chunk
func (w *Writer) writePacketData(packet Packet) error {
	chunkHeader := ChunkHeader{
		ID:   w.chunkID(packet),
		Size: uint32(len(packet.Data)),
	}
	if err := binary.Write(w.w, binary.LittleEndian, &chunkHeader); err != nil {
		return &AVIError{Op: "write packet header", Err: err}
	}
	if _, err := w.w.Write(packet.Data); err != nil {
		return &AVIError{Op: "write packet data", Err: err}
	}
	return w.writePad(uint32(len(packet.Data)))
}

// writeIDX1Chunk writes the index chunk; moviData is the absolute position
// of the first byte after the movi fourcc.
func (w *Writer) writeIDX1Chunk(moviData int64) error {
	if err := w.writeChunkHeader(IDX1Chunk, w.calculateIDX1Size()); err != nil {
		return err
	}

	rel := int64(0)
	if w.opts.LeadingJunk > 0 {
		rel = 8 + int64(AlignSize(uint32(w.opts.LeadingJunk)))
	}

	for _, packet := range w.packets {
		offset := rel
		switch w.opts.IndexBase {
		case IndexBaseMoviFourCC:
			offset += 4
		case IndexBaseAbsolute:
			offset += moviData
		}
		if w.opts.PayloadOffsets {
			offset += 8
		}

		var flags uint32
		if packet.Keyframe {
			flags = indexFlagKeyframe
		}
		entry := IndexEntry{
			ChunkID: w.chunkID(packet),
			Flags:   flags,
			Offset:  uint32(offset),
			Size:    uint32(len(packet.Data)),
		}
		if err := binary.Write(w.w, binary.LittleEndian, &entry); err != nil {
			return &AVIError{Op: "write index entry", Err: err}
		}

		rel += 8 + int64(AlignSize(uint32(len(packet.Data))))
	}
	return nil
}

func (w *Writer) chunkID(packet Packet) [4]byte {
	if w.streams[packet.StreamIndex].Type == StreamTypeVideo {
		return MakeChunkID(packet.StreamIndex, "dc")
	}
	return MakeChunkID(packet.StreamIndex, "wb")
}

func (w *Writer) writeChunkHeader(id string, size uint32) error {
	header := ChunkHeader{ID: StringToChunkID(id), Size: size}
	if err := binary.Write(w.w, binary.LittleEndian, &header); err != nil {
		return &AVIError{Op: "write " + id + " header", Err: err}
	}
	return nil
}

func (w *Writer) writePad(size uint32) error {
	if size%2 == 1 {
		if _, err := w.w.Write([]byte{0}); err != nil {
			return &AVIError{Op: "write padding", Err: err}
		}
	}
	return nil
}

// Helper functions to calculate sizes
func (w *Writer) calculateHDRLSize() uint32 {
	size := uint32(4)          // hdrl signature
	size += 8 + mainHeaderSize // avih

	for i := range w.streams {
		size += 8 + w.calculateSTRLSize(i)
	}
	return size
}

func (w *Writer) calculateSTRLSize(streamIndex int) uint32 {
	size := uint32(4)            // strl signature
	size += 8 + streamHeaderSize // strh

	codec := w.streams[streamIndex].Codec
	switch w.streams[streamIndex].Type {
	case StreamTypeVideo:
		size += 8 + AlignSize(videoFormatSize(codec))
	case StreamTypeAudio:
		size += 8 + AlignSize(audioFormatSize(codec))
	}
	return size
}

func (w *Writer) calculateMOVISize() uint32 {
	size := uint32(4) // movi signature
	if w.opts.LeadingJunk > 0 {
		size += 8 + AlignSize(uint32(w.opts.LeadingJunk))
	}
	for _, packet := range w.packets {
		size += 8 + AlignSize(uint32(len(packet.Data)))
	}
	return size
}

func (w *Writer) calculateIDX1Size() uint32 {
	return uint32(len(w.packets) * indexEntrySize)
}

func videoFormatSize(codec Codec) uint32 {
	return bitmapInfoSize + uint32(len(codec.ExtraData))
}

func audioFormatSize(codec Codec) uint32 {
	if codec.FormatTag == WaveFormatMSADPCM {
		return waveFormatSize + msadpcmExtraSize
	}
	return waveFormatSize
}

func audioBlockAlign(codec Codec) int {
	if codec.BlockAlign > 0 {
		return codec.BlockAlign
	}
	if align := codec.Channels * codec.BitDepth / 8; align > 0 {
		return align
	}
	return 1
}

// Close closes the file
func (w *Writer) Close() error {
	if w.w != nil {
		if closer, ok := w.w.(io.Closer); ok {
			return closer.Close()
		}
	}
	return nil
}
