package avi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// headerChunkLimit bounds how much of a strh/strf/avih chunk is read into memory.
const headerChunkLimit = 64 << 10

var _ Demuxer = (*Reader)(nil)

// NewDemuxer creates a new AVI demuxer with default options
func NewDemuxer() Demuxer {
	return NewReader(DefaultOptions())
}

// NewReader creates a reader with explicit limits.
func NewReader(opts Options) *Reader {
	return &Reader{opts: opts, videoStream: -1, audioStream: -1}
}

// Open parses the headers and builds the chunk index. On error the reader
// holds no partial state.
func (r *Reader) Open(reader io.ReadSeeker, size int64) error {
	filename := r.filename
	r.reset()
	r.r = reader
	r.fileSize = size
	r.filename = filename

	if err := r.parseFile(); err != nil {
		r.reset()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Open",
		"file":         r.filename,
		"fourcc":       r.desc.VideoFourCC,
		"family":       r.desc.VideoFamily.String(),
		"fps":          r.desc.FrameRate,
		"frames":       len(r.index.Frames),
		"audio_chunks": len(r.index.Audio),
		"audio":        r.desc.AudioFormat.String(),
		"index":        r.index.Source.String(),
	}).Info("AVI opened")

	return nil
}

// OpenFile opens an AVI file for reading (convenience method)
func (r *Reader) OpenFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return &AVIError{Op: "open", Err: err}
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return &AVIError{Op: "stat", Err: err}
	}

	r.filename = filename
	if err := r.Open(file, stat.Size()); err != nil {
		file.Close()
		return err
	}

	return nil
}

func (r *Reader) reset() {
	opts := r.opts
	*r = Reader{opts: opts.withDefaults(), videoStream: -1, audioStream: -1}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxEntries <= 0 {
		o.MaxEntries = def.MaxEntries
	}
	if o.MaxExtradata <= 0 {
		o.MaxExtradata = def.MaxExtradata
	}
	if o.IndexLookahead <= 0 {
		o.IndexLookahead = def.IndexLookahead
	}
	if o.MaxAudioSampleRate <= 0 {
		o.MaxAudioSampleRate = def.MaxAudioSampleRate
	}
	return o
}

// parseFile parses the AVI file structure
func (r *Reader) parseFile() error {
	if _, err := r.r.Seek(0, io.SeekStart); err != nil {
		return &AVIError{Op: "seek", Err: err}
	}

	var riffHeader RIFFHeader
	if err := binary.Read(r.r, binary.LittleEndian, &riffHeader); err != nil {
		return &AVIError{Op: "read riff header", Err: fmt.Errorf("%w: %v", ErrNotAVI, err)}
	}
	if !IsValidRIFFSignature(riffHeader.Signature) {
		return &AVIError{Op: "validate riff", Err: ErrNotAVI}
	}
	if !IsValidAVISignature(riffHeader.Type) {
		return &AVIError{Op: "validate avi", Err: ErrNotAVI}
	}

	if err := r.parseChunks(); err != nil {
		return err
	}
	if r.videoStream < 0 {
		return &AVIError{Op: "select video stream", Err: ErrNoVideo}
	}

	r.buildDescriptor()

	if err := r.buildIndex(); err != nil {
		return err
	}
	if len(r.index.Frames) == 0 {
		return &AVIError{Op: "build index", Err: ErrNoFrames}
	}

	r.buildFileInfo()
	return nil
}

// parseChunks walks the top-level chunks. movi is only located, never read;
// after it at most IndexLookahead chunks are inspected for idx1.
func (r *Reader) parseChunks() error {
	pos := int64(12)
	afterMovi := -1

	for pos+8 <= r.fileSize {
		if afterMovi >= 0 {
			if afterMovi >= r.opts.IndexLookahead {
				break
			}
			afterMovi++
		}

		header, err := r.readChunkHeaderAt(pos)
		if err != nil {
			// truncated tail
			break
		}
		dataStart := pos + 8
		dataEnd := dataStart + int64(header.Size)

		switch ChunkIDToString(header.ID) {
		case LISTSignature:
			if header.Size < 4 {
				break
			}
			var listType [4]byte
			if _, err := r.ReadAt(listType[:], dataStart); err != nil {
				return &AVIError{Op: "read list type", Err: err}
			}
			switch string(listType[:]) {
			case HDRLList:
				if err := r.parseHDRLList(dataStart+4, min(dataEnd, r.fileSize)); err != nil {
					return err
				}
			case MOVIList:
				if r.moviStart == 0 {
					r.moviStart = dataStart + 4
					r.moviEnd = min(dataEnd, r.fileSize)
					afterMovi = 0
				}
			}
		case IDX1Chunk:
			if !r.hasIdx1 {
				r.hasIdx1 = true
				r.idx1Pos = dataStart
				r.idx1Size = uint32(min(int64(header.Size), r.fileSize-dataStart))
			}
		}

		pos = dataStart + int64(AlignSize(header.Size))
	}

	return nil
}

// parseHDRLList parses the header list
func (r *Reader) parseHDRLList(start, end int64) error {
	pos := start
	for pos+8 <= end {
		header, err := r.readChunkHeaderAt(pos)
		if err != nil {
			return &AVIError{Op: "read hdrl chunk", Err: err}
		}
		dataStart := pos + 8
		dataEnd := min(dataStart+int64(header.Size), end)

		switch ChunkIDToString(header.ID) {
		case AVIHChunk:
			data, err := r.readBody(dataStart, header.Size, mainHeaderSize)
			if err != nil {
				return &AVIError{Op: "read avih", Err: err}
			}
			if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &r.mainHeader); err != nil {
				return &AVIError{Op: "decode avih", Err: err}
			}
		case LISTSignature:
			var listType [4]byte
			if header.Size >= 4 {
				if _, err := r.ReadAt(listType[:], dataStart); err != nil {
					return &AVIError{Op: "read strl type", Err: err}
				}
			}
			if string(listType[:]) == STRLList {
				if err := r.parseSTRLList(dataStart+4, dataEnd); err != nil {
					return err
				}
			}
		}

		pos = dataStart + int64(AlignSize(header.Size))
	}
	return nil
}

// parseSTRLList parses a stream list
func (r *Reader) parseSTRLList(start, end int64) error {
	stream := Stream{Index: len(r.streams)}

	pos := start
	for pos+8 <= end {
		header, err := r.readChunkHeaderAt(pos)
		if err != nil {
			return &AVIError{Op: "read strl chunk", Err: err}
		}
		dataStart := pos + 8

		switch ChunkIDToString(header.ID) {
		case STRHChunk:
			data, err := r.readBody(dataStart, header.Size, streamHeaderSize)
			if err != nil {
				return &AVIError{Op: "read strh", Err: err}
			}
			if err := r.parseSTRHChunk(data, &stream); err != nil {
				return err
			}
		case STRFChunk:
			minLen := 0
			switch stream.Type {
			case StreamTypeVideo:
				minLen = bitmapInfoSize
			case StreamTypeAudio:
				minLen = waveFormatSize + 2
			}
			data, err := r.readBody(dataStart, header.Size, minLen)
			if err != nil {
				return &AVIError{Op: "read strf", Err: err}
			}
			if err := r.parseSTRFChunk(data, header.Size, &stream); err != nil {
				return err
			}
		}

		pos = dataStart + int64(AlignSize(header.Size))
	}

	switch stream.Type {
	case StreamTypeVideo:
		if r.videoStream < 0 {
			r.videoStream = stream.Index
		}
	case StreamTypeAudio:
		if r.audioStream < 0 {
			r.audioStream = stream.Index
		}
	}

	r.streams = append(r.streams, stream)
	return nil
}

// parseSTRHChunk parses a stream header
func (r *Reader) parseSTRHChunk(data []byte, stream *Stream) error {
	var header AVIStreamHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return &AVIError{Op: "decode strh", Err: err}
	}

	if IsVideoStream(header.Type) {
		stream.Type = StreamTypeVideo
	} else if IsAudioStream(header.Type) {
		stream.Type = StreamTypeAudio
	}
	stream.Codec.Type = stream.Type
	stream.Codec.FourCC = header.Handler
	stream.Codec.Name = CleanFourCC(header.Handler)

	if header.Rate > 0 && header.Scale > 0 {
		if stream.Type == StreamTypeVideo {
			stream.Codec.FPS = float64(header.Rate) / float64(header.Scale)
		}
		if header.Length > 0 {
			stream.Duration = time.Duration(header.Length) * time.Duration(header.Scale) * time.Second / time.Duration(header.Rate)
		}
	}
	return nil
}

// parseSTRFChunk parses stream format chunk
func (r *Reader) parseSTRFChunk(data []byte, declared uint32, stream *Stream) error {
	switch stream.Type {
	case StreamTypeVideo:
		return r.parseVideoFormat(data, declared, stream)
	case StreamTypeAudio:
		return r.parseAudioFormat(data, declared, stream)
	}
	return nil
}

// parseVideoFormat parses BITMAPINFOHEADER and captures trailing extradata
func (r *Reader) parseVideoFormat(data []byte, declared uint32, stream *Stream) error {
	var bih BitmapInfoHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &bih); err != nil {
		return &AVIError{Op: "decode bitmap info", Err: err}
	}

	stream.Codec.Width = int(bih.Width)
	stream.Codec.Height = int(bih.Height)
	if bih.Height < 0 {
		stream.Codec.Height = -stream.Codec.Height
	}

	if CleanFourCC(stream.Codec.FourCC) == "" {
		stream.Codec.FourCC = bih.Compression
		stream.Codec.Name = CleanFourCC(bih.Compression)
	}

	if declared > bitmapInfoSize {
		n := int(declared - bitmapInfoSize)
		switch {
		case n > r.opts.MaxExtradata:
			logrus.WithFields(logrus.Fields{
				"function": "parseVideoFormat",
				"size":     n,
				"limit":    r.opts.MaxExtradata,
			}).Debug("Extradata too large, ignored")
		case bitmapInfoSize+n <= len(data):
			stream.Codec.ExtraData = append([]byte(nil), data[bitmapInfoSize:bitmapInfoSize+n]...)
		}
	}
	return nil
}

// parseAudioFormat parses WAVEFORMATEX and the MS-ADPCM extension
func (r *Reader) parseAudioFormat(data []byte, declared uint32, stream *Stream) error {
	var wfx WaveFormatEx
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &wfx); err != nil {
		return &AVIError{Op: "decode wave format", Err: err}
	}

	stream.Codec.Channels = int(wfx.Channels)
	stream.Codec.SampleRate = int(wfx.SamplesPerSec)
	stream.Codec.BitDepth = int(wfx.BitsPerSample)
	stream.Codec.FormatTag = wfx.FormatTag
	stream.Codec.BlockAlign = int(wfx.BlockAlign)
	stream.Codec.Name = AudioFormatFromTag(wfx.FormatTag).String()
	if AudioFormatFromTag(wfx.FormatTag) == AudioNone {
		stream.Codec.Name = fmt.Sprintf("0x%04x", wfx.FormatTag)
	}

	if wfx.FormatTag == WaveFormatMSADPCM {
		if declared >= waveFormatSize+2 {
			stream.Codec.SamplesPerBlock = int(binary.LittleEndian.Uint16(data[waveFormatSize:]))
		}
		if stream.Codec.SamplesPerBlock <= 0 && wfx.Channels > 0 {
			ch := int(wfx.Channels)
			stream.Codec.SamplesPerBlock = 2 + (int(wfx.BlockAlign)-7*ch)*2/ch
		}
	}
	return nil
}

// buildDescriptor derives the playback description from the parsed headers
func (r *Reader) buildDescriptor() {
	video := r.streams[r.videoStream].Codec

	d := StreamDescriptor{
		MicroSecPerFrame: r.mainHeader.MicroSecPerFrame,
		FrameRate:        FrameRateFromMicros(r.mainHeader.MicroSecPerFrame),
		Width:            video.Width,
		Height:           video.Height,
		VideoFourCC:      video.Name,
		VideoFamily:      ClassifyVideoFourCC(video.Name),
		ExtraData:        video.ExtraData,
	}
	if d.Width == 0 || d.Height == 0 {
		d.Width = int(r.mainHeader.Width)
		d.Height = int(r.mainHeader.Height)
	}

	if r.audioStream >= 0 {
		audio := r.streams[r.audioStream].Codec
		d.AudioFormatTag = audio.FormatTag
		d.AudioFormat = AudioFormatFromTag(audio.FormatTag)
		d.Channels = audio.Channels
		d.SampleRate = audio.SampleRate
		d.BitsPerSample = audio.BitDepth
		d.BlockAlign = audio.BlockAlign
		d.SamplesPerBlock = audio.SamplesPerBlock
		if d.AudioFormat == AudioPCM {
			d.SrcBytesPerSample = d.Channels * d.BitsPerSample / 8
		}

		reason := audioPolicy(d, r.opts)
		d.HasAudio = reason == ""
		d.AudioDisabled = reason
		if !d.HasAudio {
			logrus.WithFields(logrus.Fields{
				"function": "buildDescriptor",
				"tag":      fmt.Sprintf("0x%04x", d.AudioFormatTag),
				"channels": d.Channels,
				"rate":     d.SampleRate,
				"reason":   reason,
			}).Warn("Audio disabled, playing video only")
		}
	}

	r.desc = d
}

// audioPolicy returns why the audio stream cannot be played, or "".
func audioPolicy(d StreamDescriptor, opts Options) string {
	switch {
	case d.AudioFormat == AudioNone:
		return fmt.Sprintf("unsupported format tag 0x%04x", d.AudioFormatTag)
	case d.Channels < 1 || d.Channels > 2:
		return fmt.Sprintf("unsupported channel count %d", d.Channels)
	case d.SampleRate <= 0:
		return "zero sample rate"
	case d.SampleRate > opts.MaxAudioSampleRate:
		return fmt.Sprintf("sample rate %d above %d", d.SampleRate, opts.MaxAudioSampleRate)
	}

	switch d.AudioFormat {
	case AudioPCM:
		if d.BitsPerSample != 8 && d.BitsPerSample != 16 {
			return fmt.Sprintf("unsupported pcm width %d", d.BitsPerSample)
		}
	case AudioMSADPCM:
		if d.BlockAlign < 7*d.Channels {
			return fmt.Sprintf("block align %d below header size", d.BlockAlign)
		}
		if d.SamplesPerBlock < 2 {
			return fmt.Sprintf("invalid samples per block %d", d.SamplesPerBlock)
		}
	}
	return ""
}

// buildFileInfo fills the metadata reported by GetFileInfo
func (r *Reader) buildFileInfo() {
	info := &FileInfo{
		Filename: r.filename,
		FileSize: r.fileSize,
	}

	if r.mainHeader.MicroSecPerFrame > 0 && r.mainHeader.TotalFrames > 0 {
		info.Duration = time.Duration(r.mainHeader.TotalFrames) * time.Duration(r.mainHeader.MicroSecPerFrame) * time.Microsecond
	} else {
		info.Duration = time.Duration(len(r.index.Frames)) * time.Second / time.Duration(r.desc.FrameRate)
	}

	for i := range r.streams {
		switch i {
		case r.videoStream:
			r.streams[i].PacketCount = len(r.index.Frames)
		case r.audioStream:
			r.streams[i].PacketCount = len(r.index.Audio)
		}
		switch r.streams[i].Type {
		case StreamTypeVideo:
			info.VideoStreams++
		case StreamTypeAudio:
			info.AudioStreams++
		}
	}
	info.Streams = r.streams
	r.fileInfo = info
}

// GetFileInfo returns metadata about the file
func (r *Reader) GetFileInfo() (*FileInfo, error) {
	if r.fileInfo == nil {
		return nil, &AVIError{Op: "get file info", Err: ErrNotOpen}
	}
	return r.fileInfo, nil
}

// GetStreams returns all streams in the file
func (r *Reader) GetStreams() ([]Stream, error) {
	if r.streams == nil {
		return nil, &AVIError{Op: "get streams", Err: ErrNotOpen}
	}
	return r.streams, nil
}

// Descriptor returns the playback description of the open file.
func (r *Reader) Descriptor() StreamDescriptor {
	return r.desc
}

// Index returns the chunk tables of the open file.
func (r *Reader) Index() *Index {
	return &r.index
}

// ReadAt reads len(p) bytes from absolute position off.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if r.r == nil {
		return 0, &AVIError{Op: "read", Err: ErrNotOpen}
	}
	if ra, ok := r.r.(io.ReaderAt); ok {
		n, err := ra.ReadAt(p, off)
		if err == io.EOF && n == len(p) {
			err = nil
		}
		return n, err
	}
	if _, err := r.r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(r.r, p)
}

// ReadPayload reads the chunk payload at ref into buf, reallocating when buf is too small.
func (r *Reader) ReadPayload(ref ChunkRef, buf []byte) ([]byte, error) {
	size := int(ref.Size)
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	n, err := r.ReadAt(buf, int64(ref.Offset))
	if err != nil {
		return buf[:n], &AVIError{Op: "read payload", Err: err}
	}
	return buf, nil
}

// ReadAllPackets lists every indexed chunk in file order without reading payloads.
func (r *Reader) ReadAllPackets() ([]Packet, error) {
	if r.r == nil {
		return nil, &AVIError{Op: "read packets", Err: ErrNotOpen}
	}

	frames, audio := r.index.Frames, r.index.Audio
	frameDuration := time.Second / time.Duration(r.desc.FrameRate)
	packets := make([]Packet, 0, len(frames)+len(audio))

	fi, ai := 0, 0
	for fi < len(frames) || ai < len(audio) {
		if ai >= len(audio) || (fi < len(frames) && frames[fi].Offset <= audio[ai].Offset) {
			ref := frames[fi]
			packets = append(packets, Packet{
				StreamIndex: r.videoStream,
				Codec:       StreamTypeVideo,
				PTS:         int64(fi),
				Size:        int(ref.Size),
				Position:    int64(ref.Offset),
				Keyframe:    r.desc.VideoFamily == VideoFamilyIntra,
				PTSTime:     time.Duration(fi) * frameDuration,
			})
			fi++
			continue
		}
		ref := audio[ai]
		packets = append(packets, Packet{
			StreamIndex: r.audioStream,
			Codec:       StreamTypeAudio,
			PTS:         int64(ai),
			Size:        int(ref.Size),
			Position:    int64(ref.Offset),
			Keyframe:    true,
		})
		ai++
	}

	return packets, nil
}

// ReadPacketData reads the payload of a packet returned by ReadAllPackets
func (r *Reader) ReadPacketData(packet *Packet) ([]byte, error) {
	return r.ReadPayload(ChunkRef{Offset: uint32(packet.Position), Size: uint32(packet.Size)}, nil)
}

// Close closes the file
func (r *Reader) Close() error {
	var err error
	if r.r != nil {
		if closer, ok := r.r.(io.Closer); ok {
			err = closer.Close()
		}
	}
	r.reset()
	return err
}

func (r *Reader) readChunkHeaderAt(pos int64) (ChunkHeader, error) {
	var buf [8]byte
	if _, err := r.ReadAt(buf[:], pos); err != nil {
		return ChunkHeader{}, err
	}
	return ReadChunkHeader(buf[:]), nil
}

// readBody reads a header chunk body, zero padded to at least minLen bytes.
func (r *Reader) readBody(pos int64, size uint32, minLen int) ([]byte, error) {
	n := int(min(int64(size), headerChunkLimit, r.fileSize-pos))
	if n < 0 {
		n = 0
	}
	data := make([]byte, max(n, minLen))
	if _, err := r.ReadAt(data[:n], pos); err != nil {
		return nil, err
	}
	return data, nil
}
