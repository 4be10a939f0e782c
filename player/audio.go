package player

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/charlescerisier/avplayer/avi"
	"github.com/charlescerisier/avplayer/codec"
	"github.com/charlescerisier/avplayer/ring"
)

// bytesPerFrame is one interleaved stereo s16 sample frame in the ring.
const bytesPerFrame = 4

// adpcmMinBlock is the shortest block that still carries a mono header.
const adpcmMinBlock = 7

// mp3MaxFrameBytes is the ring space one decoded MPEG audio frame can need.
const mp3MaxFrameBytes = 1152 * bytesPerFrame

// AudioCursor is the position of the audio decoder in the chunk table.
type AudioCursor struct {
	Chunk int
	Pos   uint32
}

// AudioPipeline decodes the audio chunk table into the sample ring.
type AudioPipeline struct {
	src    io.ReaderAt
	chunks []avi.ChunkRef
	desc   avi.StreamDescriptor
	cfg    *Config
	stats  *Stats

	ring   *ring.Buffer
	cursor AudioCursor
	sent   uint64

	pcm   *codec.PCMConverter
	adpcm *codec.MSADPCMDecoder
	mp3   *codec.MP3Decoder
	stage []byte

	raw     []byte
	samples []int16
	stereo  []int16
	bytes   []byte
}

// NewAudioPipeline prepares the decoder for desc's audio format. synth is
// only used for MP3; nil selects codec.MP3Synthesizer.
func NewAudioPipeline(src io.ReaderAt, chunks []avi.ChunkRef, desc avi.StreamDescriptor, cfg *Config, stats *Stats, synth codec.Synthesizer) (*AudioPipeline, error) {
	if !desc.HasAudio {
		return nil, fmt.Errorf("audio pipeline: %w", ErrNoAudio)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if stats == nil {
		stats = &Stats{}
	}

	p := &AudioPipeline{
		src:    src,
		chunks: chunks,
		desc:   desc,
		cfg:    cfg,
		stats:  stats,
		ring:   ring.New(cfg.RingSize),
	}

	var err error
	switch desc.AudioFormat {
	case avi.AudioPCM:
		p.pcm, err = codec.NewPCMConverter(desc.Channels, desc.BitsPerSample)
	case avi.AudioMSADPCM:
		p.adpcm, err = codec.NewMSADPCMDecoder(desc.Channels, desc.BlockAlign, desc.SamplesPerBlock)
	case avi.AudioMP3:
		p.mp3 = codec.NewMP3Decoder(synth)
		p.stage = make([]byte, 0, cfg.MP3StagingSize)
	default:
		err = codec.ErrUnsupported
	}
	if err != nil {
		return nil, fmt.Errorf("audio pipeline %s: %w", desc.AudioFormat, err)
	}
	return p, nil
}

// Format returns the audio codec family being decoded.
func (p *AudioPipeline) Format() avi.AudioFormat {
	return p.desc.AudioFormat
}

// SampleRate returns the rate used for synchronisation: the rate found in
// the MP3 stream once known, otherwise the container rate.
func (p *AudioPipeline) SampleRate() int {
	if p.mp3 != nil {
		if rate, _ := p.mp3.DetectedFormat(); rate > 0 {
			return rate
		}
	}
	return p.desc.SampleRate
}

// Buffered returns the decoded bytes waiting in the ring.
func (p *AudioPipeline) Buffered() int {
	return p.ring.Len()
}

// Cursor returns the decode position.
func (p *AudioPipeline) Cursor() AudioCursor {
	return p.cursor
}

// Sent returns the sample frames delivered to the sink so far.
func (p *AudioPipeline) Sent() uint64 {
	return p.sent
}

// Exhausted reports whether every audio chunk has been consumed.
func (p *AudioPipeline) Exhausted() bool {
	return p.cursor.Chunk >= len(p.chunks) && len(p.stage) == 0
}

// Consume moves up to len(dst) stereo frames from the ring into dst and
// counts them as sent.
func (p *AudioPipeline) Consume(dst []int16) int {
	want := len(dst) / 2 * bytesPerFrame
	if cap(p.bytes) < want {
		p.bytes = make([]byte, want)
	}
	buf := p.bytes[:want]
	n := p.ring.Read(buf) / bytesPerFrame
	for i := 0; i < n*2; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	p.sent += uint64(n)
	return n
}

// Refill decodes compressed audio into the ring and returns the bytes
// added. One call is bounded by the refill caps in Config.
func (p *AudioPipeline) Refill() int {
	var written int
	switch p.desc.AudioFormat {
	case avi.AudioPCM:
		written = p.refillPCM()
	case avi.AudioMSADPCM:
		written = p.refillADPCM()
	case avi.AudioMP3:
		written = p.refillMP3()
	}
	p.stats.RingBytesWritten += uint64(written)
	return written
}

func (p *AudioPipeline) refillPCM() int {
	frame := p.pcm.FrameSize()
	written := 0
	for written <= p.cfg.RefillByteBudget && p.cursor.Chunk < len(p.chunks) {
		room := min(p.cfg.RefillByteBudget, p.ring.Free()/bytesPerFrame*frame)
		room -= room % frame
		if room < frame {
			break
		}

		ref := p.chunks[p.cursor.Chunk]
		remaining := int(ref.Size - p.cursor.Pos)
		if remaining < frame {
			p.nextChunk()
			continue
		}
		n := min(room, remaining)
		n -= n % frame

		got, err := p.read(ref, n)
		got -= got % frame
		if got == 0 {
			p.readFailed(err)
			break
		}
		p.advance(ref, uint32(got))

		p.samples = p.pcm.Convert(p.samples[:0], p.raw[:got])
		written += p.pushStereo(p.samples)
		if err != nil {
			p.readFailed(err)
			break
		}
	}
	return written
}

func (p *AudioPipeline) refillADPCM() int {
	align := p.adpcm.BlockAlign()
	// a block is only decoded when all of it fits
	need := min(max(p.cfg.MinFreeSpace, p.adpcm.SamplesPerBlock()*bytesPerFrame), p.ring.Cap())
	written, blocks, skips := 0, 0, 0
	for p.ring.Free() >= need && p.cursor.Chunk < len(p.chunks) && blocks < p.cfg.ADPCMMaxBlocks {
		blocks++

		ref := p.chunks[p.cursor.Chunk]
		n := min(align, int(ref.Size-p.cursor.Pos))
		if n < adpcmMinBlock {
			p.nextChunk()
			p.stats.ADPCMSkips++
			skips++
			if skips > p.cfg.ADPCMMaxSkips {
				break
			}
			continue
		}

		got, err := p.read(ref, n)
		if got < adpcmMinBlock {
			p.readFailed(err)
			break
		}
		p.advance(ref, uint32(got))

		p.samples = p.adpcm.DecodeBlock(p.samples[:0], p.raw[:got])
		if len(p.samples) == 0 {
			p.stats.AudioErrors++
			continue
		}
		written += p.pushStereo(p.samples)
		if written > p.cfg.RefillByteBudget {
			break
		}
	}
	return written
}

func (p *AudioPipeline) refillMP3() int {
	written, failures := 0, 0
	for p.ring.Free() >= max(p.cfg.MinFreeSpace, mp3MaxFrameBytes) && failures < p.cfg.MP3MaxErrors {
		if len(p.stage) < p.cfg.MP3RefillBelow {
			p.fillStage()
		}
		if len(p.stage) == 0 {
			break
		}

		consumed, out, err := p.mp3.Decode(p.samples[:0], p.stage)
		p.samples = out
		p.dropStage(consumed)

		switch {
		case err == nil:
			failures = 0
			p.stats.MP3Frames++
			_, channels := p.mp3.DetectedFormat()
			if channels == 1 {
				written += p.pushMono(p.samples)
			} else {
				written += p.pushStereo(p.samples)
			}
		case errors.Is(err, codec.ErrNeedMoreData):
			if p.fillStage() == 0 {
				// trailing partial frame with nothing left to append
				if p.cursor.Chunk >= len(p.chunks) {
					p.stage = p.stage[:0]
				}
				return written
			}
		default:
			failures++
			p.stats.AudioErrors++
		}
		if written > p.cfg.RefillByteBudget {
			break
		}
	}
	if failures >= p.cfg.MP3MaxErrors {
		logrus.WithFields(logrus.Fields{
			"function": "AudioPipeline.refillMP3",
			"chunk":    p.cursor.Chunk,
			"failures": failures,
		}).Warn("Too many consecutive bad MP3 frames")
	}
	return written
}

// fillStage appends compressed bytes from the chunk table to the staging
// buffer and returns how many were added.
func (p *AudioPipeline) fillStage() int {
	added := 0
	for len(p.stage) < cap(p.stage) && p.cursor.Chunk < len(p.chunks) {
		ref := p.chunks[p.cursor.Chunk]
		remaining := int(ref.Size - p.cursor.Pos)
		if remaining <= 0 {
			p.nextChunk()
			continue
		}
		start := len(p.stage)
		n := min(cap(p.stage)-start, remaining)
		got, err := p.src.ReadAt(p.stage[start:start+n], int64(ref.Offset)+int64(p.cursor.Pos))
		if got > n {
			got = n
		}
		p.stage = p.stage[:start+got]
		added += got
		if got == 0 {
			p.readFailed(err)
			break
		}
		p.advance(ref, uint32(got))
		if err != nil && err != io.EOF {
			p.readFailed(err)
			break
		}
	}
	return added
}

func (p *AudioPipeline) dropStage(n int) {
	if n <= 0 {
		return
	}
	if n >= len(p.stage) {
		p.stage = p.stage[:0]
		return
	}
	rest := copy(p.stage, p.stage[n:])
	p.stage = p.stage[:rest]
}

// read fills p.raw with n bytes at the cursor.
func (p *AudioPipeline) read(ref avi.ChunkRef, n int) (int, error) {
	if cap(p.raw) < n {
		p.raw = make([]byte, n)
	}
	p.raw = p.raw[:n]
	got, err := p.src.ReadAt(p.raw, int64(ref.Offset)+int64(p.cursor.Pos))
	if err == io.EOF && got == n {
		err = nil
	}
	return got, err
}

func (p *AudioPipeline) readFailed(err error) {
	p.stats.AudioErrors++
	// stop at this chunk; the next refill retries it
	logrus.WithFields(logrus.Fields{
		"function": "AudioPipeline.Refill",
		"chunk":    p.cursor.Chunk,
		"pos":      p.cursor.Pos,
		"error":    err,
	}).Debug("Audio chunk read failed")
}

func (p *AudioPipeline) advance(ref avi.ChunkRef, n uint32) {
	p.cursor.Pos += n
	if p.cursor.Pos >= ref.Size {
		p.nextChunk()
	}
}

func (p *AudioPipeline) nextChunk() {
	p.cursor.Chunk++
	p.cursor.Pos = 0
}

// pushMono writes mono samples to the ring as stereo frames.
func (p *AudioPipeline) pushMono(mono []int16) int {
	p.stereo = p.stereo[:0]
	for _, s := range mono {
		p.stereo = append(p.stereo, s, s)
	}
	return p.pushStereo(p.stereo)
}

// pushStereo writes whole stereo frames, dropping what does not fit.
func (p *AudioPipeline) pushStereo(samples []int16) int {
	frames := min(len(samples)/2, p.ring.Free()/bytesPerFrame)
	if frames == 0 {
		return 0
	}
	n := frames * bytesPerFrame
	if cap(p.bytes) < n {
		p.bytes = make([]byte, n)
	}
	buf := p.bytes[:n]
	for i := 0; i < frames*2; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(samples[i]))
	}
	return p.ring.Write(buf)
}

// Locate maps a time in sample frames to a chunk cursor and returns the
// time actually reached after alignment.
func (p *AudioPipeline) Locate(timeSamples uint64) (AudioCursor, uint64) {
	switch p.desc.AudioFormat {
	case avi.AudioMP3:
		if len(p.chunks) == 0 {
			return AudioCursor{}, 0
		}
		spf := uint64(codec.MP3SamplesPerFrame(p.SampleRate()))
		chunk := min(timeSamples/spf, uint64(len(p.chunks)-1))
		return AudioCursor{Chunk: int(chunk)}, chunk * spf
	case avi.AudioMSADPCM:
		blocks := timeSamples / uint64(p.desc.SamplesPerBlock)
		return p.walk(blocks*uint64(p.desc.BlockAlign), uint64(p.desc.BlockAlign)), timeSamples
	default:
		frame := uint64(max(p.desc.SrcBytesPerSample, 1))
		return p.walk(timeSamples*frame, frame), timeSamples
	}
}

// walk finds the chunk holding the byte offset into the audio stream and
// aligns the in-chunk position down to align.
func (p *AudioPipeline) walk(offset, align uint64) AudioCursor {
	for i, ref := range p.chunks {
		size := uint64(ref.Size)
		if offset < size {
			return AudioCursor{Chunk: i, Pos: uint32(offset - offset%align)}
		}
		offset -= size
	}
	return AudioCursor{Chunk: len(p.chunks)}
}

// Seek repositions decoding at timeSamples. The ring is emptied and, except
// for MP3, refilled once from the new position.
func (p *AudioPipeline) Seek(timeSamples uint64) {
	cursor, reached := p.Locate(timeSamples)
	p.cursor = cursor
	p.sent = reached
	p.ring.Reset()

	if p.mp3 != nil {
		p.stage = p.stage[:0]
		p.mp3.Reset()
		return
	}
	p.Refill()
}

// Reset rewinds to the first chunk with an empty ring.
func (p *AudioPipeline) Reset() {
	p.cursor = AudioCursor{}
	p.sent = 0
	p.ring.Reset()
	if p.mp3 != nil {
		p.stage = p.stage[:0]
		p.mp3.Reset()
	}
}
