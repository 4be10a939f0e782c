package codec

import (
	"encoding/binary"
	"fmt"
)

var (
	msadpcmAdapt = [16]int32{230, 230, 230, 230, 307, 409, 512, 614, 768, 614, 512, 409, 307, 230, 230, 230}
	msadpcmCoef1 = [7]int32{256, 512, 0, 192, 240, 460, 392}
	msadpcmCoef2 = [7]int32{0, -256, 0, 64, 0, -208, -232}
)

const msadpcmMinDelta = 16

// MSADPCMDecoder decodes Microsoft ADPCM blocks. Every block carries its
// own predictor state, so the decoder is safe to reuse after a seek.
type MSADPCMDecoder struct {
	channels        int
	blockAlign      int
	samplesPerBlock int
}

type adpcmChannel struct {
	coef1, coef2 int32
	delta        int32
	s1, s2       int32
}

// NewMSADPCMDecoder validates the block layout.
func NewMSADPCMDecoder(channels, blockAlign, samplesPerBlock int) (*MSADPCMDecoder, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupported, channels)
	}
	if blockAlign < 7*channels {
		return nil, fmt.Errorf("%w: block align %d", ErrUnsupported, blockAlign)
	}
	return &MSADPCMDecoder{channels: channels, blockAlign: blockAlign, samplesPerBlock: samplesPerBlock}, nil
}

// HeaderSize is the per-block predictor header length.
func (d *MSADPCMDecoder) HeaderSize() int {
	return 7 * d.channels
}

// BlockAlign is the encoded block length.
func (d *MSADPCMDecoder) BlockAlign() int {
	return d.blockAlign
}

// SamplesPerBlock is the number of sample frames a full block decodes to.
func (d *MSADPCMDecoder) SamplesPerBlock() int {
	return d.samplesPerBlock
}

// DecodeBlock appends the interleaved stereo samples of one block to dst.
// Mono is duplicated to both channels. A block shorter than the header
// yields nothing.
func (d *MSADPCMDecoder) DecodeBlock(dst []int16, block []byte) []int16 {
	if len(block) < d.HeaderSize() {
		return dst
	}
	if d.channels == 1 {
		return d.decodeMono(dst, block)
	}
	return d.decodeStereo(dst, block)
}

func (d *MSADPCMDecoder) limit(n int) int {
	if d.samplesPerBlock > 0 && n > d.samplesPerBlock {
		return d.samplesPerBlock
	}
	return n
}

func (d *MSADPCMDecoder) decodeMono(dst []int16, block []byte) []int16 {
	var c adpcmChannel
	c.setPredictor(block[0])
	c.delta = int32(int16(binary.LittleEndian.Uint16(block[1:])))
	c.s1 = int32(int16(binary.LittleEndian.Uint16(block[3:])))
	c.s2 = int32(int16(binary.LittleEndian.Uint16(block[5:])))

	total := d.limit(2 + (len(block)-7)*2)
	out := 0
	emit := func(s int16) {
		if out < total {
			dst = append(dst, s, s)
			out++
		}
	}

	emit(int16(c.s2))
	emit(int16(c.s1))
	for _, b := range block[7:] {
		if out >= total {
			break
		}
		emit(c.expand(b >> 4))
		emit(c.expand(b & 0x0F))
	}
	return dst
}

func (d *MSADPCMDecoder) decodeStereo(dst []int16, block []byte) []int16 {
	var l, r adpcmChannel
	l.setPredictor(block[0])
	r.setPredictor(block[1])
	l.delta = int32(int16(binary.LittleEndian.Uint16(block[2:])))
	r.delta = int32(int16(binary.LittleEndian.Uint16(block[4:])))
	l.s1 = int32(int16(binary.LittleEndian.Uint16(block[6:])))
	r.s1 = int32(int16(binary.LittleEndian.Uint16(block[8:])))
	l.s2 = int32(int16(binary.LittleEndian.Uint16(block[10:])))
	r.s2 = int32(int16(binary.LittleEndian.Uint16(block[12:])))

	total := d.limit(2 + (len(block) - 14))
	out := 0

	if out < total {
		dst = append(dst, int16(l.s2), int16(r.s2))
		out++
	}
	if out < total {
		dst = append(dst, int16(l.s1), int16(r.s1))
		out++
	}
	for _, b := range block[14:] {
		if out >= total {
			break
		}
		dst = append(dst, l.expand(b>>4), r.expand(b&0x0F))
		out++
	}
	return dst
}

func (c *adpcmChannel) setPredictor(idx byte) {
	if idx > 6 {
		idx = 0
	}
	c.coef1 = msadpcmCoef1[idx]
	c.coef2 = msadpcmCoef2[idx]
}

// expand decodes one 4-bit code and advances the channel state.
func (c *adpcmChannel) expand(nibble byte) int16 {
	pred := (c.s1*c.coef1 + c.s2*c.coef2) >> 8
	signed := int32(nibble)
	if nibble&0x08 != 0 {
		signed -= 16
	}
	sample := clamp16(pred + signed*c.delta)

	c.s2 = c.s1
	c.s1 = sample

	c.delta = (msadpcmAdapt[nibble&0x0F] * c.delta) >> 8
	if c.delta < msadpcmMinDelta {
		c.delta = msadpcmMinDelta
	}
	return int16(sample)
}

func clamp16(v int32) int32 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return v
}
