package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
)

const (
	markerSOI = 0xD8
	markerEOI = 0xD9
	markerSOS = 0xDA
	markerDHT = 0xC4

	// soiSearchLimit is how far into a payload a missing SOI is looked for.
	soiSearchLimit = 64
)

var (
	soi = []byte{0xFF, markerSOI}
	eoi = []byte{0xFF, markerEOI}

	standardDHTOnce sync.Once
	standardDHT     []byte
)

// IntraDecoder decodes self-contained JPEG frames. MJPEG streams that omit
// the Huffman tables (AVI1 style) get the standard tables inserted.
type IntraDecoder struct {
	buf []byte
}

// NewIntraDecoder creates an intra-frame decoder. It keeps no state
// between frames other than a scratch buffer.
func NewIntraDecoder() *IntraDecoder {
	return &IntraDecoder{}
}

// Decode decodes one frame payload.
func (d *IntraDecoder) Decode(payload []byte) (image.Image, error) {
	if len(payload) == 0 {
		return nil, ErrNeedMoreData
	}

	start := bytes.Index(payload[:min(len(payload), soiSearchLimit)], soi)
	if start < 0 {
		return nil, fmt.Errorf("%w: no start of image", ErrCorruptUnit)
	}
	data := payload[start:]

	if end := bytes.LastIndex(data, eoi); end > 0 {
		data = data[:end+2]
	}

	d.buf = d.buf[:0]
	if !hasSegmentBeforeScan(data, markerDHT) {
		d.buf = append(d.buf, soi...)
		d.buf = append(d.buf, standardHuffmanTables()...)
		d.buf = append(d.buf, data[2:]...)
	} else {
		d.buf = append(d.buf, data...)
	}
	if !bytes.HasSuffix(d.buf, eoi) {
		d.buf = append(d.buf, eoi...)
	}

	img, err := jpeg.Decode(bytes.NewReader(d.buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptUnit, err)
	}
	return img, nil
}

// hasSegmentBeforeScan reports whether a marker segment appears in the
// JPEG header, that is before the first SOS.
func hasSegmentBeforeScan(data []byte, marker byte) bool {
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return false
		}
		m := data[i+1]
		switch {
		case m == 0xFF:
			i++
			continue
		case m == marker:
			return true
		case m == markerSOS:
			return false
		case m == 0x01 || (m >= 0xD0 && m <= markerSOI):
			i += 2
			continue
		}
		i += 2 + int(binary.BigEndian.Uint16(data[i+2:]))
	}
	return false
}

// standardHuffmanTables returns the DHT segments of the JPEG standard
// tables (ITU T.81 Annex K), taken from the encoder's own output.
func standardHuffmanTables() []byte {
	standardDHTOnce.Do(func() {
		var out bytes.Buffer
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		if err := jpeg.Encode(&out, img, nil); err != nil {
			return
		}
		standardDHT = extractSegments(out.Bytes(), markerDHT)
	})
	return standardDHT
}

func extractSegments(data []byte, marker byte) []byte {
	var segs []byte
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			break
		}
		m := data[i+1]
		if m == markerSOS {
			break
		}
		length := int(binary.BigEndian.Uint16(data[i+2:]))
		end := i + 2 + length
		if end > len(data) {
			break
		}
		if m == marker {
			segs = append(segs, data[i:end]...)
		}
		i = end
	}
	return segs
}
