package codec

import (
	"fmt"
	"image"

	"github.com/sirupsen/logrus"
	gocodec "github.com/yapingcat/gomedia/go-codec"
)

const (
	// maxDecodeLoops bounds the sub-unit loop of one MotionDecoder.Decode call.
	maxDecodeLoops = 10
	// minRemaining is the tail size below which a payload is considered consumed.
	minRemaining = 4

	startVOP = 0xB6
)

// PictureBackend is the bitstream decoder behind MotionDecoder.
//
// DecodeUnit consumes at most one coded unit from the front of data and
// reports how many bytes it used. pic is non-nil when the unit completed a
// displayable picture. The returned image stays owned by the backend and is
// valid until the next call.
type PictureBackend interface {
	DecodeUnit(data []byte) (used int, pic image.Image, err error)
	Close() error
}

// MotionDecoder drives a stateful MPEG-4 Part 2 backend. Extradata (the
// VOL header stored in strf) is submitted once before the first frame.
type MotionDecoder struct {
	backend   PictureBackend
	extradata []byte
	primed    bool
	closed    bool
}

// NewMotionDecoder wraps backend; extradata may be nil.
func NewMotionDecoder(extradata []byte, backend PictureBackend) *MotionDecoder {
	return &MotionDecoder{backend: backend, extradata: extradata}
}

// Decode feeds payload to the backend until a picture comes out, fewer
// than minRemaining bytes are left, or maxDecodeLoops units were tried.
// ErrNeedMoreData means the payload held no displayable picture.
func (d *MotionDecoder) Decode(payload []byte) (image.Image, error) {
	if d.closed {
		return nil, ErrClosed
	}

	if !d.primed {
		d.primed = true
		if len(d.extradata) > 0 {
			if err := d.submitExtradata(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "MotionDecoder.Decode",
					"size":     len(d.extradata),
					"error":    err.Error(),
				}).Warn("Extradata rejected by decoder")
			}
		}
	}

	data := payload
	for loops := 0; loops < maxDecodeLoops && len(data) > minRemaining; loops++ {
		used, pic, err := d.backend.DecodeUnit(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptUnit, err)
		}
		if pic != nil {
			return pic, nil
		}
		if used <= 0 {
			break
		}
		data = data[used:]
	}
	return nil, ErrNeedMoreData
}

func (d *MotionDecoder) submitExtradata() error {
	data := d.extradata
	for loops := 0; loops < maxDecodeLoops && len(data) > 0; loops++ {
		used, _, err := d.backend.DecodeUnit(data)
		if err != nil {
			return err
		}
		if used <= 0 {
			break
		}
		data = data[used:]
	}
	return nil
}

// Close releases the backend. It is safe to call more than once.
func (d *MotionDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.backend.Close()
}

// HeaderBackend is the built-in PictureBackend. It parses the MPEG-4
// stream headers (VOL geometry and VOP coding types) and republishes a
// reference picture for every VOP once an intra VOP was seen. Texture
// data is not reconstructed.
type HeaderBackend struct {
	width  int
	height int
	ref    *image.YCbCr
	keyed  bool
	closed bool
}

// NewHeaderBackend allocates the reference picture from the container geometry.
func NewHeaderBackend(width, height int) *HeaderBackend {
	b := &HeaderBackend{}
	b.resize(width, height)
	return b
}

// Size returns the current picture geometry.
func (b *HeaderBackend) Size() (width, height int) {
	return b.width, b.height
}

func (b *HeaderBackend) DecodeUnit(data []byte) (used int, pic image.Image, err error) {
	if b.closed {
		return 0, nil, ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			used, pic, err = len(data), nil, fmt.Errorf("bitstream overrun: %v", r)
		}
	}()

	start, kind := gocodec.FindStartCode(data, 0)
	if start < 0 {
		return len(data), nil, nil
	}
	codeLen := 3
	if kind == gocodec.START_CODE_4 {
		codeLen = 4
	}
	p := start + codeLen
	if p >= len(data) {
		return len(data), nil, nil
	}

	end := len(data)
	if next, _ := gocodec.FindStartCode(data, p+1); next > p {
		end = next
	}
	code := data[p]
	body := data[p+1 : end]

	switch {
	case code >= 0x20 && code <= 0x2F:
		if w, h, ok := parseVOLGeometry(body); ok && (w != b.width || h != b.height) {
			logrus.WithFields(logrus.Fields{
				"function": "HeaderBackend.DecodeUnit",
				"width":    w,
				"height":   h,
			}).Debug("VOL geometry")
			b.resize(w, h)
		}
	case code == startVOP:
		if len(body) == 0 {
			return end, nil, nil
		}
		if body[0]>>6 == 0 {
			b.keyed = true
		}
		if b.keyed && b.ref != nil {
			return end, b.ref, nil
		}
	}
	return end, nil, nil
}

// Close releases the reference picture.
func (b *HeaderBackend) Close() error {
	b.closed = true
	b.ref = nil
	return nil
}

func (b *HeaderBackend) resize(width, height int) {
	b.width, b.height = width, height
	if width <= 0 || height <= 0 {
		b.ref = nil
		return
	}
	ref := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	for i := range ref.Y {
		ref.Y[i] = 0x80
	}
	for i := range ref.Cb {
		ref.Cb[i] = 0x80
		ref.Cr[i] = 0x80
	}
	b.ref = ref
}

// parseVOLGeometry reads video_object_layer_width/height from a VOL
// header body (the bytes after the 00 00 01 2x start code).
func parseVOLGeometry(body []byte) (width, height int, ok bool) {
	if len(body) < 8 {
		return 0, 0, false
	}
	bs := gocodec.NewBitStream(body)
	bs.SkipBits(1) // random_accessible_vol
	bs.SkipBits(8) // video_object_type_indication
	verid := uint64(1)
	if bs.GetBit() == 1 { // is_object_layer_identifier
		verid = bs.GetBits(4)
		bs.SkipBits(3)
	}
	if bs.GetBits(4) == 0x0F { // extended PAR
		bs.SkipBits(16)
	}
	if bs.GetBit() == 1 { // vol_control_parameters
		bs.SkipBits(3)
		if bs.GetBit() == 1 { // vbv_parameters
			bs.SkipBits(32)
			bs.SkipBits(32)
			bs.SkipBits(15)
		}
	}
	shape := bs.GetBits(2)
	if shape == 3 && verid != 1 {
		bs.SkipBits(4)
	}
	bs.SkipBits(1)
	resolution := bs.GetBits(16)
	bs.SkipBits(1)
	if bs.GetBit() == 1 { // fixed_vop_rate
		bs.SkipBits(timeIncrementBits(resolution))
	}
	if shape != 0 {
		return 0, 0, false
	}
	bs.SkipBits(1)
	width = int(bs.GetBits(13))
	bs.SkipBits(1)
	height = int(bs.GetBits(13))
	return width, height, width > 0 && height > 0
}

func timeIncrementBits(resolution uint64) int {
	n := 1
	for uint64(1)<<n < resolution {
		n++
	}
	return n
}
