package codec

import (
	"image"

	"github.com/charlescerisier/avplayer/avi"
)

// VideoDecoder dispatches to the decoder of the stream's codec family.
type VideoDecoder struct {
	family avi.VideoFamily
	intra  *IntraDecoder
	motion *MotionDecoder
}

// NewVideoDecoder selects the variant for desc. backend is only used by the
// motion family; nil selects the built-in HeaderBackend.
func NewVideoDecoder(desc avi.StreamDescriptor, backend PictureBackend) *VideoDecoder {
	if desc.VideoFamily == avi.VideoFamilyMotion {
		if backend == nil {
			backend = NewHeaderBackend(desc.Width, desc.Height)
		}
		return &VideoDecoder{
			family: avi.VideoFamilyMotion,
			motion: NewMotionDecoder(desc.ExtraData, backend),
		}
	}
	return &VideoDecoder{family: avi.VideoFamilyIntra, intra: NewIntraDecoder()}
}

// Family returns the selected variant.
func (d *VideoDecoder) Family() avi.VideoFamily {
	return d.family
}

// Decode decodes one frame payload. ErrNeedMoreData means no picture yet;
// any other error marks the unit corrupt.
func (d *VideoDecoder) Decode(payload []byte) (image.Image, error) {
	switch d.family {
	case avi.VideoFamilyMotion:
		return d.motion.Decode(payload)
	default:
		return d.intra.Decode(payload)
	}
}

// Close releases decoder state. Safe to call more than once.
func (d *VideoDecoder) Close() error {
	if d.motion != nil {
		return d.motion.Close()
	}
	return nil
}
