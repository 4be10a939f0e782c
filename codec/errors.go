package codec

import "errors"

// Sentinel errors shared by the decoders. Use errors.Is to classify them.
var (
	// ErrNeedMoreData means no output was produced yet: the unit was
	// partial, or a motion decoder is still waiting for a picture.
	ErrNeedMoreData = errors.New("need more data")

	// ErrCorruptUnit means the input unit could not be decoded and was skipped.
	ErrCorruptUnit = errors.New("corrupt unit")

	// ErrUnsupported means the stream parameters are outside what the decoder handles.
	ErrUnsupported = errors.New("unsupported stream parameters")

	// ErrClosed means the decoder was used after Close.
	ErrClosed = errors.New("decoder closed")
)
