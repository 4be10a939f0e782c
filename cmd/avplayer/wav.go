package main

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
)

const wavFormatPCM = 1

// wavWriter stores delivered samples as a 16-bit stereo WAV file.
type wavWriter struct {
	f   *os.File
	enc *wav.Encoder
	buf *audio.IntBuffer

	frames int64
	// lost counts sample frames refused because the file write failed.
	lost int64
}

func createWAV(path string, rate int) (*wavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}
	return &wavWriter{
		f:   f,
		enc: wav.NewEncoder(f, rate, 16, 2, wavFormatPCM),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: rate},
			SourceBitDepth: 16,
		},
	}, nil
}

// WriteSamples implements player.AudioSink. A failed write refuses the
// whole batch, which the session counts as sink shortfall.
func (w *wavWriter) WriteSamples(samples []int16) int {
	n := len(samples) / 2
	if n == 0 {
		return 0
	}
	data := w.buf.Data[:0]
	for _, s := range samples[:n*2] {
		data = append(data, int(s))
	}
	w.buf.Data = data

	if err := w.enc.Write(w.buf); err != nil {
		if w.lost == 0 {
			logrus.WithFields(logrus.Fields{
				"function": "wavWriter.WriteSamples",
				"file":     w.f.Name(),
				"error":    err.Error(),
			}).Warn("Failed to write wav samples")
		}
		w.lost += int64(n)
		return 0
	}
	w.frames += int64(n)
	return n
}

// Close patches the header sizes and closes the file.
func (w *wavWriter) Close() error {
	if w.frames == 0 {
		// the encoder writes its header with the first buffer
		w.buf.Data = w.buf.Data[:0]
		if err := w.enc.Write(w.buf); err != nil {
			w.f.Close()
			return fmt.Errorf("failed to write wav header: %w", err)
		}
	}
	if err := w.enc.Close(); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to finalize wav file: %w", err)
	}
	return w.f.Close()
}
