package avi

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/sirupsen/logrus"
)

const (
	// firstVideoSearchLimit is how many idx1 records are searched for the first video record.
	firstVideoSearchLimit = 100
	scanBufferSize        = 64 << 10
)

var (
	jpegSOI        = []byte{0xFF, 0xD8}
	mpegStartCode3 = []byte{0x00, 0x00, 0x01}
)

// buildIndex fills the chunk tables from idx1 when its offsets resolve and
// falls back to a linear movi scan otherwise.
func (r *Reader) buildIndex() error {
	if r.moviStart == 0 {
		return nil
	}

	if r.hasIdx1 {
		ok, err := r.indexFromIdx1()
		if err == nil && ok && len(r.index.Frames) > 0 {
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "buildIndex",
			"file":     r.filename,
			"error":    err,
		}).Warn("idx1 unusable, scanning movi")
	}

	return r.scanMovi()
}

// indexFromIdx1 resolves idx1 records to payload positions. It reports
// false when no offset base could be established.
func (r *Reader) indexFromIdx1() (bool, error) {
	count := int(r.idx1Size / indexEntrySize)
	if count == 0 {
		return false, nil
	}

	head := make([]byte, min(count, firstVideoSearchLimit)*indexEntrySize)
	if _, err := r.ReadAt(head, r.idx1Pos); err != nil {
		return false, &AVIError{Op: "read idx1", Err: err}
	}

	var first *IndexEntry
	for off := 0; off+indexEntrySize <= len(head); off += indexEntrySize {
		entry := decodeIndexEntry(head[off:])
		if r.isSelectedVideo(entry.ChunkID) {
			first = &entry
			break
		}
	}
	if first == nil {
		return false, nil
	}

	base, skip, ok := r.probeIndexBase(*first)
	if !ok {
		return false, nil
	}

	r.index = Index{Source: IndexFromIdx1, Base: base, HeaderSkip: skip}

	if _, err := r.r.Seek(r.idx1Pos, io.SeekStart); err != nil {
		return false, &AVIError{Op: "seek idx1", Err: err}
	}
	br := bufio.NewReaderSize(r.r, scanBufferSize)
	var rec [indexEntrySize]byte
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			r.index.Truncated = true
			break
		}
		entry := decodeIndexEntry(rec[:])
		stream, kind, ok := ParseChunkTag(entry.ChunkID)
		if !ok || !r.selected(stream, kind) {
			continue
		}
		pos := base + int64(entry.Offset) + skip
		if pos < 0 || pos > int64(^uint32(0)) {
			continue
		}
		if !r.appendRef(kind, ChunkRef{Offset: uint32(pos), Size: entry.Size}) {
			break
		}
	}

	return true, nil
}

// probeIndexBase finds the base idx1 offsets are relative to. Candidates
// are tried in priority order: movi data start, absolute, movi fourcc.
// A candidate validates when it lands on a chunk header with the record's
// tag and length. When none does, a codec start marker right at or after
// the resolved position is accepted instead.
func (r *Reader) probeIndexBase(entry IndexEntry) (base, skip int64, ok bool) {
	candidates := []int64{r.moviStart, 0, r.moviStart - 4}
	found := -1
	for i, b := range candidates {
		if !r.chunkHeaderMatches(b+int64(entry.Offset), entry) {
			continue
		}
		if found < 0 {
			found = i
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "probeIndexBase",
			"chosen":   candidates[found],
			"also":     b,
		}).Warn("Ambiguous idx1 offset base, keeping the first candidate")
		break
	}
	if found >= 0 {
		return candidates[found], 8, true
	}

	for _, b := range []int64{r.moviStart, 0} {
		for _, s := range []int64{8, 0} {
			if r.startsWithUnitMarker(b + int64(entry.Offset) + s) {
				logrus.WithFields(logrus.Fields{
					"function": "probeIndexBase",
					"base":     b,
					"skip":     s,
				}).Debug("idx1 base found by codec start marker")
				return b, s, true
			}
		}
	}
	return 0, 0, false
}

func (r *Reader) chunkHeaderMatches(pos int64, entry IndexEntry) bool {
	if pos < 0 || pos+8 > r.fileSize {
		return false
	}
	header, err := r.readChunkHeaderAt(pos)
	if err != nil {
		return false
	}
	gotStream, gotKind, ok := ParseChunkTag(header.ID)
	if !ok {
		return false
	}
	wantStream, wantKind, _ := ParseChunkTag(entry.ChunkID)
	return gotStream == wantStream && gotKind == wantKind && header.Size == entry.Size
}

func (r *Reader) startsWithUnitMarker(pos int64) bool {
	if pos < 0 || pos+3 > r.fileSize {
		return false
	}
	var buf [3]byte
	if _, err := r.ReadAt(buf[:], pos); err != nil {
		return false
	}
	return bytes.HasPrefix(buf[:], jpegSOI) || bytes.Equal(buf[:], mpegStartCode3)
}

// scanMovi walks [moviStart, moviEnd) chunk by chunk. rec lists are
// descended into, every other list and unknown chunk is skipped.
func (r *Reader) scanMovi() error {
	r.index = Index{Source: IndexFromScan}

	if _, err := r.r.Seek(r.moviStart, io.SeekStart); err != nil {
		return &AVIError{Op: "seek movi", Err: err}
	}
	br := bufio.NewReaderSize(r.r, scanBufferSize)

	pos := r.moviStart
	var hdr [8]byte
	for pos+8 <= r.moviEnd {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			r.index.Truncated = true
			break
		}
		header := ReadChunkHeader(hdr[:])
		pos += 8

		if ChunkIDToString(header.ID) == LISTSignature {
			var listType [4]byte
			if header.Size < 4 {
				break
			}
			if _, err := io.ReadFull(br, listType[:]); err != nil {
				r.index.Truncated = true
				break
			}
			pos += 4
			if string(listType[:]) == RECList {
				continue
			}
			rest := int64(AlignSize(header.Size)) - 4
			if _, err := br.Discard(int(rest)); err != nil {
				r.index.Truncated = true
				break
			}
			pos += rest
			continue
		}

		if pos+int64(header.Size) > r.moviEnd {
			r.index.Truncated = true
			break
		}
		if stream, kind, ok := ParseChunkTag(header.ID); ok && r.selected(stream, kind) {
			if !r.appendRef(kind, ChunkRef{Offset: uint32(pos), Size: header.Size}) {
				break
			}
		}

		step := int64(AlignSize(header.Size))
		if _, err := br.Discard(int(step)); err != nil {
			// last chunk without its pad byte
			break
		}
		pos += step
	}

	logrus.WithFields(logrus.Fields{
		"function":  "scanMovi",
		"frames":    len(r.index.Frames),
		"audio":     len(r.index.Audio),
		"truncated": r.index.Truncated,
	}).Debug("movi scan complete")

	return nil
}

// appendRef adds a resolved chunk to its table. It returns false when the
// chunk runs past the end of the file, which ends indexing.
func (r *Reader) appendRef(kind ChunkKind, ref ChunkRef) bool {
	if ref.End() > r.fileSize {
		r.index.Truncated = true
		return false
	}

	switch kind {
	case ChunkVideo:
		if len(r.index.Frames) >= r.opts.MaxEntries {
			r.index.Truncated = true
			return true
		}
		r.index.Frames = append(r.index.Frames, ref)
	case ChunkAudio:
		if ref.Size == 0 {
			return true
		}
		if len(r.index.Audio) >= r.opts.MaxEntries {
			r.index.Truncated = true
			return true
		}
		r.index.Audio = append(r.index.Audio, ref)
	}
	return true
}

func (r *Reader) selected(stream int, kind ChunkKind) bool {
	switch kind {
	case ChunkVideo:
		return stream == r.videoStream
	case ChunkAudio:
		return r.audioStream >= 0 && stream == r.audioStream
	}
	return false
}

func (r *Reader) isSelectedVideo(id [4]byte) bool {
	stream, kind, ok := ParseChunkTag(id)
	return ok && kind == ChunkVideo && stream == r.videoStream
}

func decodeIndexEntry(b []byte) IndexEntry {
	var e IndexEntry
	copy(e.ChunkID[:], b[0:4])
	e.Flags = binary.LittleEndian.Uint32(b[4:8])
	e.Offset = binary.LittleEndian.Uint32(b[8:12])
	e.Size = binary.LittleEndian.Uint32(b[12:16])
	return e
}
