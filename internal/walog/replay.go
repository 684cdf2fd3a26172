package walog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"

	"exchanged/pkg/model"
)

// RecordIterator yields replayed records in sequence order. Next returns
// false once the stream is exhausted (clean EOF or a torn tail), at which
// point Err reports the reason (nil for clean EOF).
type RecordIterator struct {
	records []model.Record
	pos     int
	err     error
}

func (it *RecordIterator) Next() (model.Record, bool) {
	if it.pos >= len(it.records) {
		return model.Record{}, false
	}
	r := it.records[it.pos]
	it.pos++
	return r, true
}

func (it *RecordIterator) Err() error { return it.err }

// replaySegment reads every well-formed record from one segment file,
// stopping at the first CRC mismatch or truncated trailer (spec §4.1,
// "Torn-write handling"). A recoverable-gap warning is logged, not raised,
// matching the spec's "non-fatal" failure mode for corrupt mid-file
// records.
func replaySegment(path string, logger *slog.Logger) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open segment %s: %v", model.ErrIOError, path, err)
	}
	defer f.Close()

	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read segment header %s: %v", model.ErrCorruptFile, path, err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != segmentMagic {
		return nil, fmt.Errorf("%w: bad magic in %s", model.ErrCorruptFile, path)
	}
	if hdr[4] != segmentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d in %s", model.ErrCorruptFile, hdr[4], path)
	}

	var out []model.Record
	for {
		head := make([]byte, recordHeadSize)
		n, err := io.ReadFull(f, head)
		if err != nil {
			if errors.Is(err, io.EOF) || (errors.Is(err, io.ErrUnexpectedEOF) && n == 0) {
				return out, nil // clean end of segment
			}
			logger.Warn("recoverable gap: truncated record header", "segment", path, "error", err)
			return out, nil
		}

		length := binary.LittleEndian.Uint32(head[0:4])
		wantCRC := binary.LittleEndian.Uint32(head[4:8])
		seq := int64(binary.LittleEndian.Uint64(head[8:16]))
		ts := int64(binary.LittleEndian.Uint64(head[16:24]))
		kind := model.RecordKind(binary.LittleEndian.Uint16(head[24:26]))

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			logger.Warn("recoverable gap: truncated payload", "segment", path, "error", err)
			return out, nil
		}

		gotCRC := crcOf(head[8:26], payload)
		if gotCRC != wantCRC {
			logger.Warn("recoverable gap: crc mismatch, treating as torn tail", "segment", path, "seq", seq)
			return out, nil
		}

		rec, err := model.NewRecord("", ts, seq, kind, payload)
		if err != nil {
			logger.Warn("recoverable gap: invalid record", "segment", path, "error", err)
			return out, nil
		}
		out = append(out, rec)
	}
}

func crcOf(headTail []byte, payload []byte) uint32 {
	var buf []byte
	buf = append(buf, headTail...)
	buf = append(buf, payload...)
	return crc32.ChecksumIEEE(buf)
}
