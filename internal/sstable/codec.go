package sstable

import (
	"encoding/binary"
	"fmt"

	"exchanged/pkg/model"
)

// encodeRecord serializes one record as a fixed-layout frame that can be
// read directly out of a memory-mapped byte slice without parsing (spec
// §4.3, "payloads serialized with a zero-copy archive format (fixed
// layout, can be accessed via memory map without parsing)"):
//
//	[ ts:i64 | seq:i64 | kind:u16 | instr_len:u16 | instr | payload_len:u32 | payload ]
func encodeRecord(r model.Record) []byte {
	instr := []byte(r.Instrument)
	buf := make([]byte, 8+8+2+2+len(instr)+4+len(r.Payload))
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.TimestampNs))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.Sequence))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(r.Kind))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(instr)))
	off += 2
	copy(buf[off:], instr)
	off += len(instr)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Payload)))
	off += 4
	copy(buf[off:], r.Payload)
	return buf
}

// decodeRecord parses a frame written by encodeRecord, returning the
// number of bytes consumed so callers can advance through a mapped block.
func decodeRecord(buf []byte) (model.Record, int, error) {
	const minHead = 8 + 8 + 2 + 2
	if len(buf) < minHead {
		return model.Record{}, 0, fmt.Errorf("%w: truncated sstable record header", model.ErrCorruptFile)
	}
	ts := int64(binary.LittleEndian.Uint64(buf[0:8]))
	seq := int64(binary.LittleEndian.Uint64(buf[8:16]))
	kind := model.RecordKind(binary.LittleEndian.Uint16(buf[16:18]))
	instrLen := int(binary.LittleEndian.Uint16(buf[18:20]))
	off := minHead
	if len(buf) < off+instrLen+4 {
		return model.Record{}, 0, fmt.Errorf("%w: truncated sstable instrument/payload length", model.ErrCorruptFile)
	}
	instr := string(buf[off : off+instrLen])
	off += instrLen
	payloadLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+payloadLen {
		return model.Record{}, 0, fmt.Errorf("%w: truncated sstable payload", model.ErrCorruptFile)
	}
	payload := append([]byte(nil), buf[off:off+payloadLen]...)
	off += payloadLen

	rec, err := model.NewRecord(instr, ts, seq, kind, payload)
	if err != nil {
		return model.Record{}, 0, err
	}
	return rec, off, nil
}
