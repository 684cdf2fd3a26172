package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"exchanged/pkg/model"
)

// Stats summarizes one Write call, surfaced to the compactor for its
// exposed metrics (spec §4.4, "Statistics exposed").
type Stats struct {
	RecordCount int64
	BytesWritten int64
	MinTimestamp int64
	MaxTimestamp int64
}

// Write consumes a sorted (by model.Key) slice of records and produces one
// immutable OLTP SSTable file at path (spec §4.3, "write(sorted_iterator)
// -> file"). Callers are responsible for passing records already in key
// order — memtable.Frozen.Ascend provides that order directly.
func Write(path string, records []model.Record) (Stats, error) {
	var stats Stats
	if len(records) == 0 {
		return stats, fmt.Errorf("%w: cannot write an empty sstable", model.ErrCorruptFile)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return stats, fmt.Errorf("%w: create sstable: %v", model.ErrIOError, err)
	}
	defer f.Close()

	var buf []byte
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], oltpMagic)
	hdr[4] = oltpVersion
	buf = append(buf, hdr[:]...)

	var index []indexEntry
	bloom, err := newBloom(len(records))
	if err != nil {
		return stats, fmt.Errorf("%w: build bloom filter: %v", model.ErrIOError, err)
	}

	minTS, maxTS := records[0].TimestampNs, records[0].TimestampNs
	blockStart := len(buf)
	blockFirstKey := records[0].Key
	countInBlock := 0

	for i, r := range records {
		if r.TimestampNs < minTS {
			minTS = r.TimestampNs
		}
		if r.TimestampNs > maxTS {
			maxTS = r.TimestampNs
		}
		bloom.Add(keyHash(r.Key))

		if countInBlock == 0 {
			blockStart = len(buf)
			blockFirstKey = r.Key
		}
		buf = append(buf, encodeRecord(r)...)
		countInBlock++

		closeBlock := countInBlock >= recordsPerBlock || i == len(records)-1
		if closeBlock {
			checksum := crc32.ChecksumIEEE(buf[blockStart:])
			var crcBuf [blockChecksumSize]byte
			binary.LittleEndian.PutUint32(crcBuf[:], checksum)
			buf = append(buf, crcBuf[:]...)

			index = append(index, indexEntry{
				firstKey: blockFirstKey,
				offset:   int64(blockStart),
				length:   int64(len(buf) - blockStart),
			})
			countInBlock = 0
		}
	}

	indexOffset := int64(len(buf))
	for _, e := range index {
		var entryBuf [8 + 8 + 2 + 8 + 8]byte
		binary.LittleEndian.PutUint64(entryBuf[0:8], uint64(e.firstKey.TimestampNs))
		binary.LittleEndian.PutUint64(entryBuf[8:16], uint64(e.firstKey.Sequence))
		binary.LittleEndian.PutUint16(entryBuf[16:18], uint16(e.firstKey.Kind))
		binary.LittleEndian.PutUint64(entryBuf[18:26], uint64(e.offset))
		binary.LittleEndian.PutUint64(entryBuf[26:34], uint64(e.length))
		buf = append(buf, entryBuf[:]...)
	}
	indexCount := len(index)

	bloomBytes, err := bloom.MarshalBinary()
	if err != nil {
		return stats, fmt.Errorf("%w: marshal bloom filter: %v", model.ErrIOError, err)
	}
	bloomOffset := int64(len(buf))
	buf = append(buf, bloomBytes...)

	var indexCountBuf [8]byte
	binary.LittleEndian.PutUint64(indexCountBuf[:], uint64(indexCount))

	ft := footer{
		indexOffset: indexOffset,
		bloomOffset: bloomOffset,
		bloomLen:    int64(len(bloomBytes)),
		recordCount: int64(len(records)),
		minTS:       minTS,
		maxTS:       maxTS,
	}
	var ftBuf [footerSize]byte
	binary.LittleEndian.PutUint64(ftBuf[0:8], uint64(ft.indexOffset))
	binary.LittleEndian.PutUint64(ftBuf[8:16], uint64(ft.bloomOffset))
	binary.LittleEndian.PutUint64(ftBuf[16:24], uint64(ft.bloomLen))
	binary.LittleEndian.PutUint64(ftBuf[24:32], uint64(ft.recordCount))
	binary.LittleEndian.PutUint64(ftBuf[32:40], uint64(ft.minTS))
	binary.LittleEndian.PutUint64(ftBuf[40:48], uint64(ft.maxTS))
	binary.LittleEndian.PutUint32(ftBuf[48:52], oltpMagic)
	buf = append(buf, ftBuf[:]...)
	// indexCount is recovered from (bloomOffset-indexOffset)/indexEntrySize
	// by the reader; keeping indexCountBuf computed above documents the
	// invariant but nothing further needs to be appended here.
	_ = indexCountBuf

	n, err := f.Write(buf)
	if err != nil {
		return stats, fmt.Errorf("%w: write sstable: %v", model.ErrIOError, err)
	}
	if err := f.Sync(); err != nil {
		return stats, fmt.Errorf("%w: fsync sstable: %v", model.ErrIOError, err)
	}

	stats = Stats{
		RecordCount:  int64(len(records)),
		BytesWritten: int64(n),
		MinTimestamp: minTS,
		MaxTimestamp: maxTS,
	}
	return stats, nil
}
