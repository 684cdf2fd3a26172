package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
	"github.com/holiman/bloomfilter/v2"

	"exchanged/pkg/model"
)

const indexEntrySize = 8 + 8 + 2 + 8 + 8

// Reader is an open, memory-mapped OLTP SSTable (spec §4.3, "open(path) ->
// reader"). Lookups read directly out of the mapped bytes; nothing is
// copied into Go-managed memory until decodeRecord builds the returned
// model.Record.
type Reader struct {
	file   *os.File
	data   mmap.MMap
	index  []indexEntry
	bloom  *bloomfilter.Filter
	ft     footer
	closed bool
}

// Open maps path into memory and parses its footer and index (spec §4.3).
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sstable %s: %v", model.ErrIOError, path, err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap sstable %s: %v", model.ErrIOError, path, err)
	}

	r := &Reader{file: f, data: data}
	if err := r.parseFooter(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.parseIndex(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.parseBloom(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parseFooter() error {
	if len(r.data) < headerSize+footerSize {
		return fmt.Errorf("%w: sstable too short for footer", model.ErrCorruptFile)
	}
	magic := binary.LittleEndian.Uint32(r.data[0:4])
	if magic != oltpMagic {
		return fmt.Errorf("%w: bad sstable magic", model.ErrCorruptFile)
	}
	if r.data[4] != oltpVersion {
		return fmt.Errorf("%w: unsupported sstable version %d", model.ErrCorruptFile, r.data[4])
	}

	ftStart := len(r.data) - footerSize
	ft := r.data[ftStart:]
	footerMagic := binary.LittleEndian.Uint32(ft[48:52])
	if footerMagic != oltpMagic {
		return fmt.Errorf("%w: bad sstable footer magic", model.ErrCorruptFile)
	}
	r.ft = footer{
		indexOffset: int64(binary.LittleEndian.Uint64(ft[0:8])),
		bloomOffset: int64(binary.LittleEndian.Uint64(ft[8:16])),
		bloomLen:    int64(binary.LittleEndian.Uint64(ft[16:24])),
		recordCount: int64(binary.LittleEndian.Uint64(ft[24:32])),
		minTS:       int64(binary.LittleEndian.Uint64(ft[32:40])),
		maxTS:       int64(binary.LittleEndian.Uint64(ft[40:48])),
	}
	return nil
}

func (r *Reader) parseIndex() error {
	raw := r.data[r.ft.indexOffset:r.ft.bloomOffset]
	if len(raw)%indexEntrySize != 0 {
		return fmt.Errorf("%w: malformed sstable index", model.ErrCorruptFile)
	}
	count := len(raw) / indexEntrySize
	r.index = make([]indexEntry, 0, count)
	for i := 0; i < count; i++ {
		e := raw[i*indexEntrySize:]
		r.index = append(r.index, indexEntry{
			firstKey: model.Key{
				TimestampNs: int64(binary.LittleEndian.Uint64(e[0:8])),
				Sequence:    int64(binary.LittleEndian.Uint64(e[8:16])),
				Kind:        model.RecordKind(binary.LittleEndian.Uint16(e[16:18])),
			},
			offset: int64(binary.LittleEndian.Uint64(e[18:26])),
			length: int64(binary.LittleEndian.Uint64(e[26:34])),
		})
	}
	return nil
}

func (r *Reader) parseBloom() error {
	raw := r.data[r.ft.bloomOffset : r.ft.bloomOffset+r.ft.bloomLen]
	f := &bloomfilter.Filter{}
	if err := f.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("%w: unmarshal bloom filter: %v", model.ErrCorruptFile, err)
	}
	r.bloom = f
	return nil
}

// MayContain is a zero-I/O bloom-filter probe (spec §4.3,
// "reader.may_contain(key) -> bool").
func (r *Reader) MayContain(key model.Key) bool {
	return r.bloom.Contains(keyHash(key))
}

// MinTimestamp / MaxTimestamp come from footer stats and let callers prune
// whole files without opening them (spec §4.3).
func (r *Reader) MinTimestamp() int64 { return r.ft.minTS }
func (r *Reader) MaxTimestamp() int64 { return r.ft.maxTS }
func (r *Reader) RecordCount() int64  { return r.ft.recordCount }

// verifiedBlock returns entry's record bytes with the trailing block crc32
// checked, failing closed per spec §4.3 ("Checksum mismatch in a block ->
// read fails").
func (r *Reader) verifiedBlock(entry indexEntry) ([]byte, error) {
	raw := r.data[entry.offset : entry.offset+entry.length]
	if len(raw) < blockChecksumSize {
		return nil, fmt.Errorf("%w: sstable block too short for checksum", model.ErrCorruptFile)
	}
	block := raw[:len(raw)-blockChecksumSize]
	want := binary.LittleEndian.Uint32(raw[len(raw)-blockChecksumSize:])
	if got := crc32.ChecksumIEEE(block); got != want {
		return nil, fmt.Errorf("%w: sstable block checksum mismatch (got %x, want %x)", model.ErrCorruptFile, got, want)
	}
	return block, nil
}

// Get performs an index binary search followed by a data-block read via
// the memory map (spec §4.3, "reader.get(key) -> Option<value>"). It does
// not consult the bloom filter; callers should call MayContain first.
func (r *Reader) Get(key model.Key) (model.Record, bool, error) {
	blockIdx := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].firstKey.Compare(key) > 0
	}) - 1
	if blockIdx < 0 {
		return model.Record{}, false, nil
	}
	entry := r.index[blockIdx]
	block, err := r.verifiedBlock(entry)
	if err != nil {
		return model.Record{}, false, err
	}

	off := 0
	for off < len(block) {
		rec, n, err := decodeRecord(block[off:])
		if err != nil {
			return model.Record{}, false, err
		}
		if rec.Key == key {
			return rec, true, nil
		}
		off += n
	}
	return model.Record{}, false, nil
}

// Scan performs sequential block reads over [start, end) (spec §4.3,
// "reader.scan(start, end) -> iterator<value>").
func (r *Reader) Scan(start, end model.Key, fn func(model.Record) bool) error {
	startBlock := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].firstKey.Compare(start) > 0
	}) - 1
	if startBlock < 0 {
		startBlock = 0
	}
	for bi := startBlock; bi < len(r.index); bi++ {
		entry := r.index[bi]
		if entry.firstKey.Compare(end) >= 0 {
			break
		}
		block, err := r.verifiedBlock(entry)
		if err != nil {
			return err
		}
		off := 0
		for off < len(block) {
			rec, n, err := decodeRecord(block[off:])
			if err != nil {
				return err
			}
			off += n
			if rec.Key.Compare(start) < 0 {
				continue
			}
			if rec.Key.Compare(end) >= 0 {
				return nil
			}
			if !fn(rec) {
				return nil
			}
		}
	}
	return nil
}

func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if r.data != nil {
		err = r.data.Unmap()
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
