// Package sstable implements the C3 on-disk table format (spec §4.3): an
// immutable, sorted file produced from a memtable freeze, readable via
// zero-copy memory map (OLTP) or as Parquet (OLAP), with a bloom filter to
// skip files a key cannot be in.
package sstable

import "exchanged/pkg/model"

// OLTP file layout (spec §4.3, "File layout (both formats)"):
//
//	[ magic:u32 | version:u8 ]
//	[ data blocks, sorted by key: repeated (ts|seq|kind|instr_len|instr|payload_len|payload),
//	  each block trailed by a crc32 of its record bytes ]
//	[ index block: sorted (first_key_of_block -> offset) ]
//	[ bloom filter bytes ]
//	[ footer: index_offset | bloom_offset | bloom_len | record_count |
//	          min_timestamp | max_timestamp | magic ]
const (
	oltpMagic   uint32 = 0x53535401 // "SST1"
	oltpVersion byte   = 1
	headerSize  int    = 4 + 1

	// footerSize: index_offset(8) + bloom_offset(8) + bloom_len(8) +
	// record_count(8) + min_ts(8) + max_ts(8) + magic(4)
	footerSize int = 8*6 + 4

	recordsPerBlock = 256 // entries per data block before a new block starts

	// blockChecksumSize is the trailing crc32 each data block carries over
	// its record bytes (spec §4.3, "Failure modes": checksum mismatch in a
	// block fails the read).
	blockChecksumSize = 4

	bloomFPRate = 0.01
	bloomK      = 7
)

// footer mirrors the trailer written at the end of every OLTP file.
type footer struct {
	indexOffset int64
	bloomOffset int64
	bloomLen    int64
	recordCount int64
	minTS       int64
	maxTS       int64
}

// indexEntry maps a block's first key to its byte offset in the file, used
// for the binary-search step of reader.get (spec §4.3).
type indexEntry struct {
	firstKey model.Key
	offset   int64
	length   int64
}
