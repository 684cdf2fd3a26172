package sstable

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/holiman/bloomfilter/v2"

	"exchanged/pkg/model"
)

// keyHash reduces a storage key to the uint64 bloomfilter.Filter.Add/
// Contains expect (spec §4.3, "bloom filter: k=7 hashes, target
// false-positive rate 1%").
func keyHash(k model.Key) uint64 {
	var buf [18]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(k.TimestampNs))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(k.Sequence))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(k.Kind))
	h := fnv.New64a()
	h.Write(buf[:])
	return h.Sum64()
}

func newBloom(expectedItems int) (*bloomfilter.Filter, error) {
	if expectedItems < 1 {
		expectedItems = 1
	}
	return bloomfilter.NewOptimal(uint64(expectedItems), bloomFPRate)
}
