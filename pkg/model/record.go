// Package model defines the shared data vocabulary for the storage and
// real-time synchronization core: WAL record kinds, storage keys, the
// business snapshot, and notification records. It has no dependencies on
// internal packages so it can be imported by every layer.
package model

import (
	"fmt"
	"hash/crc32"

	"github.com/shopspring/decimal"
)

// RecordKind is the closed set of WAL payload variants (spec §3).
type RecordKind uint16

const (
	RecordAccountCreated RecordKind = iota + 1
	RecordAccountUpdate
	RecordOrderInserted
	RecordOrderUpdate
	RecordTradeExecuted
	RecordTickData
	RecordOrderBookSnapshot
	RecordKLineFinished
	RecordCheckpoint
)

func (k RecordKind) String() string {
	switch k {
	case RecordAccountCreated:
		return "AccountCreated"
	case RecordAccountUpdate:
		return "AccountUpdate"
	case RecordOrderInserted:
		return "OrderInserted"
	case RecordOrderUpdate:
		return "OrderUpdate"
	case RecordTradeExecuted:
		return "TradeExecuted"
	case RecordTickData:
		return "TickData"
	case RecordOrderBookSnapshot:
		return "OrderBookSnapshot"
	case RecordKLineFinished:
		return "KLineFinished"
	case RecordCheckpoint:
		return "Checkpoint"
	default:
		return fmt.Sprintf("RecordKind(%d)", uint16(k))
	}
}

// Key is the ordered storage key tuple (timestamp_ns, sequence, kind).
// Ordering is primary by TimestampNs, Sequence breaks ties, Kind
// disambiguates multiple record kinds observed at the same instant.
type Key struct {
	TimestampNs int64
	Sequence    int64
	Kind        RecordKind
}

// Compare returns -1, 0, or 1 following the lexicographic tuple order
// described in spec §4.3 ("Numeric / ordering semantics").
func (k Key) Compare(other Key) int {
	if k.TimestampNs != other.TimestampNs {
		if k.TimestampNs < other.TimestampNs {
			return -1
		}
		return 1
	}
	if k.Sequence != other.Sequence {
		if k.Sequence < other.Sequence {
			return -1
		}
		return 1
	}
	if k.Kind != other.Kind {
		if k.Kind < other.Kind {
			return -1
		}
		return 1
	}
	return 0
}

func (k Key) Less(other Key) bool { return k.Compare(other) < 0 }

func (k Key) String() string {
	return fmt.Sprintf("%020d-%020d-%d", k.TimestampNs, k.Sequence, k.Kind)
}

// Record is a single WAL/memtable/SSTable entry. Instrument is carried
// out-of-band by the per-instrument storage instance (spec §3, "Per-
// instrument instance"); it is not part of the ordering key.
type Record struct {
	Key         Key
	Instrument  string
	TimestampNs int64
	Sequence    int64
	Kind        RecordKind
	Payload     []byte // encoded payload, kind-specific
}

// NewRecord builds a Record with its key populated from TimestampNs/
// Sequence/Kind; it rejects negative timestamps per spec §4.3.
func NewRecord(instrument string, timestampNs, sequence int64, kind RecordKind, payload []byte) (Record, error) {
	if timestampNs < 0 {
		return Record{}, fmt.Errorf("%w: negative timestamp_ns %d", ErrCorruptFile, timestampNs)
	}
	return Record{
		Key:         Key{TimestampNs: timestampNs, Sequence: sequence, Kind: kind},
		Instrument:  instrument,
		TimestampNs: timestampNs,
		Sequence:    sequence,
		Kind:        kind,
		Payload:     payload,
	}, nil
}

// CRC32 computes the checksum over the record's stable wire representation
// (sequence, timestamp, kind, and payload bytes) — the same fields the WAL
// frame covers in internal/walog.
func (r Record) CRC32() uint32 {
	h := crc32.NewIEEE()
	var buf [24]byte
	putUint64(buf[0:8], uint64(r.Sequence))
	putUint64(buf[8:16], uint64(r.TimestampNs))
	putUint64(buf[16:24], uint64(r.Kind))
	h.Write(buf[:])
	h.Write(r.Payload)
	return h.Sum32()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Dec is a convenience alias so callers don't need to import
// shopspring/decimal directly for simple field construction.
type Dec = decimal.Decimal

// DecFromFloat builds a Dec from a float64 for test/demo convenience.
func DecFromFloat(f float64) Dec { return decimal.NewFromFloat(f) }
