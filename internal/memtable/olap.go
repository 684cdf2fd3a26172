package memtable

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/tidwall/btree"

	"exchanged/pkg/model"
)

// olapSchema describes the columnar representation every OLAP memtable and
// Parquet SSTable shares: the raw record fields, not the decoded business
// payload, so a cold scan never needs to touch the OLTP row form (spec
// §4.2, "so cold queries can use the columnar form without re-reading row
// data").
var olapSchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp_ns", Type: arrow.PrimitiveTypes.Int64},
	{Name: "sequence", Type: arrow.PrimitiveTypes.Int64},
	{Name: "kind", Type: arrow.PrimitiveTypes.Int32},
	{Name: "instrument", Type: arrow.BinaryTypes.String},
	{Name: "payload", Type: arrow.BinaryTypes.Binary},
}, nil)

// olapStage accumulates writes into a github.com/tidwall/btree ordered
// buffer keyed the same way as the OLTP table, so Freeze can emit one Arrow
// record batch in key order without a separate sort pass. tidwall/btree's
// Copy gives an O(1) copy-on-write snapshot, which is what makes Freeze
// atomic without blocking new writes to the next active stage.
type olapStage struct {
	tree *btree.BTreeG[model.Record]
}

func newOlapStage() *olapStage {
	return &olapStage{tree: btree.NewBTreeG(less)}
}

func (s *olapStage) put(r model.Record) {
	s.tree.Set(r)
}

// snapshot returns a copy-on-write handle safe to hand to a concurrent
// builder while s keeps accepting writes (used by Freeze).
func (s *olapStage) snapshot() *olapStage {
	return &olapStage{tree: s.tree.Copy()}
}

// buildRecord materializes the staged records into one Arrow arrow.Record,
// in key order, for Parquet emission (internal/sstable) or in-memory scans.
func (s *olapStage) buildRecord(pool memory.Allocator) arrow.Record {
	if pool == nil {
		pool = memory.NewGoAllocator()
	}
	tsBuilder := array.NewInt64Builder(pool)
	seqBuilder := array.NewInt64Builder(pool)
	kindBuilder := array.NewInt32Builder(pool)
	instrBuilder := array.NewStringBuilder(pool)
	payloadBuilder := array.NewBinaryBuilder(pool, arrow.BinaryTypes.Binary)
	defer tsBuilder.Release()
	defer seqBuilder.Release()
	defer kindBuilder.Release()
	defer instrBuilder.Release()
	defer payloadBuilder.Release()

	s.tree.Scan(func(r model.Record) bool {
		tsBuilder.Append(r.TimestampNs)
		seqBuilder.Append(r.Sequence)
		kindBuilder.Append(int32(r.Kind))
		instrBuilder.Append(r.Instrument)
		payloadBuilder.Append(r.Payload)
		return true
	})

	cols := []arrow.Array{
		tsBuilder.NewArray(),
		seqBuilder.NewArray(),
		kindBuilder.NewArray(),
		instrBuilder.NewArray(),
		payloadBuilder.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecord(olapSchema, cols, int64(s.tree.Len()))
}
