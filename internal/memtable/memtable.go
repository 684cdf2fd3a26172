// Package memtable implements the OLTP/OLAP memtable pair (spec §4.2, C2):
// an in-memory ordered structure that absorbs writes ahead of SSTable
// flush. The OLTP side is a concurrent-safe ordered map; the OLAP side
// accumulates the same writes into a columnar batch so cold scans and
// Parquet emission never have to re-read row data.
package memtable

import (
	"sync"

	"github.com/google/btree"

	"exchanged/pkg/model"
)

const defaultBTreeDegree = 32

// less orders records by their storage key (spec §4.3, "Numeric / ordering
// semantics"): timestamp_ns, then sequence, then kind.
func less(a, b model.Record) bool { return a.Key.Less(b.Key) }

// Table is the OLTP representation: a concurrent ordered map optimized for
// per-key writes/reads, backed by github.com/google/btree (spec §4.2,
// "concurrent ordered map (skiplist-like)").
type Table struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[model.Record]
	size int64
}

func newTable() *Table {
	return &Table{tree: btree.NewG(defaultBTreeDegree, less)}
}

// Put inserts a record. Per spec §4.2 the caller guarantees key uniqueness
// via monotonically increasing sequence numbers; Put rejects an exact key
// collision defensively rather than silently overwriting.
func (t *Table) Put(r model.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.tree.Get(r); exists {
		return model.ErrCorruptFile // duplicate key: caller violated the sequence-uniqueness guarantee
	}
	t.tree.ReplaceOrInsert(r)
	t.size += recordSize(r)
	return nil
}

func (t *Table) Get(key model.Key) (model.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	probe := model.Record{Key: key}
	return t.tree.Get(probe)
}

// Ascend calls fn for every record with key in [start, end), in key order,
// stopping early if fn returns false.
func (t *Table) Ascend(start, end model.Key, fn func(model.Record) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.tree.AscendRange(model.Record{Key: start}, model.Record{Key: end}, fn)
}

func (t *Table) SizeBytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

func recordSize(r model.Record) int64 {
	// Key fields (24 bytes) + instrument string + payload, a close enough
	// approximation for freeze-threshold decisions (spec §4.2, "approximate;
	// used to decide freeze").
	return 24 + int64(len(r.Instrument)) + int64(len(r.Payload))
}
