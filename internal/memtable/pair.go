package memtable

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"exchanged/pkg/model"
)

// Frozen is a read-only handle produced by Pair.Freeze: its contents never
// change again (spec §4.2, "the frozen handle is read-only and its
// contents do not change").
type Frozen struct {
	oltp *Table
	olap *olapStage
	id   int64
}

func (f *Frozen) Get(key model.Key) (model.Record, bool) { return f.oltp.Get(key) }

func (f *Frozen) Ascend(start, end model.Key, fn func(model.Record) bool) {
	f.oltp.Ascend(start, end, fn)
}

// ArrowRecord lazily materializes the OLAP columnar batch for this frozen
// generation, for consumption by internal/sstable's Parquet writer.
func (f *Frozen) ArrowRecord(pool memory.Allocator) arrow.Record {
	return f.olap.buildRecord(pool)
}

func (f *Frozen) ID() int64 { return f.id }

// Pair is the OLTP+OLAP memtable pair for one instrument (spec §4.2).
// Every Put updates both representations so a reader can use either
// without re-deriving the other.
type Pair struct {
	mu       sync.RWMutex
	active   *Table
	olap     *olapStage
	frozen   []*Frozen // oldest first; Get/Range consult most-recent-first
	nextID   int64
	maxBytes int64
}

// NewPair constructs an empty active generation. maxBytes is advisory,
// used only by ShouldFreeze; callers decide when to actually call Freeze.
func NewPair(maxBytes int64) *Pair {
	return &Pair{
		active:   newTable(),
		olap:     newOlapStage(),
		maxBytes: maxBytes,
	}
}

// Put inserts into the active generation's OLTP table and OLAP stage.
func (p *Pair) Put(r model.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.active.Put(r); err != nil {
		return err
	}
	p.olap.put(r)
	return nil
}

// Get performs a point lookup: active table first, then each frozen table
// in most-recent-first order (spec §4.2, "get(key)").
func (p *Pair) Get(key model.Key) (model.Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if r, ok := p.active.Get(key); ok {
		return r, true
	}
	for i := len(p.frozen) - 1; i >= 0; i-- {
		if r, ok := p.frozen[i].Get(key); ok {
			return r, true
		}
	}
	return model.Record{}, false
}

// Range merges active + all frozen tables over [start, end), de-duplicating
// by key with newer generations masking older ones (spec §4.2, "range").
// The active generation is newest; frozen[len-1] is next-newest, and so on.
func (p *Pair) Range(start, end model.Key, fn func(model.Record) bool) {
	p.mu.RLock()
	tables := make([][]model.Record, 0, len(p.frozen)+1)

	collect := func(ascend func(model.Key, model.Key, func(model.Record) bool)) []model.Record {
		var out []model.Record
		ascend(start, end, func(r model.Record) bool {
			out = append(out, r)
			return true
		})
		return out
	}

	tables = append(tables, collect(p.active.Ascend))
	for i := len(p.frozen) - 1; i >= 0; i-- {
		tables = append(tables, collect(p.frozen[i].Ascend))
	}
	p.mu.RUnlock()

	mergeNewestWins(tables, fn)
}

// mergeNewestWins performs a k-way merge across generations already sorted
// oldest-consulted-last (tables[0] is newest), emitting each distinct key
// once using the value from the newest generation that has it.
func mergeNewestWins(tables [][]model.Record, fn func(model.Record) bool) {
	seen := make(map[model.Key]struct{})
	idx := make([]int, len(tables))
	for {
		var bestKey model.Key
		bestTable := -1
		hasBest := false
		for ti, rows := range tables {
			for idx[ti] < len(rows) {
				k := rows[idx[ti]].Key
				if _, dup := seen[k]; dup {
					idx[ti]++
					continue
				}
				break
			}
			if idx[ti] >= len(rows) {
				continue
			}
			k := rows[idx[ti]].Key
			if !hasBest || k.Less(bestKey) {
				bestKey = k
				bestTable = ti
				hasBest = true
			}
		}
		if !hasBest {
			return
		}
		rec := tables[bestTable][idx[bestTable]]
		seen[bestKey] = struct{}{}
		idx[bestTable]++
		if !fn(rec) {
			return
		}
	}
}

// Freeze atomically makes the current active generation immutable and
// allocates a new empty active (spec §4.2, "freeze()").
func (p *Pair) Freeze() *Frozen {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := &Frozen{oltp: p.active, olap: p.olap.snapshot(), id: p.nextID}
	p.nextID++
	p.active = newTable()
	p.olap = newOlapStage()
	p.frozen = append(p.frozen, f)
	return f
}

// DropFrozen removes a frozen generation once it has been durably flushed
// to an SSTable (called by the storage facade after a successful flush).
func (p *Pair) DropFrozen(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, f := range p.frozen {
		if f.id == id {
			p.frozen = append(p.frozen[:i], p.frozen[i+1:]...)
			return
		}
	}
}

// SizeBytes approximates the active generation's size, used to decide
// freeze (spec §4.2, "size_bytes()").
func (p *Pair) SizeBytes() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.SizeBytes()
}

// ShouldFreeze reports whether the active generation has crossed maxBytes.
func (p *Pair) ShouldFreeze() bool {
	return p.SizeBytes() >= p.maxBytes
}

// FrozenCount reports how many frozen generations are awaiting flush.
func (p *Pair) FrozenCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.frozen)
}
