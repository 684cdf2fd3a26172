package storage

import (
	"sort"

	"exchanged/internal/compaction"
	"exchanged/internal/sstable"
	"exchanged/pkg/model"
)

// Get performs the point_get path of spec §4.12: memtables newest-first,
// then level 0 (newest-first, may overlap), then levels 1..N, stopping at
// the first hit. A bloom-filter probe precedes every SSTable read.
func (inst *Instance) Get(key model.Key) (model.Record, bool, error) {
	if r, ok := inst.mem.Get(key); ok {
		return r, true, nil
	}

	snap := inst.manifest.Current()
	levels := groupByLevel(snap.Files)
	maxLevel := 0
	for l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
	}

	for level := 0; level <= maxLevel; level++ {
		files := levels[level]
		sort.Slice(files, func(i, j int) bool { return files[i].ID > files[j].ID }) // newest-first
		for _, meta := range files {
			if key.TimestampNs < meta.MinTS || key.TimestampNs > meta.MaxTS {
				continue
			}
			reader, err := inst.getReader(meta.Path)
			if err != nil {
				return model.Record{}, false, err
			}
			if !reader.MayContain(key) {
				continue
			}
			rec, ok, err := reader.Get(key)
			if err != nil {
				return model.Record{}, false, err
			}
			if ok {
				return rec, true, nil
			}
		}
	}
	return model.Record{}, false, nil
}

// Scan performs the range_scan path of spec §4.12: a k-way merge across
// every memtable generation and every SSTable whose timestamp range
// intersects [start, end), newer versions masking older ones.
func (inst *Instance) Scan(start, end model.Key, fn func(model.Record) bool) error {
	merged := make(map[model.Key]model.Record)

	inst.mem.Range(start, end, func(r model.Record) bool {
		merged[r.Key] = r
		return true
	})

	snap := inst.manifest.Current()
	for _, meta := range snap.Files {
		if meta.MaxTS < start.TimestampNs || meta.MinTS > end.TimestampNs {
			continue
		}
		reader, err := inst.getReader(meta.Path)
		if err != nil {
			return err
		}
		if err := reader.Scan(start, end, func(r model.Record) bool {
			existing, ok := merged[r.Key]
			if !ok || r.Sequence > existing.Sequence {
				merged[r.Key] = r
			}
			return true
		}); err != nil {
			return err
		}
	}

	ordered := make([]model.Record, 0, len(merged))
	for _, r := range merged {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key.Less(ordered[j].Key) })
	for _, r := range ordered {
		if !fn(r) {
			return nil
		}
	}
	return nil
}

// Bucket is one entry of a time-bucketed aggregation (spec §4.12,
// "time_bucketed_aggregate").
type Bucket struct {
	StartNs int64
	Records []model.Record
}

// Aggregator reduces the records within one bucket to a result value
// (e.g. sum, count, OHLC), per spec §4.12.
type Aggregator func(records []model.Record) any

// TimeBucketedAggregate streams [start, end), groups records by
// floor(ts/bucketNs)*bucketNs, and applies agg to each bucket in order.
func (inst *Instance) TimeBucketedAggregate(start, end model.Key, bucketNs int64, agg Aggregator) ([]struct {
	StartNs int64
	Value   any
}, error) {
	buckets := make(map[int64][]model.Record)
	err := inst.Scan(start, end, func(r model.Record) bool {
		bucketStart := (r.TimestampNs / bucketNs) * bucketNs
		buckets[bucketStart] = append(buckets[bucketStart], r)
		return true
	})
	if err != nil {
		return nil, err
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]struct {
		StartNs int64
		Value   any
	}, 0, len(keys))
	for _, k := range keys {
		out = append(out, struct {
			StartNs int64
			Value   any
		}{StartNs: k, Value: agg(buckets[k])})
	}
	return out, nil
}

func groupByLevel(files []compaction.FileMeta) map[int][]compaction.FileMeta {
	out := make(map[int][]compaction.FileMeta)
	for _, f := range files {
		out[f.Level] = append(out[f.Level], f)
	}
	return out
}

func (inst *Instance) getReader(path string) (*sstable.Reader, error) {
	inst.mu.RLock()
	r, ok := inst.openReaders[path]
	inst.mu.RUnlock()
	if ok {
		return r, nil
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if r, ok := inst.openReaders[path]; ok {
		return r, nil
	}
	r, err := sstable.Open(path)
	if err != nil {
		return nil, err
	}
	inst.openReaders[path] = r
	return r, nil
}

// Common aggregators for time_bucketed_aggregate (spec §4.12, "sum, count, ohlc").
func SumAggregator(field func(model.Record) model.Dec) Aggregator {
	return func(records []model.Record) any {
		total := model.DecFromFloat(0)
		for _, r := range records {
			total = total.Add(field(r))
		}
		return total
	}
}

func CountAggregator() Aggregator {
	return func(records []model.Record) any { return len(records) }
}
