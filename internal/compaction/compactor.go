package compaction

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"exchanged/internal/sstable"
	"exchanged/pkg/metrics"
	"exchanged/pkg/model"
)

// Options configures level thresholds (spec §6.4, "compaction.*").
type Options struct {
	L0MaxFiles      int
	LevelSizeRatio  int
	BaseSizeBytes   int64
	TargetFileBytes int64
	Dir             string
}

func (o *Options) setDefaults() {
	if o.L0MaxFiles <= 0 {
		o.L0MaxFiles = 4
	}
	if o.LevelSizeRatio <= 0 {
		o.LevelSizeRatio = 10
	}
	if o.BaseSizeBytes <= 0 {
		o.BaseSizeBytes = 64 << 20
	}
	if o.TargetFileBytes <= 0 {
		o.TargetFileBytes = 64 << 20
	}
}

// Compactor runs leveled compaction for one instrument's OLTP SSTable set
// (spec §4.4).
type Compactor struct {
	opts     Options
	manifest *Manifest
	metrics  *metrics.Registry
	logger   *slog.Logger
}

func New(opts Options, manifest *Manifest, reg *metrics.Registry, logger *slog.Logger) *Compactor {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{opts: opts, manifest: manifest, metrics: reg, logger: logger.With("component", "compaction")}
}

// OverCapacityLevel returns the lowest level that needs compaction, or -1
// if none do (spec §4.4, "Policy").
func (c *Compactor) OverCapacityLevel() int {
	if len(c.manifest.FilesAtLevel(0)) > c.opts.L0MaxFiles {
		return 0
	}
	for level := 1; level < 16; level++ {
		capBytes := c.opts.BaseSizeBytes
		for i := 0; i < level; i++ {
			capBytes *= int64(c.opts.LevelSizeRatio)
		}
		if c.manifest.LevelSizeBytes(level) > capBytes {
			return level
		}
	}
	return -1
}

// RunOnce performs at most one compaction pass, per the algorithm in spec
// §4.4: pick the oldest over-capacity file at level L and every L+1 file
// whose key range overlaps, k-way merge, dedup by key (newest sequence
// wins), write new L+1 file(s), atomically swap the manifest.
func (c *Compactor) RunOnce() error {
	level := c.OverCapacityLevel()
	if level < 0 {
		return nil
	}
	start := time.Now()

	sourceFiles := c.manifest.FilesAtLevel(level)
	if len(sourceFiles) == 0 {
		return nil
	}
	oldest := sourceFiles[len(sourceFiles)-1] // FilesAtLevel is newest-first
	targetLevel := level + 1
	overlapping := c.overlapping(targetLevel, oldest)

	toMerge := append([]FileMeta{oldest}, overlapping...)
	merged, recordsRead, recordsDropped, err := c.mergeFiles(toMerge)
	if err != nil {
		return err
	}

	newFiles, bytesWritten, err := c.writeLevel(targetLevel, merged)
	if err != nil {
		return err
	}

	var oldIDs []uint32
	for _, f := range toMerge {
		oldIDs = append(oldIDs, f.ID)
	}
	removed := c.manifest.Swap(oldIDs)
	for _, f := range removed {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove compacted file", "path", f.Path, "error", err)
		}
	}

	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.CompactionRecordsRead.Add(float64(recordsRead))
		c.metrics.CompactionRecordsMerged.Add(float64(len(merged)))
		c.metrics.CompactionRecordsDropped.Add(float64(recordsDropped))
		c.metrics.CompactionBytesWritten.Add(float64(bytesWritten))
		c.metrics.CompactionDurationSec.Observe(elapsed.Seconds())
	}
	c.logger.Info("compaction pass complete",
		"level", level, "target_level", targetLevel,
		"files_merged", len(toMerge), "new_files", len(newFiles),
		"records_read", recordsRead, "records_dropped", recordsDropped,
		"bytes_written", humanize.Bytes(uint64(bytesWritten)),
		"duration", elapsed)
	return nil
}

func (c *Compactor) overlapping(level int, f FileMeta) []FileMeta {
	var out []FileMeta
	for _, cand := range c.manifest.FilesAtLevel(level) {
		if cand.MaxTS < f.MinTS || cand.MinTS > f.MaxTS {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// mergeFiles performs the k-way merge: opens every input file, emits each
// distinct key once using the newest (highest-sequence) version (spec
// §4.4, "when two entries share the same key, the newer (later sequence)
// wins and the older is dropped"). A file that fails its block checksum
// is quarantined rather than aborting the pass (spec §4.3, "Failure
// modes": "the compactor quarantines that file and the system raises an
// alert (non-fatal because higher levels can regenerate via re-flush and
// replay)").
func (c *Compactor) mergeFiles(files []FileMeta) ([]model.Record, int64, int64, error) {
	byKey := make(map[model.Key]model.Record)
	var recordsRead int64

	for _, meta := range files {
		r, err := sstable.Open(meta.Path)
		if err != nil {
			if errors.Is(err, model.ErrCorruptFile) {
				c.quarantine(meta, err)
				continue
			}
			return nil, 0, 0, err
		}
		scanErr := r.Scan(model.Key{}, model.Key{TimestampNs: 1 << 62}, func(rec model.Record) bool {
			recordsRead++
			existing, ok := byKey[rec.Key]
			if !ok || rec.Sequence > existing.Sequence {
				byKey[rec.Key] = rec
			}
			return true
		})
		r.Close()
		if scanErr != nil {
			if errors.Is(scanErr, model.ErrCorruptFile) {
				c.quarantine(meta, scanErr)
				continue
			}
			return nil, 0, 0, scanErr
		}
	}

	merged := make([]model.Record, 0, len(byKey))
	for _, rec := range byKey {
		merged = append(merged, rec)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Key.Less(merged[j].Key) })

	dropped := recordsRead - int64(len(merged))
	return merged, recordsRead, dropped, nil
}

// quarantine moves meta's file aside so it is never read again, drops it
// from the manifest, and raises a non-fatal alert. Compaction continues
// without the quarantined file's records; the data it held can be
// regenerated by re-flush and WAL replay.
func (c *Compactor) quarantine(meta FileMeta, cause error) {
	quarantinePath := meta.Path + ".corrupt"
	if err := os.Rename(meta.Path, quarantinePath); err != nil && !os.IsNotExist(err) {
		c.logger.Error("failed to move corrupt sstable aside", "path", meta.Path, "error", err)
	}
	c.manifest.Swap([]uint32{meta.ID})
	if c.metrics != nil {
		c.metrics.CompactionFilesQuarantined.Inc()
	}
	c.logger.Error("alert: quarantined corrupt sstable", "path", meta.Path, "quarantine_path", quarantinePath, "level", meta.Level, "cause", cause)
}

// writeLevel splits merged records into one or more files of at most
// TargetFileBytes, as measured by a per-record estimate of payload length
// plus 32 bytes (a single record over that size gets a file of its own),
// and registers each with the manifest.
func (c *Compactor) writeLevel(level int, merged []model.Record) ([]FileMeta, int64, error) {
	if len(merged) == 0 {
		return nil, 0, nil
	}

	var newFiles []FileMeta
	var totalBytes int64
	batchStart := 0
	approxSize := int64(0)

	flush := func(end int) error {
		if end <= batchStart {
			return nil
		}
		batch := merged[batchStart:end]
		id := fmt.Sprintf("L%d-%020d", level, time.Now().UnixNano()+int64(batchStart))
		path := filepath.Join(c.opts.Dir, id+".sst")
		stats, err := sstable.Write(path, batch)
		if err != nil {
			return err
		}
		r, err := sstable.Open(path)
		if err != nil {
			return err
		}
		fm := c.manifest.Add(level, path, r, stats.BytesWritten)
		r.Close()
		newFiles = append(newFiles, c.manifest.files[fm])
		totalBytes += stats.BytesWritten
		return nil
	}

	for i, rec := range merged {
		recSize := int64(len(rec.Payload)) + 32
		if approxSize > 0 && approxSize+recSize > c.opts.TargetFileBytes {
			if err := flush(i); err != nil {
				return nil, 0, err
			}
			batchStart = i
			approxSize = 0
		}
		approxSize += recSize
	}
	if err := flush(len(merged)); err != nil {
		return nil, 0, err
	}
	return newFiles, totalBytes, nil
}
