// Package storage implements the hybrid storage facade (spec §4.6, C6),
// the recovery orchestrator (spec §4.11, C11), and the query engine (spec
// §4.12, C12). One Instance owns everything for a single instrument: its
// own WAL file series, active+frozen memtables, SSTable manifest, and
// compaction/checkpoint state (spec §3, "Per-instrument instance").
package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"exchanged/internal/checkpoint"
	"exchanged/internal/compaction"
	"exchanged/internal/memtable"
	"exchanged/internal/sstable"
	"exchanged/internal/walog"
	"exchanged/pkg/metrics"
	"exchanged/pkg/model"
)

// Options configures one Instance (spec §6.4 config keys, scoped per instrument).
type Options struct {
	Instrument      string
	Dir             string
	WAL             walog.Options
	MemtableMaxBytes int64
	Compaction      compaction.Options
	Metrics         *metrics.Registry
	Logger          *slog.Logger
}

// Instance is the single write/read entry point for one instrument (spec §4.6).
type Instance struct {
	instrument string
	dir        string

	wal      *walog.WAL
	mem      *memtable.Pair
	manifest *compaction.Manifest
	compactor *compaction.Compactor
	checkpointMgr *checkpoint.Manager

	sstDir string

	mu           sync.RWMutex
	openReaders  map[string]*sstable.Reader

	metrics *metrics.Registry
	logger  *slog.Logger
}

// Open wires a fresh Instance: WAL, memtable pair, manifest, compactor,
// checkpoint manager. It does not perform recovery; call Recover after Open.
func Open(opts Options) (*Instance, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "storage", "instrument", opts.Instrument)

	walDir := filepath.Join(opts.Dir, "wal")
	sstDir := filepath.Join(opts.Dir, "sst")
	ckptDir := filepath.Join(opts.Dir, "checkpoint")

	opts.WAL.Dir = walDir
	opts.WAL.Logger = logger
	w, err := walog.Open(opts.WAL)
	if err != nil {
		return nil, err
	}

	ckptMgr, err := checkpoint.Open(ckptDir)
	if err != nil {
		return nil, err
	}

	manifest := compaction.NewManifest()
	opts.Compaction.Dir = sstDir
	compactor := compaction.New(opts.Compaction, manifest, opts.Metrics, logger)

	inst := &Instance{
		instrument:    opts.Instrument,
		dir:           opts.Dir,
		wal:           w,
		mem:           memtable.NewPair(opts.MemtableMaxBytes),
		manifest:      manifest,
		compactor:     compactor,
		checkpointMgr: ckptMgr,
		sstDir:        sstDir,
		openReaders:   make(map[string]*sstable.Reader),
		metrics:       opts.Metrics,
		logger:        logger,
	}
	return inst, nil
}

// Write is the single write entry point (spec §4.6, "write(record)"):
// append to WAL, update both memtable representations, and freeze+flush
// asynchronously once the active generation crosses its size threshold.
func (inst *Instance) Write(timestampNs int64, kind model.RecordKind, payload []byte) (int64, error) {
	seq, err := inst.wal.Append(inst.instrument, timestampNs, kind, payload)
	if err != nil {
		return 0, err
	}
	rec, err := model.NewRecord(inst.instrument, timestampNs, seq, kind, payload)
	if err != nil {
		return 0, err
	}
	if err := inst.mem.Put(rec); err != nil {
		return 0, err
	}
	if inst.mem.ShouldFreeze() {
		go inst.flushOldest()
	}
	return seq, nil
}

// flushOldest freezes the active generation and writes it out as a new
// level-0 SSTable (spec §4.1/§4.2, "asynchronously freeze + schedule flush").
func (inst *Instance) flushOldest() {
	frozen := inst.mem.Freeze()
	var recs []model.Record
	frozen.Ascend(model.Key{}, model.Key{TimestampNs: 1 << 62}, func(r model.Record) bool {
		recs = append(recs, r)
		return true
	})
	if len(recs) == 0 {
		inst.mem.DropFrozen(frozen.ID())
		return
	}

	path := filepath.Join(inst.sstDir, fmt.Sprintf("l0-%020d.sst", frozen.ID()))
	stats, err := sstable.Write(path, recs)
	if err != nil {
		inst.logger.Error("flush failed", "error", err)
		return
	}
	r, err := sstable.Open(path)
	if err != nil {
		inst.logger.Error("reopen flushed sstable failed", "error", err)
		return
	}
	inst.manifest.Add(0, path, r, stats.BytesWritten)

	inst.mu.Lock()
	inst.openReaders[path] = r
	inst.mu.Unlock()

	inst.mem.DropFrozen(frozen.ID())
}

// RunCompaction triggers one compaction pass (called by the engine's
// fixed-size worker pool on a timer, per spec §5's "One background worker
// pool for MemTable flush and compaction").
func (inst *Instance) RunCompaction() error {
	return inst.compactor.RunOnce()
}

// Checkpoint captures current state and truncates the WAL prefix it makes
// redundant (spec §4.5, "Interaction with WAL").
func (inst *Instance) Checkpoint(id int64, accounts map[string]model.Account, orders map[string]model.Order, positions map[string]model.Position) error {
	seq := inst.wal.HighestSequence()
	snap, err := inst.checkpointMgr.Create(inst.instrument, id, seq, accounts, orders, positions, inst.manifest.Current().Version)
	if err != nil {
		return err
	}
	return inst.wal.TruncateBefore(snap.WALSequence)
}

// Close flushes and releases all resources.
func (inst *Instance) Close() error {
	inst.mu.Lock()
	for _, r := range inst.openReaders {
		r.Close()
	}
	inst.mu.Unlock()
	return inst.wal.Close()
}
