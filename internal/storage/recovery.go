package storage

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"exchanged/pkg/model"
)

// Recover implements the per-instrument recovery orchestrator (spec
// §4.11, C11): load the latest checkpoint, replay the WAL tail, and
// rebuild the memtable. Replay is idempotent because producers always
// carry absolute new values for account/position records, so re-applying
// a record yields the same state.
func (inst *Instance) Recover() error {
	snap, ok, err := inst.checkpointMgr.LoadLatest()
	if err != nil {
		return err
	}

	fromSeq := int64(0)
	if ok {
		fromSeq = snap.WALSequence + 1
	}

	it, err := inst.wal.ReplayFrom(fromSeq)
	if err != nil {
		return err
	}
	for {
		rec, more := it.Next()
		if !more {
			break
		}
		if err := inst.mem.Put(rec); err != nil {
			// A duplicate key during replay is expected when the WAL
			// contains a record already folded into the checkpoint's
			// starting generation; skip rather than fail recovery.
			if errIsDuplicateKey(err) {
				continue
			}
			return err
		}
	}
	return it.Err()
}

func errIsDuplicateKey(err error) bool {
	return err == model.ErrCorruptFile
}

// RecoverAll fans recovery out across every instrument concurrently,
// bounded by GOMAXPROCS (spec §4.11 + spec's "fixed worker pool" note).
func RecoverAll(ctx context.Context, instances map[string]*Instance) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			return inst.Recover()
		})
	}
	return g.Wait()
}
