package walog

import (
	"testing"
	"time"

	"exchanged/pkg/model"
)

func openTestWAL(t *testing.T, mode FsyncMode) *WAL {
	t.Helper()
	dir := t.TempDir()
	w, err := Open(Options{
		Dir:             dir,
		FsyncMode:       mode,
		GroupBatchSize:  4,
		GroupTimeout:    5 * time.Millisecond,
		SegmentMaxBytes: 1 << 20,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	t.Parallel()
	w := openTestWAL(t, FsyncPerRecord)

	var seqs []int64
	for i := 0; i < 5; i++ {
		seq, err := w.Append("BTC-USD", int64(1000+i), model.RecordTickData, []byte("payload"))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		seqs = append(seqs, seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("sequence not strictly increasing: %v", seqs)
		}
	}
}

func TestAppendReplayRoundTrip(t *testing.T) {
	t.Parallel()
	w := openTestWAL(t, FsyncPerRecord)

	const n = 10
	for i := 0; i < n; i++ {
		if _, err := w.Append("ETH-USD", int64(2000+i), model.RecordOrderUpdate, []byte{byte(i)}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	it, err := w.ReplayFrom(1)
	if err != nil {
		t.Fatalf("ReplayFrom: %v", err)
	}
	count := 0
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		if int(rec.Payload[0]) != count {
			t.Fatalf("record %d payload mismatch: got %v", count, rec.Payload)
		}
		count++
	}
	if count != n {
		t.Fatalf("replayed %d records, want %d", count, n)
	}
	if it.Err() != nil {
		t.Fatalf("unexpected iterator error: %v", it.Err())
	}
}

func TestReplayFromMidSequence(t *testing.T) {
	t.Parallel()
	w := openTestWAL(t, FsyncPerRecord)
	for i := 0; i < 10; i++ {
		if _, err := w.Append("BTC-USD", int64(3000+i), model.RecordTickData, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	it, err := w.ReplayFrom(6)
	if err != nil {
		t.Fatalf("ReplayFrom: %v", err)
	}
	var seqs []int64
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		seqs = append(seqs, r.Sequence)
	}
	if len(seqs) != 5 {
		t.Fatalf("got %d records, want 5: %v", len(seqs), seqs)
	}
	if seqs[0] != 6 {
		t.Fatalf("first replayed sequence = %d, want 6", seqs[0])
	}
}

func TestGroupCommitFlushesOnBatchSize(t *testing.T) {
	t.Parallel()
	// A group timeout far past the test deadline leaves the batch size as
	// the only trigger that can release the waiting appends.
	w, err := Open(Options{Dir: t.TempDir(), FsyncMode: FsyncGroup, GroupBatchSize: 4, GroupTimeout: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	// Fill the batch from concurrent appenders so the group-commit path
	// flushes without waiting on the timer.
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(ts int64) {
			_, err := w.Append("BTC-USD", ts, model.RecordTickData, nil)
			done <- err
		}(int64(i + 1))
	}

	for i := 0; i < 4; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Append returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Append did not return after batch filled")
		}
	}
}

func TestTruncateBeforeKeepsNewestSegment(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, FsyncMode: FsyncPerRecord, SegmentMaxBytes: 200})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	for i := 0; i < 50; i++ {
		if _, err := w.Append("BTC-USD", int64(i), model.RecordTickData, make([]byte, 32)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	high := w.HighestSequence()
	if err := w.TruncateBefore(high); err != nil {
		t.Fatalf("TruncateBefore: %v", err)
	}

	it, err := w.ReplayFrom(1)
	if err != nil {
		t.Fatalf("ReplayFrom after truncate: %v", err)
	}
	var last model.Record
	found := false
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		last = r
		found = true
	}
	if !found || last.Sequence != high {
		t.Fatalf("expected to still find sequence %d after truncate, last=%+v found=%v", high, last, found)
	}
}

func TestNewRecordRejectsNegativeTimestamp(t *testing.T) {
	t.Parallel()
	w := openTestWAL(t, FsyncPerRecord)
	if _, err := w.Append("BTC-USD", -1, model.RecordTickData, nil); err == nil {
		t.Fatal("expected error for negative timestamp")
	}
	// Sequence counter must not have been consumed by the rejected record.
	seq, err := w.Append("BTC-USD", 1, model.RecordTickData, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 1 {
		t.Fatalf("sequence = %d, want 1 (rejected record must not consume a sequence number)", seq)
	}
}
