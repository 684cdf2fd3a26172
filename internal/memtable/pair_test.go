package memtable

import (
	"testing"

	"exchanged/pkg/model"
)

func rec(t *testing.T, ts, seq int64, payload string) model.Record {
	t.Helper()
	r, err := model.NewRecord("BTC-USD", ts, seq, model.RecordTickData, []byte(payload))
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return r
}

func TestPairPutGet(t *testing.T) {
	t.Parallel()
	p := NewPair(1 << 20)
	r := rec(t, 100, 1, "a")
	if err := p.Put(r); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := p.Get(r.Key)
	if !ok {
		t.Fatal("expected to find key just put")
	}
	if string(got.Payload) != "a" {
		t.Fatalf("payload = %q, want %q", got.Payload, "a")
	}
}

func TestPairPutRejectsDuplicateKey(t *testing.T) {
	t.Parallel()
	p := NewPair(1 << 20)
	r := rec(t, 100, 1, "a")
	if err := p.Put(r); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := p.Put(r); err == nil {
		t.Fatal("expected error on duplicate key")
	}
}

func TestFreezeMakesActiveHandleImmutable(t *testing.T) {
	t.Parallel()
	p := NewPair(1 << 20)
	r1 := rec(t, 100, 1, "a")
	if err := p.Put(r1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	frozen := p.Freeze()

	r2 := rec(t, 200, 2, "b")
	if err := p.Put(r2); err != nil {
		t.Fatalf("Put after freeze: %v", err)
	}

	if _, ok := frozen.Get(r2.Key); ok {
		t.Fatal("frozen handle must not observe writes made after freeze")
	}
	if _, ok := p.Get(r1.Key); !ok {
		t.Fatal("pair must still find a key from the frozen generation")
	}
	if p.FrozenCount() != 1 {
		t.Fatalf("FrozenCount = %d, want 1", p.FrozenCount())
	}
}

func TestRangeMergesActiveAndFrozenNewestWins(t *testing.T) {
	t.Parallel()
	p := NewPair(1 << 20)

	old := rec(t, 100, 1, "old")
	if err := p.Put(old); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p.Freeze()

	// Same timestamp+kind but a different sequence number collides on Key
	// only if timestamp/sequence/kind match exactly; here we simulate an
	// update to the same logical entity via a later record at a key the
	// range must still return exactly once.
	other := rec(t, 300, 3, "fresh")
	if err := p.Put(other); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got []model.Record
	p.Range(model.Key{TimestampNs: 0}, model.Key{TimestampNs: 1 << 62}, func(r model.Record) bool {
		got = append(got, r)
		return true
	})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(got), got)
	}
	if got[0].TimestampNs != 100 || got[1].TimestampNs != 300 {
		t.Fatalf("range not in key order: %+v", got)
	}
}

func TestArrowRecordMatchesOLTPCount(t *testing.T) {
	t.Parallel()
	p := NewPair(1 << 20)
	for i := int64(0); i < 5; i++ {
		if err := p.Put(rec(t, 100+i, i+1, "x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	frozen := p.Freeze()
	arr := frozen.ArrowRecord(nil)
	defer arr.Release()
	if arr.NumRows() != 5 {
		t.Fatalf("NumRows = %d, want 5", arr.NumRows())
	}
}

func TestShouldFreezeThreshold(t *testing.T) {
	t.Parallel()
	p := NewPair(50)
	if p.ShouldFreeze() {
		t.Fatal("empty table should not need freezing")
	}
	for i := int64(0); i < 10; i++ {
		if err := p.Put(rec(t, 100+i, i+1, "0123456789")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if !p.ShouldFreeze() {
		t.Fatal("expected ShouldFreeze to report true past maxBytes")
	}
}
