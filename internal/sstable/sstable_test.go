package sstable

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"exchanged/pkg/model"
)

func writeJunkFile(path string) error {
	return os.WriteFile(path, []byte("not an sstable, just junk bytes padded out long enough to pass the length check"), 0o644)
}

func makeRecords(t *testing.T, n int) []model.Record {
	t.Helper()
	recs := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		r, err := model.NewRecord("BTC-USD", int64(1000+i), int64(i+1), model.RecordTickData, []byte{byte(i)})
		if err != nil {
			t.Fatalf("NewRecord: %v", err)
		}
		recs = append(recs, r)
	}
	return recs
}

func TestWriteOpenRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.sst")
	recs := makeRecords(t, 50)

	stats, err := Write(path, recs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if stats.RecordCount != 50 {
		t.Fatalf("RecordCount = %d, want 50", stats.RecordCount)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.MinTimestamp() != 1000 || r.MaxTimestamp() != 1049 {
		t.Fatalf("min/max timestamp = %d/%d, want 1000/1049", r.MinTimestamp(), r.MaxTimestamp())
	}

	target := recs[25]
	if !r.MayContain(target.Key) {
		t.Fatal("MayContain false negative for a key that was written")
	}
	got, ok, err := r.Get(target.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get did not find a key that was written")
	}
	if got.Sequence != target.Sequence {
		t.Fatalf("got sequence %d, want %d", got.Sequence, target.Sequence)
	}
}

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.sst")
	recs := makeRecords(t, 10)
	if _, err := Write(path, recs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	missing := model.Key{TimestampNs: 999999, Sequence: 999999, Kind: model.RecordTickData}
	_, ok, err := r.Get(missing)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected Get to report not-found for an absent key")
	}
}

func TestScanReturnsRangeInOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.sst")
	recs := makeRecords(t, 300) // spans multiple blocks (recordsPerBlock = 256)
	if _, err := Write(path, recs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	start := model.Key{TimestampNs: 1100, Sequence: 101, Kind: model.RecordTickData}
	end := model.Key{TimestampNs: 1200, Sequence: 201, Kind: model.RecordTickData}

	var got []model.Record
	if err := r.Scan(start, end, func(rec model.Record) bool {
		got = append(got, rec)
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("scanned %d records, want 100", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Key.Less(got[i].Key) {
			t.Fatalf("scan not in key order at index %d", i)
		}
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sst")
	if err := writeJunkFile(path); err != nil {
		t.Fatalf("writeJunkFile: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected Open to reject a file with bad magic")
	}
}

func TestGetFailsClosedOnBlockChecksumMismatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.sst")
	recs := makeRecords(t, 10)
	if _, err := Write(path, recs); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[headerSize] ^= 0xFF // flip a byte inside the first data block
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	_, _, err = r.Get(recs[0].Key)
	if !errors.Is(err, model.ErrCorruptFile) {
		t.Fatalf("Get err = %v, want ErrCorruptFile", err)
	}
}
