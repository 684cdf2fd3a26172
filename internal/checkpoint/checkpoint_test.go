package checkpoint

import (
	"testing"

	"exchanged/pkg/model"
)

func TestCreateLoadLatestRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	accounts := map[string]model.Account{"u1": {Balance: model.DecFromFloat(100.5)}}
	orders := map[string]model.Order{"o1": {Status: model.OrderStatusAlive}}
	positions := map[string]model.Position{"BTC-USD": {VolumeLongToday: model.DecFromFloat(2)}}

	snap, err := m.Create("BTC-USD", 1, 42, accounts, orders, positions, 7)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap.Digest == "" {
		t.Fatal("expected a non-empty digest")
	}

	loaded, ok, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if !ok {
		t.Fatal("expected a checkpoint to be found")
	}
	if loaded.WALSequence != 42 {
		t.Fatalf("WALSequence = %d, want 42", loaded.WALSequence)
	}
	if loaded.Digest != snap.Digest {
		t.Fatalf("digest mismatch after round trip")
	}
}

func TestLoadLatestReturnsNewest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.Create("BTC-USD", 1, 10, nil, nil, nil, 1); err != nil {
		t.Fatalf("Create 1: %v", err)
	}
	if _, err := m.Create("BTC-USD", 2, 20, nil, nil, nil, 2); err != nil {
		t.Fatalf("Create 2: %v", err)
	}
	loaded, ok, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if !ok || loaded.ID != 2 {
		t.Fatalf("expected checkpoint id 2, got %+v ok=%v", loaded, ok)
	}
}

func TestLoadLatestEmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, ok, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if ok {
		t.Fatal("expected no checkpoint in an empty directory")
	}
}
