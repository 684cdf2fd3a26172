package engine

import (
	"testing"
	"time"

	"exchanged/internal/config"
	"exchanged/internal/subscriber"
	"exchanged/pkg/model"
)

// testConfig builds a Config with every field engine.New/Start touches
// set explicitly, since this package cannot reach config's unexported
// setDefaults (only config.Load applies it, as cmd/exchanged/main.go does).
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:     t.TempDir(),
		Instruments: []string{"BTC-USD", "ETH-USD"},
		WAL:         config.WALConfig{FsyncMode: "per_record", SegmentMaxBytes: 1 << 20},
		Memtable:    config.MemtableConfig{MaxBytes: 1 << 20},
		Compaction:  config.CompactionConfig{L0MaxFiles: 4, LevelSizeRatio: 10, BaseSizeBytes: 1 << 20, TargetFileBytes: 1 << 20, Interval: time.Hour},
		Checkpoint:  config.CheckpointConfig{Interval: time.Hour},
		Subscriber:  config.SubscriberConfig{BatchSize: 10, BatchTimeout: 5 * time.Millisecond},
		Broker:      config.BrokerConfig{QueueCapacity: 1000, DedupCacheSize: 1000, DispatchInterval: time.Millisecond},
		Gateway:     config.GatewayConfig{BatchWindow: 10 * time.Millisecond, ReapInterval: time.Hour, IdleTimeout: time.Hour},
		Diffsync:    config.DiffsyncConfig{PeekTimeout: time.Second},
		API:         config.APIConfig{ListenAddr: "127.0.0.1:0"},
	}
}

func TestNewOpensOneInstancePerConfiguredInstrument(t *testing.T) {
	t.Parallel()
	eng, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(eng.Stop)

	if _, ok := eng.Instrument("BTC-USD"); !ok {
		t.Fatal("expected BTC-USD instance to be opened")
	}
	if _, ok := eng.Instrument("ETH-USD"); !ok {
		t.Fatal("expected ETH-USD instance to be opened")
	}
	if _, ok := eng.Instrument("DOGE-USD"); ok {
		t.Fatal("expected unconfigured instrument to be absent")
	}
}

func TestSubmitEventReachesStorage(t *testing.T) {
	t.Parallel()
	eng, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(eng.Stop)

	eng.SubmitEvent(subscriber.Event{
		Instrument:  "BTC-USD",
		TimestampNs: 1000,
		Kind:        model.RecordTickData,
		Payload:     []byte("tick"),
		Priority:    model.PriorityP1,
	})

	inst, ok := eng.Instrument("BTC-USD")
	if !ok {
		t.Fatal("expected BTC-USD instance")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, found, err := inst.Get(model.Key{TimestampNs: 1000, Sequence: 1, Kind: model.RecordTickData})
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if found {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("submitted event never landed in storage")
}

func TestStopClosesAllInstances(t *testing.T) {
	t.Parallel()
	eng, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eng.Stop()

	inst, ok := eng.Instrument("BTC-USD")
	if !ok {
		t.Fatal("expected BTC-USD instance")
	}
	if _, _, err := inst.Get(model.Key{TimestampNs: 1}); err == nil {
		t.Fatal("expected reads against a closed instance to fail")
	}
}
