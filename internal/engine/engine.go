// Package engine is the central orchestrator of the storage and
// real-time synchronization core. It wires together every component:
//
//  1. One storage.Instance per configured instrument (WAL + MemTables +
//     SSTables + compactor + checkpoint manager), recovered on boot.
//  2. A subscriber that batches trading-core events into those instances.
//  3. A broker that routes notifications to gateways by priority.
//  4. A gateway that pushes notifications to subscribed client sessions.
//  5. A diffsync manager maintaining each user's business snapshot.
//  6. An HTTP/WebSocket API server dispatching client frames into 3-5.
//
// Lifecycle: New() -> Start() -> [runs until SIGINT] -> Stop().
// Generalized from the teacher's engine.Engine (ctx/cancel/wg lifecycle,
// goroutine-per-subsystem Start, ordered Stop), substituting
// market-slot reconciliation for per-instrument storage wiring.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"exchanged/internal/api"
	"exchanged/internal/broker"
	"exchanged/internal/compaction"
	"exchanged/internal/config"
	"exchanged/internal/diffsync"
	"exchanged/internal/gateway"
	"exchanged/internal/storage"
	"exchanged/internal/subscriber"
	"exchanged/internal/walog"
	"exchanged/pkg/metrics"
	"exchanged/pkg/model"
)

// primaryGatewayID names the engine's single in-process gateway,
// registered with the broker and wired to the API server's dispatcher.
const primaryGatewayID = "primary"

// StateProvider supplies the account/order/position state a checkpoint
// captures (spec §4.5). That ledger is owned by the trading core, an
// external collaborator out of this spec's scope (mirroring spec
// §4.10's order-router collaborator); NoopStateProvider lets the
// storage core run standalone until one is wired in.
type StateProvider interface {
	AccountsSnapshot(instrument string) map[string]model.Account
	OrdersSnapshot(instrument string) map[string]model.Order
	PositionsSnapshot(instrument string) map[string]model.Position
}

// NoopStateProvider checkpoints empty ledgers.
type NoopStateProvider struct{}

func (NoopStateProvider) AccountsSnapshot(string) map[string]model.Account   { return nil }
func (NoopStateProvider) OrdersSnapshot(string) map[string]model.Order       { return nil }
func (NoopStateProvider) PositionsSnapshot(string) map[string]model.Position { return nil }

// Engine orchestrates every component of the storage/sync core. It owns
// the lifecycle of all goroutines.
type Engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Registry
	promReg *prometheus.Registry

	instances map[string]*storage.Instance

	subscriber *subscriber.Subscriber
	broker     *broker.Broker
	gateway    *gateway.Gateway
	diffsync   *diffsync.Manager
	apiServer  *api.Server

	stateProvider StateProvider
	auth          api.Authenticator
	router        api.OrderRouter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithStateProvider wires the trading core's ledger snapshot source for
// checkpointing (spec §4.5).
func WithStateProvider(p StateProvider) Option {
	return func(e *Engine) { e.stateProvider = p }
}

// WithAuthenticator wires a real credential check for req_login (spec §6.1).
func WithAuthenticator(a api.Authenticator) Option {
	return func(e *Engine) { e.auth = a }
}

// WithOrderRouter wires insert_order/cancel_order to a real matching
// pipeline (spec §4.10).
func WithOrderRouter(r api.OrderRouter) Option {
	return func(e *Engine) { e.router = r }
}

// New wires every component against cfg and recovers every configured
// instrument's storage instance (spec §4.11).
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:           cfg,
		logger:        logger.With("component", "engine"),
		metrics:       m,
		promReg:       promReg,
		instances:     make(map[string]*storage.Instance),
		stateProvider: NoopStateProvider{},
		auth:          api.NewInMemoryAuthenticator(),
		router:        api.NoopOrderRouter{},
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, id := range cfg.Instruments {
		inst, err := storage.Open(storage.Options{
			Instrument: id,
			Dir:        filepath.Join(cfg.DataDir, id),
			WAL: walog.Options{
				FsyncMode:       fsyncModeOf(cfg.WAL.FsyncMode),
				GroupBatchSize:  cfg.WAL.GroupBatchSize,
				GroupTimeout:    cfg.WAL.GroupTimeout,
				SegmentMaxBytes: cfg.WAL.SegmentMaxBytes,
				Logger:          logger,
			},
			MemtableMaxBytes: cfg.Memtable.MaxBytes,
			Compaction: compaction.Options{
				L0MaxFiles:      cfg.Compaction.L0MaxFiles,
				LevelSizeRatio:  cfg.Compaction.LevelSizeRatio,
				BaseSizeBytes:   cfg.Compaction.BaseSizeBytes,
				TargetFileBytes: cfg.Compaction.TargetFileBytes,
			},
			Metrics: m,
			Logger:  logger,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open instrument %s: %w", id, err)
		}
		e.instances[id] = inst
	}

	if err := storage.RecoverAll(ctx, e.instances); err != nil {
		cancel()
		return nil, fmt.Errorf("recover: %w", err)
	}

	sinks := make(map[string]subscriber.Sink, len(e.instances))
	for id, inst := range e.instances {
		sinks[id] = inst
	}
	e.subscriber = subscriber.New(subscriber.Options{
		BatchSize:    cfg.Subscriber.BatchSize,
		BatchTimeout: cfg.Subscriber.BatchTimeout,
	}, sinks, m, logger)

	e.broker = broker.New(broker.Options{
		QueueCapacity:    cfg.Broker.QueueCapacity,
		DedupCacheSize:   cfg.Broker.DedupCacheSize,
		DispatchInterval: cfg.Broker.DispatchInterval,
	}, m, logger)

	e.gateway = gateway.New(primaryGatewayID, gateway.Options{
		BatchWindow:  cfg.Gateway.BatchWindow,
		ReapInterval: cfg.Gateway.ReapInterval,
		IdleTimeout:  cfg.Gateway.IdleTimeout,
	}, m, logger)
	e.broker.RegisterGateway(primaryGatewayID, e.gateway.Inbound())

	e.diffsync = diffsync.New(diffsync.Options{PeekTimeout: cfg.Diffsync.PeekTimeout})

	e.apiServer = api.NewServer(cfg.API, e.gateway, primaryGatewayID, e.broker, e.diffsync, e.auth, e.router, promReg, logger)

	return e, nil
}

func fsyncModeOf(s string) walog.FsyncMode {
	if s == "per_record" {
		return walog.FsyncPerRecord
	}
	return walog.FsyncGroup
}

// Start launches every background goroutine: the checkpoint timer, the
// compaction worker pool, the subscriber/broker/gateway loops, and the
// API server (spec §5, "Scheduling").
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.subscriber.Run()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.broker.Run()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.gateway.Run()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.checkpointLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.compactionLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.apiServer.Start(); err != nil {
			e.logger.Error("api server exited", "error", err)
		}
	}()

	e.logger.Info("engine started", "instruments", len(e.instances))
	return nil
}

// Stop drains and shuts down every subsystem in dependency order:
// client-facing first, then the event pipeline, then storage.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	if err := e.apiServer.Stop(); err != nil {
		e.logger.Error("api server stop failed", "error", err)
	}
	e.gateway.Stop()
	e.broker.Stop()
	e.subscriber.Stop()

	e.cancel()
	e.wg.Wait()

	for id, inst := range e.instances {
		if err := inst.Close(); err != nil {
			e.logger.Error("failed to close instrument", "instrument", id, "error", err)
		}
	}

	e.logger.Info("shutdown complete")
}

// checkpointLoop runs one checkpoint timer shared by every instrument
// (spec §5, "One checkpoint timer").
func (e *Engine) checkpointLoop() {
	ticker := time.NewTicker(e.cfg.Checkpoint.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.checkpointAll()
		}
	}
}

func (e *Engine) checkpointAll() {
	id := time.Now().UnixNano()
	for instrument, inst := range e.instances {
		accounts := e.stateProvider.AccountsSnapshot(instrument)
		orders := e.stateProvider.OrdersSnapshot(instrument)
		positions := e.stateProvider.PositionsSnapshot(instrument)
		if err := inst.Checkpoint(id, accounts, orders, positions); err != nil {
			e.logger.Error("checkpoint failed", "instrument", instrument, "error", err)
		}
	}
}

// compactionLoop drives a fixed-size worker pool over every instrument
// on each tick (spec §5, "One background worker pool for MemTable flush
// and compaction").
func (e *Engine) compactionLoop() {
	ticker := time.NewTicker(e.cfg.Compaction.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.compactAll()
		}
	}
}

func (e *Engine) compactAll() {
	g, _ := errgroup.WithContext(e.ctx)
	g.SetLimit(runtime.NumCPU())
	for instrument, inst := range e.instances {
		instrument, inst := instrument, inst
		g.Go(func() error {
			if err := inst.RunCompaction(); err != nil {
				e.logger.Error("compaction failed", "instrument", instrument, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// SubmitEvent is the trading core's entry point for pushing a
// storage-bound event into the subscriber (spec §4.7).
func (e *Engine) SubmitEvent(ev subscriber.Event) {
	e.subscriber.Submit(ev)
}

// Publish is the trading core's entry point for routing a notification
// through the broker to gateways and subscribers (spec §4.8).
func (e *Engine) Publish(n model.Notification) {
	e.broker.Publish(n)
}

// PublishQuote is the trading core's entry point for broadcasting a tick
// update to every user currently subscribed to that instrument (spec §3's
// snapshot schema, "quotes"; spec §4.10, "Quote subscription").
func (e *Engine) PublishQuote(q model.Quote) {
	e.diffsync.BroadcastQuote(q)
}

// Instrument returns the storage instance for an instrument, for
// read-only query tooling (spec §4.12, §6.2).
func (e *Engine) Instrument(id string) (*storage.Instance, bool) {
	inst, ok := e.instances[id]
	return inst, ok
}

// Diffsync exposes the snapshot manager to HTTP admin endpoints (spec §6.2).
func (e *Engine) Diffsync() *diffsync.Manager { return e.diffsync }

// MetricsRegistry exposes the Prometheus registry backing /metrics (spec §6.2).
func (e *Engine) MetricsRegistry() *prometheus.Registry { return e.promReg }
