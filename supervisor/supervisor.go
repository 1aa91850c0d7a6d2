// Package supervisor owns the daemon's process lifecycle: it spawns the
// router I/O pumps, the reader worker pool, and the contents worker as a
// structured task group where any child's failure cancels every sibling and
// becomes the process's exit cause.
package supervisor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/WhereSoftwareGoesToDie/vaultaire/daymap"
	"github.com/WhereSoftwareGoesToDie/vaultaire/directory"
	"github.com/WhereSoftwareGoesToDie/vaultaire/ingest/log"
	"github.com/WhereSoftwareGoesToDie/vaultaire/store"
	"github.com/WhereSoftwareGoesToDie/vaultaire/telemetry"
	"github.com/WhereSoftwareGoesToDie/vaultaire/transport"
	"github.com/WhereSoftwareGoesToDie/vaultaire/wire"
	"github.com/WhereSoftwareGoesToDie/vaultaire/workers"
)

// Config collects everything the supervisor needs to stand up the daemon.
type Config struct {
	Broker      string
	Workers     int
	CephConf    string
	User        string
	Pool        string
	Debug       bool
	DemoEnabled bool
	Progname    string
	Hostname    string
}

// outboundQueueDepth approximates the spec's "unbounded" outbound/telemetry
// channels. Go channels have no true unbounded mode; a large buffer is the
// idiomatic stand-in, documented rather than silently assumed.
const outboundQueueDepth = 4096

// Run builds every socket and worker described by cfg and blocks until ctx
// is cancelled or any linked task fails, returning the first such error.
func Run(ctx context.Context, cfg Config, lg *log.Logger) error {
	router, err := transport.NewRouter(cfg.Broker)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	defer router.Close()

	contentsRouter, err := transport.NewContentsRouter(cfg.Broker)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	defer contentsRouter.Close()

	telPub, err := transport.NewTelemetryPub(cfg.Broker)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	defer telPub.Close()

	// inbound/contents-in are single-slot hand-offs: capacity 1 gives
	// natural backpressure from workers back to the socket pump.
	inboundCh := make(chan transport.InboundMessage, 1)
	contentsInCh := make(chan transport.ContentsInbound, 1)
	outboundCh := make(chan transport.Reply, outboundQueueDepth)
	contentsOutCh := make(chan transport.ContentsReply, outboundQueueDepth)
	telemetryCh := make(chan telemetry.Event, outboundQueueDepth)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return router.PumpInbound(gctx, inboundCh, lg) })
	g.Go(func() error { return router.PumpOutbound(gctx, outboundCh) })
	g.Go(func() error { return contentsRouter.PumpInbound(gctx, contentsInCh, lg) })
	g.Go(func() error { return contentsRouter.PumpOutbound(gctx, contentsOutCh) })
	g.Go(func() error {
		return telemetry.Pump(gctx, telemetryCh, telPub, telemetry.Identifier(cfg.Progname), cfg.Hostname, cfg.Debug, lg)
	})

	for i := 0; i < cfg.Workers; i++ {
		pool, err := connectPool(cfg, lg)
		if err != nil {
			return fmt.Errorf("supervisor: reader worker %d: %w", i, err)
		}
		defer pool.Close()

		wc := &workers.WorkerContext{
			Store:       pool,
			DayCache:    daymap.New(pool, lg),
			Telemetry:   telemetryCh,
			DemoEnabled: cfg.DemoEnabled,
			Logger:      log.NewLoggerWithKV(lg, log.KV("worker", i)),
		}
		g.Go(func() error { return workers.RunReader(gctx, wc, inboundCh, outboundCh) })
	}

	contentsPool, err := connectPool(cfg, lg)
	if err != nil {
		return fmt.Errorf("supervisor: contents worker: %w", err)
	}
	defer contentsPool.Close()

	contentsWC := &workers.WorkerContext{
		Store:       contentsPool,
		DayCache:    daymap.New(contentsPool, lg),
		Directory:   directory.New(contentsPool, wire.DecodeSourceList, cfg.DemoEnabled),
		DemoEnabled: cfg.DemoEnabled,
		Logger:      log.NewLoggerWithKV(lg, log.KV("worker", "contents")),
	}
	g.Go(func() error { return workers.RunContents(gctx, contentsWC, contentsInCh, contentsOutCh) })

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// connectPool serializes the connect+open-pool sequence across every
// worker: the underlying client library's connect routine is not
// concurrency-safe, a documented race in the native library. The mutex is
// released as soon as the pool is live; every subsequent per-operation call
// on that pool runs concurrently with no further locking.
func connectPool(cfg Config, lg *log.Logger) (*store.Pool, error) {
	store.ConnectMu.Lock()
	defer store.ConnectMu.Unlock()
	return store.Connect(cfg.CephConf, cfg.User, cfg.Pool, lg)
}
