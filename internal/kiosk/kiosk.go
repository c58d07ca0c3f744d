// Package kiosk wires the cache, sync engine, validator, session manager,
// and reader into one running unit with a single serialized processing
// loop. The Kiosk struct is the explicit context object: every component
// it owns is constructed in New and torn down in Close, and nothing in
// this module relies on package-level singletons.
package kiosk

import (
	"context"
	"log/slog"
	"time"

	"github.com/tapin/kioskd/internal/cache"
	"github.com/tapin/kioskd/internal/reader"
	"github.com/tapin/kioskd/internal/session"
	"github.com/tapin/kioskd/internal/syncer"
	"github.com/tapin/kioskd/internal/validate"
)

// Options configures a Kiosk.
type Options struct {
	KioskID      string
	Cache        *cache.Cache
	Sessions     *session.Manager
	Engine       *syncer.Engine
	Clock        validate.Clock
	Sink         Sink
	Log          *slog.Logger
	ReaderOpener reader.Opener

	// PullInterval and PushInterval drive the periodic sync timers.
	PullInterval time.Duration
	PushInterval time.Duration
}

// Kiosk is one attendance kiosk instance. Independent kiosks are fully
// independent: each has its own queue, loop, and stores, and no cross-kiosk
// locking exists anywhere.
type Kiosk struct {
	id       string
	cache    *cache.Cache
	sessions *session.Manager
	engine   *syncer.Engine
	pipeline *validate.Pipeline
	reader   *reader.Manager
	clock    validate.Clock
	sink     Sink
	log      *slog.Logger

	queue        *eventQueue
	pullInterval time.Duration
	pushInterval time.Duration
}

// New assembles a kiosk from its parts. The reader manager is created here
// so its callbacks land on this kiosk's queue.
func New(opts Options) *Kiosk {
	k := &Kiosk{
		id:           opts.KioskID,
		cache:        opts.Cache,
		sessions:     opts.Sessions,
		engine:       opts.Engine,
		pipeline:     validate.New(opts.Cache, opts.Clock, opts.KioskID),
		clock:        opts.Clock,
		sink:         opts.Sink,
		log:          opts.Log,
		queue:        newEventQueue(),
		pullInterval: opts.PullInterval,
		pushInterval: opts.PushInterval,
	}

	k.reader = reader.NewManager(
		opts.ReaderOpener,
		func(token string) {
			k.queue.Enqueue(Event{Type: EventScan, Token: token})
		},
		func(status reader.Status) {
			k.queue.Enqueue(Event{Type: EventReaderStatus, Status: status})
		},
		opts.Log,
	)

	return k
}

// Reader exposes the connection manager for Connect calls and admin
// reconnects.
func (k *Kiosk) Reader() *reader.Manager {
	return k.reader
}

// NotifyRemoteChange enqueues a payload-agnostic change notification.
// Safe from any goroutine.
func (k *Kiosk) NotifyRemoteChange() {
	k.queue.Enqueue(Event{Type: EventRemoteChange})
}

// NotifyOnline enqueues a reachability-recovered notification so the
// pending backlog uploads immediately instead of waiting for the next
// push tick. Safe from any goroutine.
func (k *Kiosk) NotifyOnline() {
	k.queue.Enqueue(Event{Type: EventOnline})
}

// RequestResync enqueues a manual force-resync. Safe from any goroutine.
func (k *Kiosk) RequestResync() {
	k.queue.Enqueue(Event{Type: EventResync})
}

// Run drains the event queue until ctx is cancelled.
//
// Startup performs day rollover: attendance rows dated before today are
// purged, then a pull is requested if a session is active. After that the
// loop processes one event at a time - a scan runs through the whole
// pipeline before the next token is accepted, which is the guarantee
// against double commits on a single physical event. Sync triggers only
// call the engine's coalescing Request methods, so the loop itself never
// blocks on the network.
func (k *Kiosk) Run(ctx context.Context) error {
	k.startup(ctx)

	pullTicker := time.NewTicker(k.pullInterval)
	defer pullTicker.Stop()
	pushTicker := time.NewTicker(k.pushInterval)
	defer pushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.queue.Close()
			return ctx.Err()
		case <-pullTicker.C:
			k.queue.Enqueue(Event{Type: EventPullTick})
		case <-pushTicker.C:
			k.queue.Enqueue(Event{Type: EventPushTick})
		case <-k.queue.Wait():
			for {
				event, ok := k.queue.TryDequeue()
				if !ok {
					break
				}
				k.process(ctx, event)
			}
		}
	}
}

// startup runs the day-rollover purge and kicks an initial sync.
func (k *Kiosk) startup(ctx context.Context) {
	today := k.clock.Now().Format(time.DateOnly)
	purged, err := k.cache.PurgeStale(ctx, today)
	if err != nil {
		// Fatal to the purge only; stale rows from prior days cannot
		// collide with today's duplicate checks.
		k.log.Error("day rollover purge failed", "error", err)
	} else if purged > 0 {
		k.log.Info("day rollover purge", "rows", purged, "today", today)
	}

	if _, state := k.sessions.Current(); state == session.StateActive {
		k.engine.RequestPull()
		k.engine.RequestPush()
	}
}

// process handles one event. Runs on the loop goroutine only.
func (k *Kiosk) process(ctx context.Context, event Event) {
	switch event.Type {
	case EventScan:
		outcome, err := k.pipeline.Process(ctx, event.Token)
		if err != nil {
			// Storage failure: fatal for this scan only. The next token
			// retries against the same cache.
			k.log.Error("scan validation failed", "error", err)
			return
		}
		if outcome.Status == validate.StatusDiscarded {
			return
		}
		k.sink.Scan(outcome)
		if outcome.Accepted() {
			// Non-blocking: the commit is already durable locally.
			k.engine.RequestPush()
		}
	case EventReaderStatus:
		k.sink.Reader(event.Status)
	case EventPullTick:
		k.engine.RequestPull()
	case EventPushTick:
		k.engine.RequestPush()
	case EventRemoteChange:
		k.engine.NotifyChange()
	case EventOnline:
		k.engine.RequestPush()
	case EventResync:
		if err := k.engine.Resync(ctx); err != nil {
			k.log.Error("resync failed", "error", err)
		}
	}
}

// Close tears the kiosk down: reader connection first, then the queue.
func (k *Kiosk) Close() error {
	err := k.reader.Close()
	k.queue.Close()
	return err
}
