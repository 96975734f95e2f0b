package main

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/assets"
	"github.com/ukydev/care-assets/internal/auth"
	"github.com/ukydev/care-assets/internal/cache"
	"github.com/ukydev/care-assets/internal/config"
	"github.com/ukydev/care-assets/internal/connectivity"
	"github.com/ukydev/care-assets/internal/db"
	"github.com/ukydev/care-assets/internal/handlers"
	"github.com/ukydev/care-assets/internal/localstore"
	"github.com/ukydev/care-assets/internal/middleware"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/notify"
	"github.com/ukydev/care-assets/internal/outbox"
	"golang.org/x/sync/errgroup"
)

// app holds the wired components of the service.
type app struct {
	cfg     *config.Config
	queue   *outbox.Queue
	runner  *outbox.Runner
	monitor *connectivity.Monitor
	assets  *assets.Service
	handler http.Handler

	// stats carries the latest indicator to the notifier; older values are
	// dropped.
	stats chan outbox.Stats
}

func newApp(ctx context.Context, cfg *config.Config, remote db.RemoteStore, staff db.StaffCollection, store localstore.Store) (*app, error) {
	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}

	queue := outbox.New(store, remote, outbox.Options{
		MaxRetries:  cfg.SyncMaxRetries,
		Parallelism: cfg.SyncParallelism,
	})
	if err := queue.Load(ctx); err != nil {
		return nil, err
	}

	monitor := connectivity.NewMonitor(remote, cfg.ConnectivityInterval)
	runner := outbox.NewRunner(queue, cfg.SyncInterval, cfg.SyncMaxBackoff)
	runner.Online = monitor.Online
	monitor.OnOnline(runner.Trigger)

	svc := assets.NewService(remote, queue, cache.New(store), monitor, nil)
	router := &handlers.Router{
		Auth:     handlers.NewAuthHandler(authService, staff),
		Assets:   handlers.NewAssetHandler(svc),
		Sync:     handlers.NewSyncHandler(queue, monitor.Online),
		AuthMW:   middleware.NewAuthMiddleware(authService),
		Limiter:  middleware.NewRateLimitMiddleware(),
		Facility: cfg.Facility,
	}

	return &app{
		cfg:     cfg,
		queue:   queue,
		runner:  runner,
		monitor: monitor,
		assets:  svc,
		handler: router.Handler(),
		stats:   make(chan outbox.Stats, 1),
	}, nil
}

// start launches the background loops on g.
func (a *app) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		a.monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.runner.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.keepCacheWarm(ctx)
		return nil
	})
}

// keepCacheWarm holds a subscription on the asset collection so the local
// snapshot follows remote changes. It resubscribes after failures.
func (a *app) keepCacheWarm(ctx context.Context) {
	retry := a.cfg.ConnectivityInterval
	if retry <= 0 {
		retry = connectivity.DefaultInterval
	}
	for {
		stop, err := a.assets.Watch(ctx, func(list []models.Asset) {
			log.WithField("assets", len(list)).Debug("Asset snapshot refreshed")
		})
		if err == nil {
			log.Info("Watching asset collection")
			<-ctx.Done()
			stop()
			return
		}
		log.WithError(err).Debug("Asset subscription failed, retrying")

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// publishTo forwards every indicator change to n without blocking the queue.
func (a *app) publishTo(n *notify.Notifier) {
	if !n.Enabled() {
		return
	}
	a.queue.OnChange(func(s outbox.Stats) {
		for {
			select {
			case a.stats <- s:
				return
			default:
			}
			select {
			case <-a.stats:
			default:
			}
		}
	})
	go func() {
		for s := range a.stats {
			if err := n.PublishStats(s); err != nil {
				log.WithError(err).Warn("Failed to publish sync status")
			}
		}
	}()
	if err := n.PublishStats(a.queue.Stats()); err != nil {
		log.WithError(err).Warn("Failed to publish sync status")
	}
}
