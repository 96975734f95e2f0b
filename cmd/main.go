package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/config"
	"github.com/ukydev/care-assets/internal/db"
	"github.com/ukydev/care-assets/internal/localstore"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/notify"
	"github.com/ukydev/care-assets/internal/syncerr"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if syncerr.IsConfiguration(err) {
			log.WithError(err).Fatal("Invalid configuration")
		}
		log.WithError(err).Fatal("Service stopped with error")
	}
	log.Info("Service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	client, err := db.ConnectMongo(cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			log.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}()

	remote := db.NewMongoStore(client, cfg.MongoDB)
	remote.PollInterval = cfg.SubscribePoll
	staff := &db.MongoStaffCollection{Collection: remote.Database.Collection(models.StaffCollection)}

	store, err := localstore.OpenSQLite(cfg.LocalDBPath)
	if err != nil {
		return &syncerr.ConfigurationError{Setting: "LOCAL_DB_PATH", Err: err}
	}
	defer store.Close()

	a, err := newApp(ctx, cfg, remote, staff, store)
	if err != nil {
		return err
	}

	notifier, err := notify.Connect(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, cfg.Facility, a.runner.Trigger)
	if err != nil {
		log.WithError(err).Warn("MQTT unavailable, sync notifications disabled")
		notifier = notify.New(nil, cfg.MQTTTopicPrefix, cfg.Facility)
	}
	defer notifier.Close()
	a.publishTo(notifier)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	a.start(gctx, g)
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	return g.Wait()
}
