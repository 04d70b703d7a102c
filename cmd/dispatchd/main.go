package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/auth"
	"github.com/ukydev/ambulance-dispatch/internal/config"
	"github.com/ukydev/ambulance-dispatch/internal/db"
	"github.com/ukydev/ambulance-dispatch/internal/dispatch"
	"github.com/ukydev/ambulance-dispatch/internal/handlers"
	"github.com/ukydev/ambulance-dispatch/internal/middleware"
	"github.com/ukydev/ambulance-dispatch/internal/models"
	"github.com/ukydev/ambulance-dispatch/internal/notify"
	"github.com/ukydev/ambulance-dispatch/internal/observability"
	"github.com/ukydev/ambulance-dispatch/internal/registry"
	"github.com/ukydev/ambulance-dispatch/internal/store"
	"github.com/ukydev/ambulance-dispatch/internal/syncer"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	log := cfg.Log.NewLogger()
	log.WithFields(cfg.Fields()).Info("Starting dispatchd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("dispatchd stopped")
	}
	log.Info("dispatchd stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	authService, err := auth.NewService(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewCollector(promReg)
	if err != nil {
		return err
	}

	storeClient, err := store.NewClient(cfg.Store.URL,
		store.WithToken(cfg.Store.Token),
		store.WithHTTPClient(&http.Client{Timeout: cfg.Store.Timeout}),
		store.WithLogger(log),
	)
	if err != nil {
		return err
	}

	reg := registry.New()
	scheduler := syncer.New(reg, storeClient,
		syncer.WithInterval(cfg.Store.SyncInterval),
		syncer.WithFetchTimeout(cfg.Store.Timeout),
		syncer.WithMetrics(metrics),
		syncer.WithLogger(log),
	)

	var (
		sinks       []dispatch.EventSink
		journal     handlers.JournalReader
		authHandler *handlers.AuthHandler
	)

	if cfg.Mongo.URI != "" {
		client, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		log.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")

		database := client.Database(cfg.Mongo.Database)
		users := &db.MongoUserCollection{Collection: database.Collection("users")}
		events := &db.MongoJournalCollection{Collection: database.Collection("dispatch_events")}
		if err := users.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to create user indexes")
		}
		if err := events.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to create journal indexes")
		}
		if err := seedAdmin(ctx, users, authService, cfg.Admin, log); err != nil {
			return err
		}

		j := db.NewJournal(events, log)
		sinks = append(sinks, j)
		journal = j
		authHandler = handlers.NewAuthHandler(authService, users, log)
	} else {
		log.Warn("MONGO_URI not set; login, registration and the dispatch journal are disabled")
	}

	if cfg.MQTT.Broker != "" {
		pub, err := notify.Connect(notify.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, log)
		if err != nil {
			log.WithError(err).Warn("MQTT unavailable; dispatch notifications disabled")
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	svc := dispatch.NewService(reg, auth.NewGate(log), storeClient,
		dispatch.WithEventSinks(sinks...),
		dispatch.WithRefresher(scheduler),
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(log),
		dispatch.WithPersistTimeout(cfg.Store.Timeout),
		dispatch.WithServiceArea(models.Location{Lat: cfg.ServiceArea.Lat, Lng: cfg.ServiceArea.Lng}, cfg.ServiceArea.JitterDeg),
	)

	router := handlers.NewRouter(handlers.RouterDeps{
		Dispatch:    handlers.NewDispatchHandler(svc, journal, log),
		Health:      handlers.NewHealthHandler(scheduler),
		Auth:        authHandler,
		AuthMW:      middleware.NewAuthMiddleware(authService, log),
		RateLimit:   middleware.NewRateLimitMiddleware(),
		MaxRequests: cfg.RateLimit.Requests,
		Window:      cfg.RateLimit.Window,
		Gatherer:    metrics.Gatherer(),
		Log:         log,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("Shutting down HTTP server")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

type passwordHasher interface {
	HashPassword(password string) (string, error)
}

// seedAdmin creates the configured ADMIN account unless its email is already
// registered.
func seedAdmin(ctx context.Context, users db.UserCollection, hasher passwordHasher, admin config.AdminConfig, log logrus.FieldLogger) error {
	if admin.Email == "" {
		return nil
	}
	_, err := users.FindUserByEmail(ctx, admin.Email)
	if err == nil {
		log.WithField("email", admin.Email).Debug("Admin account already present")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	hash, err := hasher.HashPassword(admin.Password)
	if err != nil {
		return err
	}
	user, err := users.InsertUser(ctx, models.User{
		Name:         admin.Name,
		Email:        admin.Email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	})
	if errors.Is(err, models.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	log.WithField("user_id", user.ID.Hex()).Info("Seeded admin account")
	return nil
}
