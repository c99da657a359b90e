package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/accounts"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/audit"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/broker"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/cancellation"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/config"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/httpapi"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/obs"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/store/pg"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/stream"
)

func main() {
	cfg, err := config.New(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	dir := roles.Default()

	// Postgres when configured, in-memory for local development.
	var (
		pgStore      *pg.Store
		roleStore    roles.Store
		accountStore accounts.Store
		auditStore   audit.Store
	)
	if cfg.PostgresDSN != "" {
		pgStore, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		roleStore = pgStore
		accountStore = pgStore
		auditStore = pgStore
	} else {
		log.Print("POSTGRES_DSN not set, running with in-memory stores")
		roleStore = roles.NewStaticStore(dir)
		accountStore = accounts.NewInMemory()
		auditStore = audit.NewInMemory()
	}

	engine, err := authz.New(dir, roleStore)
	if err != nil {
		log.Fatalf("authz: %v", err)
	}
	scopes, err := scope.NewBuilder(engine, roleStore)
	if err != nil {
		log.Fatalf("scope: %v", err)
	}
	recorder, err := audit.NewRecorder(auditStore)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}
	mgr, err := accounts.NewManager(accountStore, engine, scopes, roleStore, recorder)
	if err != nil {
		log.Fatalf("accounts: %v", err)
	}
	cancels, err := cancellation.New(engine, recorder)
	if err != nil {
		log.Fatalf("cancellation: %v", err)
	}
	sessions, err := httpapi.NewSessions(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}

	// Live audit fan-out for SSE subscribers.
	st := stream.New()
	recorder.OnRecord(st.Publish)

	// Lifecycle events to Kafka when a broker is configured.
	var producer *broker.Producer
	if cfg.Kafka.Enabled() {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		mgr.OnLifecycle(func(ev accounts.LifecycleEvent) {
			producer.PublishLifecycle(context.Background(), ev)
		})
	}

	var probe httpapi.ReadyProbe
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(probe, cfg.Version, sessions, mgr, recorder, cancels, st)

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.RateLimit(
						httpapi.MaxBodyBytes(api.Handler(), 1<<20),
						cfg.RateLimitBurst, cfg.RateLimitRPS)))))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting amexing-admin-api %s on %s", cfg.Version, cfg.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	_ = srv.Shutdown(ctx)

	// Drain buffered audit events before the store goes away.
	recorder.Close()
	if producer != nil {
		producer.Close()
	}
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
