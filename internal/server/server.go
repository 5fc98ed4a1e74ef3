// FilePath: server/devicehub/internal/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/api"
	"github.com/itsatony/w4b_v3/server/devicehub/api/middleware"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/batch"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/config"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/database"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder/samples"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/engine"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/lock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/measures"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/monitoring"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/reconcile"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository/documents"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store/memory"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store/postgres"
	"github.com/redis/go-redis/v9"
	nuts "github.com/vaudience/go-nuts"
)

// Server represents our HTTP server
type Server struct {
	config     *config.Config
	srv        *http.Server
	hubservice *hubservice.HubService
	monitoring *monitoring.Service
	buffer     *batch.Buffer
	reconciler *reconcile.Reconciler
	docs       *postgres.DocumentStore
	redis      *redis.Client
}

// New creates a new server instance
func New(cfg *config.Config) *Server {
	return &Server{
		config: cfg,
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Start wires the hub, begins listening and blocks until SIGINT or SIGTERM
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := s.initialize(ctx)
	cancel()
	if err != nil {
		if shutdownErr := s.Shutdown(context.Background()); shutdownErr != nil {
			nuts.L.Warnf("[Server] Cleanup after failed start: %v", shutdownErr)
		}
		return err
	}

	errc := make(chan error, 1)
	go func() {
		nuts.L.Infof("[Server] Starting server on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		s.release()
		return fmt.Errorf("error starting server: %w", err)
	}

	nuts.L.Infof("[Server] Shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancelShutdown()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, then drains the reconciler and the
// write buffer before closing the backends
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	if s.reconciler != nil {
		s.reconciler.Stop(ctx)
	}
	var flushErr error
	if s.buffer != nil {
		flushErr = s.buffer.Close(ctx)
	}
	s.release()
	if flushErr != nil {
		return fmt.Errorf("error flushing write buffer: %w", flushErr)
	}
	nuts.L.Infof("[Server] Server shut down successfully")
	return nil
}

func (s *Server) release() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			nuts.L.Warnf("[Server] Closing redis: %v", err)
		}
		s.redis = nil
	}
	if s.docs != nil {
		if err := s.docs.Close(); err != nil {
			nuts.L.Warnf("[Server] Closing database: %v", err)
		}
		s.docs = nil
	}
}

// initialize connects the backends and assembles the hub behind the HTTP handler
func (s *Server) initialize(ctx context.Context) error {
	cfg := s.config

	base, err := s.openStore(ctx)
	if err != nil {
		return err
	}

	s.monitoring = monitoring.NewService(func() int { return s.buffer.Pending() })
	s.buffer = batch.New(base, batch.Options{
		Interval:     cfg.Batch.Interval,
		MaxDocuments: cfg.Batch.MaxDocuments,
		FlushTimeout: cfg.Batch.FlushTimeout,
		Observer:     s.monitoring,
	})
	s.buffer.Start()

	var locker lock.Locker = lock.NewLocal()
	var cache engine.Cache
	if cfg.Redis.Enabled() {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("error connecting to redis at %s: %w", cfg.Redis.Addr(), err)
		}
		locker = lock.NewRedis(s.redis, cfg.Locks.TTL, cfg.Locks.RetryInterval)
		cache = engine.NewRedisCache(s.redis, cfg.Redis.CacheTTL)
		nuts.L.Infof("[Server] Using redis at %s for locks and the engine cache", cfg.Redis.Addr())
	}

	b := bus.New()
	types := measures.NewRegistry()
	decoders, err := newDecoderRegistry(types, cfg.Decoders.Enabled)
	if err != nil {
		return err
	}
	if err := types.Serve(b); err != nil {
		return err
	}
	if err := decoders.Serve(b); err != nil {
		return err
	}

	admin := cfg.Store.AdminIndex
	devices := documents.NewDeviceRepository(s.buffer, admin)
	s.reconciler = reconcile.New(devices, reconcile.Options{
		Interval:    cfg.Reconcile.Interval,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		Locker:      locker,
		OnQueue:     s.monitoring.SetReconcileQueue,
	})
	s.reconciler.Start()

	s.hubservice = hubservice.New(hubservice.Deps{
		Devices:      devices,
		Assets:       documents.NewAssetRepository(s.buffer, admin),
		Payloads:     documents.NewPayloadRepository(s.buffer, admin),
		History:      documents.NewMeasureRepository(s.buffer, admin),
		Engines:      engine.NewRegistry(s.buffer, admin, cache),
		Decoders:     decoders,
		MeasureTypes: types,
		Bus:          b,
		Locker:       locker,
		Reconciler:   s.reconciler,
		Provisioning: cfg.Provisioning.Policy,
	})
	if err := s.hubservice.Validate(); err != nil {
		return err
	}
	s.monitoring.Subscribe(b)
	s.setupCleanupHandlers()

	s.srv.Handler = api.NewRouter(s.hubservice, api.Options{
		Keycloak: middleware.KeycloakConfig{
			URL:          cfg.Keycloak.URL,
			Realm:        cfg.Keycloak.Realm,
			ClientID:     cfg.Keycloak.ClientID,
			ClientSecret: cfg.Keycloak.ClientSecret,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        s.monitoring.Handler(),
		MetricsPath:    cfg.Monitoring.MetricsPath,
		AccessLog:      os.Stdout,
		HealthCheck:    s.checkBackend,
	})
	return nil
}

func (s *Server) checkBackend(ctx context.Context) error {
	if s.docs != nil {
		if err := s.docs.Ping(ctx); err != nil {
			return err
		}
	}
	if s.redis != nil {
		return s.redis.Ping(ctx).Err()
	}
	return nil
}

func (s *Server) openStore(ctx context.Context) (store.Store, error) {
	switch s.config.Store.Driver {
	case config.StoreDriverMemory:
		nuts.L.Warnf("[Server] Using the in-memory store, documents are lost on shutdown")
		return memory.New(), nil
	case config.StoreDriverPostgres:
		db, err := database.NewPostgresDB(s.config.Database.Postgres)
		if err != nil {
			return nil, err
		}
		docs, err := postgres.NewDocumentStore(db)
		if err != nil {
			if closeErr := db.Close(); closeErr != nil {
				nuts.L.Warnf("[Server] Closing database: %v", closeErr)
			}
			return nil, fmt.Errorf("error preparing document store: %w", err)
		}
		s.docs = docs
		if err := docs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("error pinging database: %w", err)
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.config.Store.Driver)
	}
}

func newDecoderRegistry(types *measures.Registry, enabled []string) (*decoder.Registry, error) {
	decoders := decoder.NewRegistry(types)
	list, err := samples.ByName(enabled)
	if err != nil {
		return nil, err
	}
	for _, d := range list {
		reg, err := decoders.Register(d)
		if err != nil {
			return nil, err
		}
		nuts.L.Infof("[Server] Decoder %s serves /payloads/%s", reg.DeviceModel, reg.Action)
	}
	return decoders, nil
}

func (s *Server) setupCleanupHandlers() {
	s.hubservice.Cleanup.OnCleanup(bus.EventAssetDeleted, func(id string) {
		nuts.L.Infof("[Cleanup] Asset %s and its links removed", id)
	})
}
