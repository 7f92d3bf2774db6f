// Package server wires storage, ingestion, relay and metrics behind the
// HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krill0051-hash/tradingview-proxy/internal/config"
	"github.com/krill0051-hash/tradingview-proxy/internal/ingest"
	"github.com/krill0051-hash/tradingview-proxy/internal/metrics"
	"github.com/krill0051-hash/tradingview-proxy/internal/models"
	"github.com/krill0051-hash/tradingview-proxy/internal/relay"
	"github.com/krill0051-hash/tradingview-proxy/internal/server/handlers"
	"github.com/krill0051-hash/tradingview-proxy/internal/server/middleware"
	"github.com/krill0051-hash/tradingview-proxy/internal/storage"
	"github.com/krill0051-hash/tradingview-proxy/internal/worker"
)

// Server is the assembled HTTP service.
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	store      storage.Store
	producer   *relay.Producer
	pool       *worker.Pool
	ingestor   *ingest.Ingestor
	metrics    *metrics.Metrics
}

// New builds a server from configuration: the store selected by driver, the
// optional Kafka relay, the worker pool and the ingestion pipeline.
func New(cfg *config.Config) (*Server, error) {
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var producer *relay.Producer
	if cfg.Kafka.Enabled {
		producer, err = relay.NewProducer(&cfg.Kafka)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize Kafka relay: %w", err)
		}
	}

	m := metrics.New()
	pool := worker.NewPool(cfg.Server.WorkerCount, cfg.Server.JobQueueSize)
	ingestor := ingest.New(store, cfg.Signals, m)

	s := &Server{
		config:   cfg,
		router:   gin.New(),
		store:    store,
		producer: producer,
		pool:     pool,
		ingestor: ingestor,
		metrics:  m,
	}

	if producer != nil {
		ingestor.OnPersisted(s.relaySignal)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return storage.NewPostgres(&cfg.Database)
	case "memory":
		return storage.NewMemory(cfg.Storage.Capacity), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

// relaySignal queues one persisted signal for asynchronous publishing. The
// request is already answered by the time the publish runs; failures are
// logged and counted, never surfaced to the sender.
func (s *Server) relaySignal(sig models.Signal) {
	accepted := s.pool.TrySubmit(worker.Job{
		Name: "relay_publish",
		Process: func(ctx context.Context) {
			pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			err := s.producer.WithRetry(pubCtx, "publish_signal", func() error {
				return s.producer.PublishSignal(pubCtx, sig)
			})
			if err != nil {
				s.metrics.RelayPublishTotal.WithLabelValues("error").Inc()
				middleware.LogError("relay", "failed to publish signal", err)
				return
			}
			s.metrics.RelayPublishTotal.WithLabelValues("ok").Inc()
		},
	})
	if !accepted {
		s.metrics.RelayPublishTotal.WithLabelValues("dropped").Inc()
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.Logger(s.config.Logging))
	s.router.Use(s.countRequests())
	s.router.Use(middleware.CORS(s.config.CORS))
	s.router.Use(middleware.RateLimit(s.config.RateLimit))
	s.router.Use(middleware.ErrorHandler())
}

// countRequests records per-route request counts. Routes are labeled by
// their registered pattern, not the raw URL, to keep cardinality bounded.
func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", handlers.Index())
	s.router.GET("/health", handlers.HealthCheck(s.store, s.producer))
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// TradingView posts alerts, but operators test with GET and some
	// integrations send PUT; all three land in the same pipeline.
	webhook := handlers.Webhook(s.ingestor, s.config.Server.MaxBodySize, s.metrics)
	s.router.POST("/webhook", webhook)
	s.router.GET("/webhook", webhook)
	s.router.PUT("/webhook", webhook)

	s.router.GET("/signals", handlers.ListSignals(s.store))
	s.router.GET("/signals/unprocessed", handlers.ListUnprocessed(s.store))
	s.router.POST("/signals/:id/processed", handlers.MarkProcessed(s.store))
	s.router.POST("/clear", handlers.ClearSignals(s.store))
}

// Start runs the worker pool and serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.pool.Run()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the worker pool and releases every dependency.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Stop()
	}
	if s.producer != nil {
		s.producer.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
