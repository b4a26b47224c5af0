package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowstudio/authz/api"
	"github.com/flowstudio/authz/core/audit"
	"github.com/flowstudio/authz/core/config"
	"github.com/flowstudio/authz/core/health"
	"github.com/flowstudio/authz/core/logger"
	"github.com/flowstudio/authz/core/rebac"
	"github.com/flowstudio/authz/core/resource"
	"github.com/flowstudio/authz/core/telemetry"
	"github.com/flowstudio/authz/kgorm"
	"github.com/flowstudio/authz/natsbus"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	nats "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	version                 = "1.0.0"
	gracefulShutdownSeconds = 25
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("Starting FlowStudio Authorization Service",
		zap.Int("port", cfg.Port),
		zap.String("db_type", cfg.DBType),
		zap.String("cache", cfg.CacheBackend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Enabled = cfg.TelemetryEnabled
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.SamplingRate = cfg.TraceSamplingRate
	tp, err := telemetry.NewProvider(tcfg)
	if err != nil {
		zlog.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	// Storage
	db, err := kgorm.Open(cfg.DBType, cfg.DSN, &gorm.Config{Logger: kgorm.NewLogger(zlog, 200*time.Millisecond)})
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	if !cfg.SkipAutoMigrate {
		if err := kgorm.Migrate(db); err != nil {
			zlog.Fatal("failed to migrate database", zap.Error(err))
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		zlog.Fatal("failed to access connection pool", zap.Error(err))
	}

	tuples := kgorm.NewReBACRepository(db)
	auditStore := kgorm.NewAuditRepository(db)
	auditLog := audit.NewLogger(auditStore, audit.Hooks{
		IDGenerator: uuid.NewString,
		AlertOnRisk: func(ctx context.Context, e *audit.Event) {
			zlog.Warn("high risk authorization change",
				zap.String("type", e.Type),
				zap.String("actor", e.ActorID),
				zap.String("object", e.Namespace+":"+e.ObjectID),
			)
		},
	})

	retention := audit.DefaultRetentionPolicy()
	retention.Days = cfg.AuditRetention
	go audit.NewRetention(auditStore, retention, zlog).Run(ctx)

	healthManager := health.NewManager(version, health.WithTimeout(3*time.Second))
	healthManager.Register(health.NewPingChecker("database", sqlDB.PingContext, true))

	opts := []rebac.ManagerOption{
		rebac.WithLogger(zlog),
		rebac.WithAudit(auditLog),
		rebac.WithMetrics(tp),
		rebac.WithTracer(tp.Tracer()),
	}

	// Decision cache
	switch cfg.CacheBackend {
	case "memory":
		cache := rebac.NewMemoryCache(cfg.CacheTTL)
		go cache.Run(ctx, time.Minute)
		opts = append(opts, rebac.WithDecisionCache(cache))
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		cache := rebac.NewRedisCache(rdb, "flowstudio:authz", cfg.CacheTTL)
		if err := cache.Ping(ctx); err != nil {
			zlog.Warn("redis unreachable at startup; checks run uncached until it recovers", zap.Error(err))
		}
		opts = append(opts, rebac.WithDecisionCache(cache))
		healthManager.Register(health.NewPingChecker("redis", cache.Ping, false))
	}

	// Change bus
	var nc *nats.Conn
	var bus *natsbus.Bus
	if cfg.NATSURL != "" {
		nc, err = natsbus.Connect(cfg.NATSURL, zlog)
		if err != nil {
			zlog.Fatal("failed to connect to NATS", zap.Error(err))
		}
		bus = natsbus.New(nc, zlog)
		opts = append(opts, rebac.WithNotifier(bus))
		healthManager.Register(health.NewNATSChecker(nc))
	}

	authz := rebac.NewManager(tuples, opts...)
	if bus != nil {
		if _, err := bus.Subscribe(ctx, nc, authz, authz); err != nil {
			zlog.Fatal("failed to subscribe to NATS", zap.Error(err))
		}
	}

	serve(ctx, cfg, zlog, tp, tuples, authz, auditLog, healthManager)

	cancel()
	if nc != nil && !nc.IsClosed() {
		zlog.Info("draining NATS connection")
		if err := nc.Drain(); err != nil {
			zlog.Error("error draining NATS connection", zap.Error(err))
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zlog.Error("telemetry shutdown failed", zap.Error(err))
	}
	if err := kgorm.Close(db); err != nil {
		zlog.Error("database close failed", zap.Error(err))
	}
	zlog.Info("graceful shutdown complete")
}

// serve runs the HTTP server until SIGINT or SIGTERM.
func serve(ctx context.Context, cfg *config.Config, zlog *zap.Logger, tp *telemetry.Provider, tuples *kgorm.ReBACRepository, authz *rebac.Manager, auditLog *audit.Logger, healthManager *health.Manager) {
	if cfg.BootstrapAdmin != "" {
		if err := authz.BootstrapAdmin(ctx, cfg.BootstrapAdmin); err != nil {
			zlog.Fatal("failed to bootstrap administrator", zap.Error(err))
		}
		zlog.Info("bootstrap administrator ensured", zap.String("subject", cfg.BootstrapAdmin))
	}

	resources := resource.NewService(kgorm.NewResourceRepository(tuples.DB()), authz, zlog)
	h := api.NewHandler(authz, resources, auditLog, api.NewTokenVerifier(cfg.JWTSecret), zlog)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zlog.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.CORS())
	e.Use(api.Tracing(tp))

	e.GET("/healthz", echo.WrapHandler(healthManager.LiveHandler()))
	e.GET("/ready", echo.WrapHandler(healthManager.ReadyHandler()))
	e.GET("/health", echo.WrapHandler(healthManager.FullHandler()))
	e.GET("/metrics", echo.WrapHandler(tp.MetricsHandler()))

	h.RegisterRoutes(e.Group("/api/v1"))

	go func() {
		zlog.Info("Server is starting", zap.Int("port", cfg.Port))
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed to start", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownSeconds*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown failed", zap.Error(err))
	}
}
