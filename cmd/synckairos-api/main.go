// Command synckairos-api runs the REST Surface, WebSocket Hub and State
// Store Client in one process, grounded on app/recorder/main.go's
// bootstrap shape: health gauge, prometheus registration, gin router,
// signal-driven graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/synckairos/synckairos/internal/audit/db"
	"github.com/synckairos/synckairos/internal/audit/queue"
	"github.com/synckairos/synckairos/internal/clock"
	"github.com/synckairos/synckairos/internal/config"
	applog "github.com/synckairos/synckairos/internal/log"
	"github.com/synckairos/synckairos/internal/metrics"
	"github.com/synckairos/synckairos/internal/recovery"
	"github.com/synckairos/synckairos/internal/rest"
	"github.com/synckairos/synckairos/internal/session"
	"github.com/synckairos/synckairos/internal/store"
	"github.com/synckairos/synckairos/internal/ws"
	"github.com/synckairos/synckairos/internal/wsmsg"
)

var apiHealthGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "synckairos",
	Subsystem: "api",
	Name:      "health_status",
	Help:      "Health status of the synckairos-api process (1=healthy).",
})

func main() {
	logger := applog.InitForService("synckairos-api")
	cfg := config.GetInstance()
	sugar := logger.Sugar

	sugar.Infof("synckairos-api starting, PID=%d", os.Getpid())

	metrics.MustRegisterAll()
	apiHealthGauge.Set(1)

	mysqlDB, err := openMySQL(cfg)
	if err != nil {
		sugar.Fatalf("failed to open mysql: %v", err)
	}
	auditRepo := db.NewRepo(mysqlDB)

	rdb := openRedis(cfg)
	loader := recovery.NewLoader(auditRepo, clock.Default, sugar)
	stateStore := store.NewClient(rdb, loader, sugar)

	producer, err := queue.NewProducer(cfg.Audit.Brokers, "synckairos-api", cfg.Audit.JobsTopic, sugar)
	if err != nil {
		sugar.Fatalf("failed to create audit producer: %v", err)
	}
	enqueuer := queue.NewEnqueuer(producer, clock.Default, sugar)

	engine := session.NewEngine(stateStore, enqueuer, clock.Default, sugar)

	hub := ws.NewHub(sugar)
	auth := ws.NewAuthenticator(cfg.Server.JWTSecret)
	wsHandler := ws.NewHandler(hub, stateStore, auth, cfg.Server.AllowedOrigins, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dispatchWSFanout(ctx, stateStore, hub)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/sessions/:id/ws", wsHandler.Serve)

	healthDeps := rest.HealthDeps{Store: stateStore, AuditDB: sqlPinger{mysqlDB}, Worker: nil}
	rt := rest.NewRouter(engine, stateStore, healthDeps, clock.Default, sugar)
	rt.Mount(router)

	srv := &http.Server{Addr: cfg.Server.APIAddr, Handler: router}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("HTTP server exited: %v", err)
		}
	}()
	sugar.Infof("synckairos-api listening on %s", cfg.Server.APIAddr)

	<-ctx.Done()

	sugar.Info("shutdown signal received")
	apiHealthGauge.Set(0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("shutdown http server: %v", err)
	}
	hub.Shutdown()
	producer.Flush(5 * time.Second)
	producer.Close()
}

func openMySQL(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.MySQL.ConnMaxIdleTime) * time.Second)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MySQL.ConnMaxLifetime) * time.Second)
	return gdb, nil
}

func openRedis(cfg *config.Config) *redis.Client {
	dial := time.Duration(cfg.Redis.DialTimeout) * time.Second
	read := time.Duration(cfg.Redis.ReadTimeout) * time.Second
	write := time.Duration(cfg.Redis.WriteTimeout) * time.Second

	if cfg.Redis.UseSentinel {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.Redis.MasterName,
			SentinelAddrs:    cfg.Redis.SentinelAddrs,
			SentinelPassword: cfg.Redis.SentinelPassword,
			Username:         cfg.Redis.User,
			Password:         cfg.Redis.Password,
			DB:               cfg.Redis.DB,
			PoolSize:         cfg.Redis.PoolSize,
			MinIdleConns:     cfg.Redis.MinIdleConns,
			DialTimeout:      dial,
			ReadTimeout:      read,
			WriteTimeout:     write,
			MaxRetries:       cfg.Redis.MaxRetries,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Username:     cfg.Redis.User,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  dial,
		ReadTimeout:  read,
		WriteTimeout: write,
	})
}

// dispatchWSFanout subscribes to the ws:* pattern shared by every
// instance and dispatches each message to this instance's local
// sockets only ( cross-instance fan-out).
func dispatchWSFanout(ctx context.Context, stateStore *store.Client, hub *ws.Hub) {
	stateStore.SubscribeWS(ctx, func(sessionID string, env wsmsg.Envelope) {
		hub.Dispatch(sessionID, env)
	})
}

type sqlPinger struct{ db *gorm.DB }

func (p sqlPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
