// Command synckairos-audit-worker drains the Audit Queue's jobs topic
// into the durable audit database, escalating jobs that exhaust their
// retries to the DLQ. Grounded on
// app/recorder/main.go's bootstrap shape, simplified to the Audit
// Queue's worker-pool model rather than the partition-gated consumer
// the recorder uses.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/synckairos/synckairos/internal/audit/db"
	"github.com/synckairos/synckairos/internal/audit/queue"
	"github.com/synckairos/synckairos/internal/config"
	applog "github.com/synckairos/synckairos/internal/log"
	"github.com/synckairos/synckairos/internal/metrics"
)

var workerHealthGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "synckairos",
	Subsystem: "audit_worker",
	Name:      "health_status",
	Help:      "Health status of the synckairos-audit-worker process (1=healthy).",
})

func main() {
	logger := applog.InitForService("synckairos-audit-worker")
	cfg := config.GetInstance()
	sugar := logger.Sugar

	sugar.Infof("synckairos-audit-worker starting, PID=%d", os.Getpid())

	metrics.MustRegisterAll()
	workerHealthGauge.Set(1)

	mysqlDB, err := openMySQL(cfg)
	if err != nil {
		sugar.Fatalf("failed to open mysql: %v", err)
	}
	repo := db.NewRepo(mysqlDB)

	dlq, err := queue.NewProducer(cfg.Audit.Brokers, "synckairos-audit-worker-dlq", cfg.Audit.DLQTopic, sugar)
	if err != nil {
		sugar.Fatalf("failed to create DLQ producer: %v", err)
	}

	pool, err := queue.NewWorkerPool(queue.WorkerPoolConfig{
		Brokers:         cfg.Audit.Brokers,
		Topic:           cfg.Audit.JobsTopic,
		ConsumerGroupID: cfg.Audit.ConsumerGroupID,
		Concurrency:     cfg.Audit.WorkerCount,
		MaxAttempts:     cfg.Audit.MaxAttempts,
		BaseBackoffMs:   cfg.Audit.BaseBackoffMs,
		MaxBackoffMs:    cfg.Audit.MaxBackoffMs,
	}, repo, dlq, &queue.LogAlertSink{Log: sugar}, sugar)
	if err != nil {
		sugar.Fatalf("failed to create worker pool: %v", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		if !pool.Running() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"running": pool.Running()})
	})

	srv := &http.Server{Addr: cfg.Audit.HTTPAddr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("HTTP server exited: %v", err)
		}
	}()

	go func() {
		sugar.Info("audit worker pool started, polling jobs topic...")
		pool.Run(ctx)
		sugar.Info("audit worker pool exited")
	}()

	<-ctx.Done()

	sugar.Info("shutdown signal received")
	workerHealthGauge.Set(0)
	dlq.Flush(5 * time.Second)
	dlq.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("shutdown http server: %v", err)
	}
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
