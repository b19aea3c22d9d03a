// Command coordinatord runs the distributed coordination service: the
// tool-RPC dispatch shim of spec §6 fronting the Lock Manager and Session
// Manager, backed by etcd.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/clock"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/config"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/kvgateway"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/lockmgr"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/metrics"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/naming"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/reaper"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/records"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/rpc"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/sessionmgr"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/vcsbranch"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func main() {
	logger, err := buildLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	kv := kvgateway.NewEtcdGateway(kvgateway.EtcdConfig{
		Endpoints:      []string{cfg.BackendURL},
		CAFile:         cfg.ETCDCAFile,
		CertFile:       cfg.ETCDCertFile,
		KeyFile:        cfg.ETCDKeyFile,
		DialTimeout:    cfg.DialTimeout,
		RequestTimeout: cfg.RequestTimeout,
		ScanBatchSize:  cfg.ScanBatchSize,
		ReadCacheTTL:   250 * time.Millisecond,
		Logger:         logger.Named("kvgateway"),
	})
	defer kv.Close()

	worktree, err := os.Getwd()
	if err != nil {
		worktree = "."
	}
	sessionID := sessionmgr.DeriveSessionID(cfg.SessionID, "coordinationd", false)

	resolver := naming.NewResolver(cfg.RootPrefix)
	codec := records.MsgpackCodec{}
	clk := clock.Real()

	locks := lockmgr.New(kv, resolver, clk, codec, logger.Named("lockmgr"))
	sessions := &sessionmgr.Manager{
		KV: kv, Resolver: resolver, Locks: locks, Clock: clk, Codec: codec,
		Thresholds: sessionmgr.Thresholds{
			Active: cfg.ActiveThreshold, Idle: cfg.IdleThreshold, Stale: cfg.StaleThreshold, Abandoned: cfg.AbandonedThreshold,
		},
		HeartbeatTTL: cfg.HeartbeatTTL,
		RecordTTL:    cfg.SessionRecordTTL,
		Logger:       logger.Named("sessionmgr"),
	}

	branch := vcsbranch.NewGit(worktree)
	metricsSink := metrics.New(cfg.ServerName)

	handler := rpc.NewHandler(cfg, kv, resolver, locks, sessions, branch, metricsSink, logger.Named("rpc"), sessionID, worktree)

	e := echo.New()
	e.HideBanner = true
	rpc.SetupRoutes(e, handler)

	if _, err := sessions.Register(context.Background(), sessionID, worktree, nil); err != nil {
		logger.Warn("failed to self-register server session", zap.Error(err))
	}

	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()
	if etcdClient, err := kv.Client(); err != nil {
		logger.Warn("reaper disabled: backend unavailable", zap.Error(err))
	} else {
		go reaper.New(etcdClient, sessions, cfg.RootPrefix, sessionID, logger.Named("reaper")).Run(reaperCtx)
	}

	go func() {
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	reaperCancel()
	time.Sleep(200 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down echo server", zap.Error(err))
	}

	if err := kv.Close(); err != nil {
		logger.Error("error closing backend connection", zap.Error(err))
	}

	logger.Info("shut down complete")
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil && level != "" {
		cfg.Level = lvl
	}
	return cfg.Build()
}
