package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/dama-arena/internal/archive"
	appcfg "github.com/kapu/dama-arena/internal/config"
	"github.com/kapu/dama-arena/internal/gateway"
	"github.com/kapu/dama-arena/internal/match"
	"github.com/kapu/dama-arena/internal/msgcat"
	"github.com/kapu/dama-arena/internal/notify"
	"github.com/kapu/dama-arena/internal/obslog"
	"github.com/kapu/dama-arena/internal/render"
	"github.com/kapu/dama-arena/internal/settle"
	"github.com/kapu/dama-arena/internal/wallet"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	obslog.InitFromEnv()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis connect error: %v", err)
	}
	cancel()

	// ledger and settlement
	w := wallet.NewMemoryWallet()
	settler := settle.NewSettler(rdb, w, cfg.FeeRate, cfg.SessionTTL)
	reconciler := settle.NewReconciler(settler, cfg.SettleSweepInterval)

	// match history, only when a database is configured
	var archiver match.Archiver
	var history gateway.History
	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		archiver = repo
		history = repo
	}

	texts, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	store := match.NewStore(rdb, cfg.SessionTTL)
	reg := match.NewRegistry(store, w, settler, archiver, notify.NewLogNotifier(), texts, match.Config{
		JoinTimeout: cfg.JoinTimeout,
		TurnTimeout: cfg.TurnTimeout,
		GracePeriod: cfg.GracePeriod,
	})

	// the registry registers its sweep observer on the settler, so the
	// reconciler starts only after the registry exists
	reconciler.Start()

	srv := gateway.NewServer(reg, render.NewBoardRenderer(), history)
	wsSrv := gateway.NewWSServer(reg)

	errCh := make(chan error, 2)
	go func() { errCh <- srv.ListenREST(cfg.ListenAddr) }()
	go func() { errCh <- wsSrv.Listen(cfg.WSAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		obslog.L().Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		obslog.L().Error("listener_failed", zap.Error(err))
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	_ = srv.ShutdownREST(shutCtx)
	_ = wsSrv.Shutdown(shutCtx)
	reg.Close()
	_ = reconciler.Stop(shutCtx)
	if repo != nil {
		_ = repo.Close()
	}
	_ = rdb.Close()
}
