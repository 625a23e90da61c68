package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/gateway/internal/gateway"
	"github.com/BlackOSSoftware/mspk-console/cmd/gateway/internal/hub"
	"github.com/BlackOSSoftware/mspk-console/cmd/gateway/internal/repository"
	"github.com/BlackOSSoftware/mspk-console/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	repo := repository.NewRedisStore(rdb)
	defer repo.Close()

	// Dependency Injection: Hub depends on the Repository Interface
	wsHub := hub.NewHub(repo, hub.NewChannelPolicy(cfg.Gateway.ValidTickers), logger)
	defer wsHub.Shutdown()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger)
		client.Start()
	})
	mux.Handle(cfg.Gateway.MetricsPath, promhttp.Handler())

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.Strings("symbols", cfg.Gateway.ValidTickers))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	logger.Info("Shutdown Complete")
}
