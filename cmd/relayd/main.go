package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/duova/EvolitsExtracts/internal/config"
	"github.com/duova/EvolitsExtracts/internal/contracts"
	"github.com/duova/EvolitsExtracts/internal/logging"
	"github.com/duova/EvolitsExtracts/internal/observability"
	"github.com/duova/EvolitsExtracts/internal/protocol/frame"
	"github.com/duova/EvolitsExtracts/internal/protocol/registry"
	"github.com/duova/EvolitsExtracts/internal/relay"
	"github.com/duova/EvolitsExtracts/internal/sockets"
)

var startedAt = time.Now()

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to relayd TOML config")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := observability.InitLogger("relayd")

	cfg := config.DefaultRelayConfig()
	if *configPath != "" {
		loaded, err := config.LoadRelayConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	reg, err := registry.Build(contracts.Module())
	if err != nil {
		return err
	}
	codec := frame.NewCodec(reg)
	logger.Info().Int("kinds", reg.Len()).Msg("registry built")

	service := relay.NewService(codec, logger)
	server := sockets.NewServer(sockets.Config{
		Path:            cfg.SocketPath,
		ReadLimit:       cfg.ReadLimitBytes,
		WriteQueueDepth: cfg.WriteQueueDepth,
		WriteTimeout:    cfg.WriteTimeout.Std(),
		PingInterval:    cfg.PingInterval.Std(),
		PongWait:        cfg.PongWait.Std(),
		CloseGrace:      cfg.CloseGrace.Std(),
	}, logger, service.Events())
	service.Bind(server)

	if err := server.Start(cfg.ListenPort); err != nil {
		return err
	}

	admin := newAdminServer(cfg, logger)
	go func() {
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("admin server exited")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	server.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)
	return nil
}

func newAdminServer(cfg config.RelayConfig, logger zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.Instrument(cfg.Node, logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CorsOrigins,
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	observability.RegisterMetrics()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": "relayd",
			"node":    cfg.Node,
		})
	})

	return &http.Server{Addr: cfg.AdminAddr, Handler: r}
}
