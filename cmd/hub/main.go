// Command hub is the whiteboard hub's single composition root: it wires the
// Repository, Document Cache, Connection Registry, and Bus, then serves both
// the REST surface (internal/api) and the WebSocket surface (internal/hub)
// from one process, since internal/api's /api/stats reports live session
// counts that only the process holding the Registry can answer. Bootstrap
// follows the usual pattern: load .env, build dependencies, run an HTTP
// server, and shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabhub/backend/internal/api"
	"github.com/collabhub/backend/internal/bus"
	"github.com/collabhub/backend/internal/config"
	"github.com/collabhub/backend/internal/hub"
	"github.com/collabhub/backend/internal/logging"
	"github.com/collabhub/backend/internal/registry"
	"github.com/collabhub/backend/internal/roomcache"
	"github.com/collabhub/backend/internal/session"
	"github.com/collabhub/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(cfg.Development); err != nil {
		panic(err)
	}
	log := logging.L()
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := store.New(ctx, cfg.StoreURL)
	if err != nil {
		log.Fatal("store connect failed", zap.Error(err))
	}
	defer repo.Close()

	instanceID := uuid.NewString()
	roomBus, err := bus.New(cfg.RedisURL, instanceID)
	if err != nil {
		log.Fatal("bus connect failed", zap.Error(err))
	}
	defer roomBus.Close()

	cache := roomcache.New(repo, roomcache.Config{
		SnapshotInterval: cfg.SnapshotInterval,
		SnapshotKeep:     cfg.SnapshotKeep,
		IdleDestroyGrace: cfg.IdleDestroyGrace,
		ApplyQueue:       cfg.ApplyQueue,
	})
	reg := registry.New()

	h := hub.New(repo, cache, reg, roomBus, hub.Config{
		CORSOrigin:    cfg.CORSOrigin,
		ShutdownDrain: cfg.ShutdownDrain,
		Session: session.Config{
			OutboundQueue:     cfg.OutboundQueue,
			MaxFrameBytes:     int64(cfg.MaxFrameBytes),
			HeartbeatInterval: cfg.HeartbeatInterval,
			IdleTimeout:       cfg.IdleTimeout,
			WriteWait:         10 * time.Second,
			JWTSecret:         cfg.JWTSecret,
		},
	})
	go h.RunStatsEmitter(ctx, 60*time.Second)

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins(cfg.CORSOrigin),
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.CORSOrigin != "*",
		MaxAge:           12 * time.Hour,
	}))

	apiHandler := api.NewHandler(repo, h)
	apiHandler.RegisterRoutes(r)
	r.GET("/ws", func(c *gin.Context) { h.ServeWS(c.Writer, c.Request) })

	httpServer := &http.Server{
		Addr:         ":" + cfg.ListenPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("hub listening", zap.String("port", cfg.ListenPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownDrain+5*time.Second)
	defer shutdownCancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Warn("hub drain did not finish cleanly", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
	cancel()
	log.Info("shutdown complete")
}

func corsOrigins(origin string) []string {
	if origin == "" {
		return []string{"*"}
	}
	return []string{origin}
}
