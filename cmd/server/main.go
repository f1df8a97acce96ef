package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Archan-07/my-chat-app/internal/auth"
	"github.com/Archan-07/my-chat-app/internal/cache"
	"github.com/Archan-07/my-chat-app/internal/config"
	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/internal/handler"
	"github.com/Archan-07/my-chat-app/internal/hub"
	"github.com/Archan-07/my-chat-app/internal/linkpreview"
	"github.com/Archan-07/my-chat-app/internal/pubsub"
	"github.com/Archan-07/my-chat-app/internal/ratelimit"
	"github.com/Archan-07/my-chat-app/internal/repository"
	"github.com/Archan-07/my-chat-app/internal/service"
	"github.com/Archan-07/my-chat-app/pkg/database"
	"github.com/Archan-07/my-chat-app/pkg/log"
	"github.com/Archan-07/my-chat-app/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("database migration failed")
	}

	userRepo := repository.NewGormUserRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)
	roomRepo := repository.NewGormRoomRepository(db)

	// The bus drives cross-process fan-out. When it cannot be reached the
	// server still starts: events reach connections on this process only,
	// and everything durable keeps working.
	bus, err := pubsub.New(cfg.PubSub)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.PubSub.Driver).
			Msg("fan-out bus unreachable, running in local-only mode")
		bus = pubsub.NewLocalBus()
	}

	var authz cache.RoomAuthorizer
	roomCache, err := cache.NewRedisRoomCache(cfg.Cache, roomRepo)
	if err != nil {
		logger.Warn().Err(err).Msg("participant cache unreachable, using database lookups")
		authz = cache.NewRepoRoomAuthorizer(roomRepo)
	} else {
		authz = roomCache
		defer roomCache.Close()
	}

	resolver := auth.NewResolver(cfg.Auth.AccessTokenSecret, userRepo)
	registry := hub.NewRegistry()
	gateway := service.NewChatGateway(registry, bus, messageRepo, userRepo, authz)

	ctx := context.Background()
	if err := gateway.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("gateway start failed")
	}

	previews := linkpreview.NewFetcher(cfg.LinkPreview.Timeout, cfg.LinkPreview.MaxBodySize)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), log.RequestLogger())

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		}), cfg.RateLimit)
		r.Use(limiter.Middleware())
	}

	r.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})

	wsHandler := handler.NewWSHandler(resolver, gateway, cfg.WebSocket)
	r.GET("/ws", wsHandler.HandleWebSocket)

	httpHandler := handler.NewHTTPHandler(messageRepo, roomRepo, userRepo, authz, gateway, previews, cfg.LinkPreview)
	httpHandler.RegisterRoutes(r, resolver)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	if err := gateway.Stop(); err != nil {
		logger.Error().Err(err).Msg("gateway stop failed")
	}
	if err := bus.Close(); err != nil {
		logger.Error().Err(err).Msg("bus close failed")
	}
	logger.Info().Msg("server stopped")
}
