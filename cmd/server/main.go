package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/api"
	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/chathistory"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/db"
	"github.com/crewdeck/crewdeck/internal/gateway"
	"github.com/crewdeck/crewdeck/internal/membership"
	"github.com/crewdeck/crewdeck/internal/middleware"
	"github.com/crewdeck/crewdeck/internal/observ"
	"github.com/crewdeck/crewdeck/internal/repository/postgres"
	"github.com/crewdeck/crewdeck/internal/repository/rediscache"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	redisClient, err := db.NewRedis(context.Background(), cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	pool := database.Pool()
	projectRepo := postgres.NewProjectStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	likeRepo := postgres.NewLikeStore(pool)
	userRepo := rediscache.NewUserCache(postgres.NewUserStore(pool), redisClient, logger)

	events := bus.New(logger)
	defer events.Close()

	membershipSvc := membership.NewService(projectRepo, events, logger)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	gw := gateway.New(verifier, membershipSvc, userRepo, events, logger)
	gw.Start()
	defer gw.Shutdown()

	recorder := chathistory.NewRecorder(messageRepo, userRepo, logger)
	recorder.Start(events)
	defer recorder.Stop()

	authHandler := api.NewAuthHandler(userRepo, cfg, logger)
	projectHandler := api.NewProjectHandler(membershipSvc, logger)
	membershipHandler := api.NewMembershipHandler(membershipSvc, logger)
	messageHandler := api.NewMessageHandler(messageRepo, membershipSvc, logger)
	likeHandler := api.NewLikeHandler(likeRepo, membershipSvc, events, logger)
	userHandler := api.NewUserHandler(userRepo, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Recovery())

	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)

	// The websocket endpoint authenticates inside the handshake (token
	// header or query parameter), so it sits outside the REST middleware.
	srv.GET("/v1/ws", gw.HandleWS)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.POST("/projects", projectHandler.Create)
	v1.GET("/projects", projectHandler.List)
	v1.GET("/projects/:id", projectHandler.GetByID)
	v1.PATCH("/projects/:id", projectHandler.Update)
	v1.DELETE("/projects/:id", projectHandler.Delete)

	v1.POST("/projects/:id/join", membershipHandler.RequestJoin)
	v1.DELETE("/projects/:id/join", membershipHandler.WithdrawJoin)
	v1.POST("/projects/:id/approve", membershipHandler.Approve)

	v1.GET("/projects/:id/messages", messageHandler.List)

	v1.PUT("/projects/:id/like", likeHandler.Like)
	v1.DELETE("/projects/:id/like", likeHandler.Unlike)

	v1.GET("/users/me", userHandler.Me)
	v1.GET("/users/:id", userHandler.GetByID)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv,
	}

	go func() {
		logger.Info("starting crewdeck",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	logger.Info("server exited")
	return nil
}
