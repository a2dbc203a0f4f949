package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/overcastly/parley/internal/api"
	"github.com/overcastly/parley/internal/broadcast"
	"github.com/overcastly/parley/internal/config"
	"github.com/overcastly/parley/internal/db"
	"github.com/overcastly/parley/internal/middleware"
	"github.com/overcastly/parley/internal/observ"
	"github.com/overcastly/parley/internal/repository/postgres"
	"github.com/overcastly/parley/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Startup has no request deadline; connect takes as long as it needs.
	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	sink := broadcast.NewSink(redis.NewClient(redisOpts), logger)
	if err := sink.Ping(context.Background()); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer sink.Close()

	pool := database.Pool()
	userRepo := postgres.NewUserStore(pool)
	chatRepo := postgres.NewChatStore(pool)
	membershipRepo := postgres.NewMembershipStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	statusRepo := postgres.NewStatusStore(pool)

	chatSvc := service.NewChatService(chatRepo, membershipRepo, messageRepo, userRepo, logger)
	messageSvc := service.NewMessageService(messageRepo, statusRepo, membershipRepo, userRepo, sink, logger)

	authHandler := api.NewAuthHandler(userRepo, cfg.JWTSecret, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	chatHandler := api.NewChatHandler(chatSvc, logger)
	messageHandler := api.NewMessageHandler(messageSvc, logger)
	wsHandler := api.NewWSHandler(chatSvc, sink, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	logger.Info("starting parley",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	// Health check stays public so load balancers can probe it.
	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	srv.POST("/v1/auth/register", authHandler.Register)
	srv.POST("/v1/auth/login", authHandler.Login)
	srv.GET("/v1/users", userHandler.List)
	srv.GET("/v1/users/:id", userHandler.GetByID)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.GET("/users/me", userHandler.Me)
	v1.PUT("/users/:id", userHandler.Update)

	v1.GET("/chats", chatHandler.List)
	v1.POST("/chats", chatHandler.Create)
	v1.GET("/chats/:id", chatHandler.Get)
	v1.PUT("/chats/:id", chatHandler.Update)
	v1.POST("/chats/:id/members", chatHandler.AddMember)
	v1.DELETE("/chats/:id/members/:memberId", chatHandler.RemoveMember)

	v1.GET("/chats/:id/messages", messageHandler.List)
	v1.POST("/messages", messageHandler.Create)
	v1.DELETE("/messages/:id", messageHandler.Delete)

	v1.GET("/ws/chats/:id", wsHandler.Subscribe)

	return srv.Run(":" + cfg.Port)
}
