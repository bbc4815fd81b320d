package main

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"ripple-chat/config"
	"ripple-chat/internal/domain"
	"ripple-chat/internal/handler"
	"ripple-chat/internal/presence"
	"ripple-chat/internal/repository"
	"ripple-chat/internal/rooms"
	"ripple-chat/internal/server"
	"ripple-chat/internal/services"
	"ripple-chat/internal/storage"
	"ripple-chat/pkg/database"
	"ripple-chat/pkg/events"
	"ripple-chat/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)

	database.Connect(cfg)
	if err := database.DB.AutoMigrate(
		&domain.User{},
		&domain.Conversation{},
		&domain.Participant{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.MessageReceipt{},
		&domain.MessageReaction{},
		&domain.Friendship{},
		&domain.Notification{},
	); err != nil {
		log.Fatalf("Failed to apply GORM migrations: %v", err)
	}

	userRepo := repository.NewUserRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	friendshipRepo := repository.NewFriendshipRepository(database.DB)
	notificationRepo := repository.NewNotificationRepository(database.DB)

	// Redis backs the event bridge and the shared presence counter. With
	// no redis configured everything stays single-process in-memory.
	var broker events.Broker
	var counter presence.Counter
	if cfg.RedisHost != "" {
		redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
		broker = events.NewRedisBroker(redisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     redisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		counter = presence.NewRedisCounter(redisClient, 2*time.Minute)
	}

	registry := rooms.NewRegistry()
	hub := server.NewHub(registry, broker, conversationRepo)

	tracker := presence.NewTracker(counter, userRepo, hub)
	hub.SetTracker(tracker)

	var storageClient *storage.Client
	if cfg.S3Bucket != "" {
		var err error
		storageClient, err = storage.NewClient(context.Background(), storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
		})
		if err != nil {
			log.Fatalf("Failed to initialize object storage: %v", err)
		}
	}

	authService := services.NewAuthService(userRepo, cfg)
	userService := services.NewUserService(userRepo, tracker, hub)
	conversationService := services.NewConversationService(conversationRepo, messageRepo, friendshipRepo, userRepo, hub)
	messageService := services.NewMessageService(messageRepo, conversationRepo, hub, hub)
	friendshipService := services.NewFriendshipService(friendshipRepo, conversationRepo, notificationRepo, userRepo, hub)
	fileService := services.NewFileService(messageRepo, conversationRepo, storageClient, hub)

	svcs := &server.Services{
		Conversations: conversationService,
		Messages:      messageService,
		Friendships:   friendshipService,
		Users:         userService,
		Files:         fileService,
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go hub.Run(hubCtx)

	srv := server.New(cfg, l, hub)
	srv.SetupRoutes(&server.Handlers{
		Auth: handler.NewAuthHandler(authService),
		User: handler.NewUserHandler(userService),
	}, server.NewWebSocketHandler(hub, svcs, authService), authService)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
