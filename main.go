package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/whiteboard/api"
	"github.com/zlnvch/whiteboard/cache/redis"
	"github.com/zlnvch/whiteboard/config"
	"github.com/zlnvch/whiteboard/mq/sqsmq"
	"github.com/zlnvch/whiteboard/service"
	"github.com/zlnvch/whiteboard/store/dynamo"
	"golang.org/x/oauth2"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	jwtSecret, err := cfg.DecodedJWTSecret()
	if err != nil {
		log.Fatalf("Failed to decode jwtSecret: %v", err)
	}

	instanceId := cfg.InstanceId
	if instanceId == "" {
		instanceId = uuid.Must(uuid.NewV4()).String()
	}

	whiteboardStore, err := dynamo.NewDynamoWhiteboardStore(ctx, cfg.DevMode, cfg.DynamoDBEndpoint, cfg.DynamoDBTable)
	if err != nil {
		log.Fatalf("Failed to create dynamodb store: %v", err)
	}

	roomClosedQueue, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.SQSEndpoint, cfg.SQSRoomClosedQueue)
	if err != nil {
		log.Fatalf("Failed to create SQS MQ: %v", err)
	}

	whiteboardCache, err := redis.NewRedisWhiteboardCache(ctx, cfg.DevMode, cfg.RedisEndpoint)
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	oidc := service.OIDCProvider{UserInfoURL: cfg.OIDC.UserInfoURL}
	if cfg.OIDC.ClientID != "" {
		oidc.OAuth = &oauth2.Config{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OIDC.AuthURL,
				TokenURL: cfg.OIDC.TokenURL,
			},
		}
	} else {
		log.Printf("OIDC_CLIENT_ID not set, login is disabled")
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	whiteboardApi, err := api.NewWhiteboardAPI(whiteboardStore, whiteboardCache, roomClosedQueue, api.Options{
		OIDC:            oidc,
		JWTSecret:       jwtSecret,
		InstanceId:      instanceId,
		ActivityFlushMs: cfg.ActivityFlushMs,
	}, shutdownCtx)
	if err != nil {
		log.Fatalf("Failed to create whiteboard api: %v", err)
	}

	mux := http.NewServeMux()
	whiteboardApi.RegisterRoutes(mux, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              ":" + cfg.HostPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting relay %s on host port: %s", instanceId, cfg.HostPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	log.Printf("Server shutting down...")

	// Websocket pumps close on shutdownCtx; give them and the batcher a moment
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		log.Printf("Failed to shut down cleanly: %v", err)
	}
}
