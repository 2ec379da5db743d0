package api

import (
	"context"
	"log"
	"net/http"

	"github.com/zlnvch/whiteboard/api/rest"
	"github.com/zlnvch/whiteboard/api/ws"
	"github.com/zlnvch/whiteboard/cache"
	"github.com/zlnvch/whiteboard/mq"
	"github.com/zlnvch/whiteboard/relay"
	"github.com/zlnvch/whiteboard/service"
	"github.com/zlnvch/whiteboard/store"
	"github.com/zlnvch/whiteboard/worker"
)

type WhiteboardAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

type Options struct {
	OIDC            service.OIDCProvider
	JWTSecret       []byte
	InstanceId      string
	ActivityFlushMs int
}

func NewWhiteboardAPI(
	whiteboardStore store.WhiteboardStore,
	whiteboardCache cache.WhiteboardCache,
	roomClosedQueue mq.MessageQueue,
	opts Options,
	shutdownCtx context.Context,
) (*WhiteboardAPI, error) {
	activityBatcher := worker.NewActivityBatcher(whiteboardStore, opts.ActivityFlushMs)
	go activityBatcher.Run(shutdownCtx)

	memberCounter := worker.NewMemberCounter(whiteboardCache)

	mqConsumer := worker.NewMQConsumer(roomClosedQueue, whiteboardStore)
	go mqConsumer.Run(shutdownCtx)

	svc, err := service.NewService(
		whiteboardStore,
		whiteboardCache,
		roomClosedQueue,
		activityBatcher,
		memberCounter,
		opts.OIDC,
		opts.JWTSecret,
		opts.InstanceId,
	)
	if err != nil {
		log.Printf("Failed to create service: %v", err)
		return &WhiteboardAPI{}, err
	}

	go memberCounter.Run(shutdownCtx, svc.RoomClosed)

	roomRelay := relay.New(relay.WithBus(whiteboardCache, opts.InstanceId))
	go func() {
		<-shutdownCtx.Done()
		roomRelay.Close()
	}()

	wsHub := ws.NewHub(roomRelay, svc)
	go wsHub.Run()

	return &WhiteboardAPI{
		restHandler: rest.NewHandler(svc),
		wsHandler:   ws.NewHandler(svc, roomRelay, wsHub),
		shutdownCtx: shutdownCtx,
	}, nil
}

func (whiteboardAPI *WhiteboardAPI) RegisterRoutes(mux *http.ServeMux, allowedOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/login", whiteboardAPI.restHandler.HandleLogin)
	mux.HandleFunc("/me", whiteboardAPI.restHandler.HandleMe)
	mux.HandleFunc("POST /sessions", whiteboardAPI.restHandler.HandleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", whiteboardAPI.restHandler.HandleGetSession)

	wsUpgrader := whiteboardAPI.wsHandler.NewWsUpgrader(allowedOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		whiteboardAPI.wsHandler.ServeWS(wsUpgrader, w, r, whiteboardAPI.shutdownCtx)
	})
}
