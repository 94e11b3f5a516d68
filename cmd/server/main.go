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

	"github.com/rs/zerolog/log"

	"github.com/koinonia/teamchat/internal/config"
	"github.com/koinonia/teamchat/internal/docstore"
	"github.com/koinonia/teamchat/internal/handlers"
	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/push"
	"github.com/koinonia/teamchat/internal/services"
	"github.com/koinonia/teamchat/internal/websocket"
)

func main() {
	// Load configuration from environment
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogPretty)

	db, err := docstore.Open(docstore.Options{
		Path:       cfg.DataDir,
		BatchLimit: cfg.FanoutBatchSize,
	})
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to open datastore")
	}

	pushClient := push.NewClient(push.Options{
		BaseURL:     cfg.PushAPIURL,
		AccessToken: cfg.PushAccessToken,
		RatePerSec:  cfg.PushRatePerSec,
	})

	// Initialize services
	conversationService := services.NewConversationService(db)
	messageService := services.NewMessageService(db)
	directoryService := services.NewDirectoryService(db, pushClient)
	sweeper := services.NewPresenceSweeper(db, cfg.PresenceSweepInterval, cfg.PresenceTTL)

	// Start background presence sweeper
	go sweeper.Start()

	hub := websocket.NewHub(db, db)
	go hub.Run()

	log.Info().Strs("origins", cfg.CORSOrigins).Msg("CORS allowed origins")

	router := handlers.NewRouter(handlers.RouterConfig{
		Conversations:  conversationService,
		Messages:       messageService,
		Directory:      directoryService,
		Store:          db,
		Stream:         websocket.NewHandler(hub, db).ServeWS,
		CORSOrigins:    cfg.CORSOrigins,
		SendRatePerSec: cfg.SendRatePerSec,
		SendBurst:      cfg.SendBurst,
		RequestLogging: true,
	})

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("teamchat server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	hub.Stop()
	sweeper.Stop()
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close datastore")
	}
}
