// Command chatdemo is a small gin server exposing the room lifecycle
// manager and its feature facades over REST, grounded on the
// teacher's cmd/server: the same zerolog console bootstrap and
// signal.NotifyContext graceful shutdown, generalized from one voice
// server process to one chat room registry.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/config"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/historyclient"
	"github.com/ably-labs/ably-chat-go/internal/registry"
	"github.com/ably-labs/ably-chat-go/internal/roomwiring"
	"github.com/ably-labs/ably-chat-go/internal/transport/wschannel"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	history, err := historyclient.New(envOr("CHAT_HISTORY_URL", "http://localhost:8081"), 256, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build history client")
	}

	newChannel := roomwiring.WSChannelFactory(envOr("CHAT_REALTIME_URL", "ws://localhost:8082/ws"), wschannel.NewDialer(), log.Logger)

	a := &app{
		registry: registry.New(log.Logger),
		build: func(room *domain.Room) *registry.Entry {
			return roomwiring.Build(room, newChannel, history, cfg.LifecycleConfig(), cfg.TypingDebounce, cfg.TypingRetryConfig(), clock.New(), log.Logger)
		},
	}

	r := setupRouter(cfg, a)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("chatdemo server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
