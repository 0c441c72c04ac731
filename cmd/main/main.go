// Command main runs the memory engine as a standalone process: it assembles
// the engine from configuration, exposes health and metrics endpoints, and
// optionally walks through a demo conversation to exercise the full
// record-extract-recall loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"engram-backend/internal/config"
	"engram-backend/internal/di"
	"engram-backend/internal/domain"
	"engram-backend/internal/infrastructure/observability"
	"engram-backend/internal/service/conversation"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	demo := flag.Bool("demo", false, "run a scripted conversation and exit")
	listen := flag.String("listen", ":8080", "health and metrics listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer container.Shutdown()

	logger := container.Logger
	logger.Info("engine starting",
		zap.String("environment", string(cfg.Environment)),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Strings("config_sources", cfg.LoadedFrom))

	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(cfg.Environment),
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Enabled:     cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() {
			_ = tracerProvider.Shutdown(context.Background())
		}()
	}

	// In development the config watcher retunes the log level without a
	// restart.
	if cfg.IsDevelopment() {
		watcher, err := config.NewWatcher(cfg, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			watcher.OnReload(func(updated *config.Config) {
				if level, err := zapcore.ParseLevel(updated.Logging.Level); err == nil {
					container.LogLevel.SetLevel(level)
				}
			})
			defer watcher.Stop()
		}
	}

	if *demo {
		if err := runDemo(ctx, container); err != nil {
			logger.Error("demo failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(container.Metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: *listen, Handler: mux}
	go func() {
		logger.Info("serving health and metrics", zap.String("addr", *listen))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// runDemo records a short conversation, waits for extraction, and prints
// what the engine recalls.
func runDemo(ctx context.Context, container *di.Container) error {
	facade := container.Facade

	user, err := facade.CreateUser(ctx, "Demo User", "demo@example.com", nil)
	if err != nil {
		return err
	}

	session, err := facade.StartConversation(ctx, user.ID, "", nil)
	if err != nil {
		return err
	}

	exchanges := []struct {
		user      string
		assistant string
		cards     []domain.CardInput
	}{
		{
			user:      "My favorite food is sushi and I live in Lisbon",
			assistant: "Sushi in Lisbon, got it. Want some recommendations?",
		},
		{
			user:      "Yes please, show me a couple of places",
			assistant: "Here are two spots you might like.",
			cards: []domain.CardInput{
				{CardType: "restaurant", Payload: domain.Attributes{"name": "Sushico", "rating": 4.6}},
				{CardType: "restaurant", Payload: domain.Attributes{"name": "Maru", "rating": 4.8}},
			},
		},
	}

	for _, ex := range exchanges {
		result, err := facade.RecordTurn(ctx, conversation.RecordTurnInput{
			SessionID:     session.ID,
			UserText:      ex.user,
			AssistantText: ex.assistant,
			Cards:         ex.cards,
		})
		if err != nil {
			return err
		}
		fmt.Printf("recorded turns %d/%d (%d cards)\n", result.UserTurn, result.AssistantTurn, result.CardsAttached)
	}

	facade.Flush()

	bundle, err := facade.ContextForNextTurn(ctx, session.ID, "where should I eat tonight?")
	if err != nil {
		return err
	}
	fmt.Printf("recent history: %d turns\n", len(bundle.RecentHistory))
	for _, scored := range bundle.TopMemories {
		fmt.Printf("memory (%.3f): %s\n", scored.Similarity, scored.Memory.Text)
	}
	for category, facts := range bundle.Profile {
		for _, fact := range facts {
			fmt.Printf("fact %s/%s = %v (confidence %d)\n", category, fact.Key, fact.Value["value"], fact.Confidence)
		}
	}

	// "The first card from the last exchange."
	card, err := facade.ResolveCard(ctx, session.ID, 0, 0)
	if err != nil {
		return err
	}
	fmt.Printf("card at offset 0/0: %s %v\n", card.CardType, card.Payload["name"])

	return facade.EndConversation(ctx, session.ID)
}
