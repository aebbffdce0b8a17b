package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/announce"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/config"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/dispatch"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/httpapi"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/hub"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/printer"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/store/postgres"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	ticketStore := postgres.NewStore(pool, postgres.Options{})
	ticketPrinter := printer.New(cfg.PrinterAddr, cfg.PrinterTimeout)
	synth := announce.NewSynthesizer(announce.Config{
		Provider: cfg.TTSProvider,
		Endpoint: cfg.TTSEndpoint,
		Key:      cfg.TTSKey,
	})

	handler := httpapi.NewHandler(ticketStore, ticketStore, ticketPrinter, synth, httpapi.Options{
		AdminTokenHash: cfg.AdminTokenHash,
		SessionTTL:     cfg.SessionTTL,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:       cfg.RateLimitPerMinute,
		IPBurst:           cfg.RateLimitBurst,
		OperatorPerMinute: cfg.OperatorRateLimitPerMinute,
		OperatorBurst:     cfg.OperatorRateLimitBurst,
	})

	displayHub := hub.New()
	dispatcher := dispatch.New(ticketStore, displayHub, dispatch.Config{
		BatchSize: cfg.EventBatchSize,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())
	mux.Handle("/realtime/", newRealtimeHandler(displayHub))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queue-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go dispatcher.Loop(ctx, cfg.EventPollInterval)

	go func() {
		if cfg.RetentionDays <= 0 || cfg.RetentionInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.RetentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
				purgeCtx, purgeCancel := context.WithTimeout(ctx, 30*time.Second)
				count, err := ticketStore.PurgeCalledBefore(purgeCtx, cutoff, cfg.RetentionBatch)
				purgeCancel()
				if err != nil {
					log.Printf("retention purge error: %v", err)
					continue
				}
				if count > 0 {
					log.Printf("retention purged %d tickets", count)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				handler.Sessions().Sweep()
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// newRealtimeHandler serves the wall display's sockjs connection. Clients
// pick channels with {"action":"subscribe","channel":"calls"} messages.
func newRealtimeHandler(displayHub *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{
			ID:       uuid.NewString(),
			Send:     make(chan []byte, 16),
			Channels: make(map[string]bool),
		}
		displayHub.Register(client)
		defer displayHub.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				displayHub.Unsubscribe(client, parsed.Channel)
				continue
			}
			displayHub.Subscribe(client, parsed.Channel)
		}
	})
}
