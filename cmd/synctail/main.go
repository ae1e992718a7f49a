// Package main is the entry point for synctail, a CLI that attaches the
// sync engine to one conversation, prints events as they are ingested,
// and sends stdin lines as user messages.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/conversation-sync/internal/config"
	"github.com/capitalize-ai/conversation-sync/internal/conn"
	"github.com/capitalize-ai/conversation-sync/internal/engine"
	"github.com/capitalize-ai/conversation-sync/internal/model"
	"github.com/capitalize-ai/conversation-sync/internal/relay"
	"github.com/capitalize-ai/conversation-sync/pkg/logger"
	"github.com/capitalize-ai/conversation-sync/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if cfg.ConversationID == "" {
		log.Error("CONVERSATION_ID is required")
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conversation-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Expose metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Warnw("metrics server stopped", "error", err)
		}
	}()

	// Build and start the engine
	eng := engine.New(engine.Config{
		ConversationID: cfg.ConversationID,
		WSURL:          fmt.Sprintf("%s/%s/ws", strings.TrimSuffix(cfg.BackendWSURL, "/"), cfg.ConversationID),
		APIBaseURL:     cfg.BackendAPIURL,
		Token:          cfg.BackendToken,
		Conn: conn.Config{
			DialTimeout:    cfg.DialTimeout,
			BackoffInitial: cfg.BackoffInitial,
			BackoffMax:     cfg.BackoffMax,
		},
		PrepopulateHistory: true,
	}, log)

	eng.Start(ctx)
	defer eng.Stop()

	log.Infow("tailing conversation", "conversation_id", cfg.ConversationID)

	// Optional NATS fan-out
	var fanout *relay.Relay
	if cfg.NATSURL != "" {
		fanout, err = relay.Connect(ctx, relay.Config{URL: cfg.NATSURL, Token: cfg.NATSToken}, log)
		if err != nil {
			log.Errorw("failed to connect NATS relay", "error", err)
			os.Exit(1)
		}
		defer fanout.Close()
	}

	// Forward stdin lines as user messages
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			eng.Send(model.NewMessageAction(line))
		}
	}()

	updates := eng.Subscribe(64)
	defer eng.Unsubscribe(updates)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	printed := 0
	relayed := 0
	for {
		select {
		case <-quit:
			log.Infow("shutting down")
			return

		case u := <-updates:
			switch u.Kind {
			case engine.UpdateEvents:
				snapshot := eng.Events()
				for ; printed < len(snapshot); printed++ {
					printEvent(snapshot[printed])
				}
				if fanout != nil {
					relayed, err = fanout.PublishNew(ctx, cfg.ConversationID, snapshot, relayed)
					if err != nil {
						log.Warnw("relay publish failed", "error", err)
					}
				}

			case engine.UpdateError:
				if st := eng.ErrorState(); st != nil {
					fmt.Printf("!! [%s] %s\n", st.Origin, st.Message)
				}

			case engine.UpdateConnection:
				log.Debugw("connection state", "state", eng.ConnectionState())

			case engine.UpdateHistory:
				if !eng.LoadingHistory() {
					log.Infow("history loaded", "events", len(eng.Events()))
				}
			}
		}
	}
}

func printEvent(ev *model.Event) {
	switch ev.Kind {
	case model.KindMessage:
		fmt.Printf("[%s] %s\n", ev.Source, ev.Message.Content)
	case model.KindAction:
		fmt.Printf("[%s] action: %s\n", ev.Source, ev.Action.Name)
	case model.KindObservation:
		fmt.Printf("[%s] observation: %s\n", ev.Source, ev.Observation.Name)
	case model.KindError:
		fmt.Printf("[%s] error: %s\n", ev.Source, ev.Error.Detail)
	}
}
