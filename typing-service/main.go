package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Seuncoded/aztec-room/pkg/telemetry"
)

// typingTTL is how long an announce keeps a handle in the active set. A
// client that keeps typing re-announces well inside this window; one that
// stops (or loses connectivity) silently drops out of the next read.
const typingTTL = 5 * time.Second

// AnnouncePayload is the payload clients publish to typing.announce.{room}.
type AnnouncePayload struct {
	Handle string `json:"handle"`
}

// ActiveResponse is the reply to typing.active.{room} queries.
type ActiveResponse struct {
	Items []string `json:"items"`
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx := context.Background()

	otelShutdown, err := telemetry.Setup(ctx, "typing-service")
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx)

	meter := otel.Meter("typing-service")
	announceCounter, _ := meter.Int64Counter("typing_announces_total",
		metric.WithDescription("Total typing announcements received"))
	queryCounter, _ := meter.Int64Counter("typing_queries_total",
		metric.WithDescription("Total active-typers queries"))
	queryDuration, _ := telemetry.DurationHistogram(meter, "typing_query_duration_seconds", "Duration of active-typers queries")

	natsURL := envOrDefault("NATS_URL", "nats://localhost:4222")
	natsUser := envOrDefault("NATS_USER", "typing-service")
	natsPass := envOrDefault("NATS_PASS", "typing-service-secret")

	slog.Info("Starting Typing Service", "nats_url", natsURL, "ttl", typingTTL)

	store := newTypingStore(typingTTL)

	// Connect to NATS with retry
	var nc *nats.Conn
	for attempt := 1; attempt <= 30; attempt++ {
		nc, err = nats.Connect(natsURL,
			nats.UserInfo(natsUser, natsPass),
			nats.Name("typing-service"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("NATS disconnected", "error", err)
			}),
		)
		if err == nil {
			break
		}
		slog.Info("Waiting for NATS", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("Connected to NATS", "url", nc.ConnectedUrl())

	// Active rooms gauge over the in-memory store
	activeRoomsGauge, _ := meter.Int64ObservableGauge("typing_active_rooms",
		metric.WithDescription("Rooms with at least one unexpired typing entry"))
	_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(activeRoomsGauge, int64(store.roomCount()))
		return nil
	}, activeRoomsGauge)

	// Subscribe to typing.announce.* — plain subscription, no queue group:
	// every instance keeps its own store so any instance can answer queries.
	_, err = nc.Subscribe("typing.announce.*", func(msg *nats.Msg) {
		ctx, span := telemetry.ConsumerSpan(context.Background(), msg, "typing announce")
		defer span.End()

		room := strings.ToLower(strings.TrimPrefix(msg.Subject, "typing.announce."))
		if room == "" {
			return
		}
		span.SetAttributes(attribute.String("chat.room", room))

		var p AnnouncePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Handle == "" {
			return
		}

		store.announce(room, p.Handle)
		announceCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("room", room),
		))
	})
	if err != nil {
		slog.Error("Failed to subscribe to typing.announce.*", "error", err)
		os.Exit(1)
	}

	// Subscribe to typing.active.* — request/reply for the current typer list
	_, err = nc.Subscribe("typing.active.*", func(msg *nats.Msg) {
		start := time.Now()
		ctx, span := telemetry.ServerSpan(context.Background(), msg, "typing active query")
		defer span.End()

		room := strings.ToLower(strings.TrimPrefix(msg.Subject, "typing.active."))
		if room == "" {
			msg.Respond([]byte(`{"items":[]}`))
			return
		}
		span.SetAttributes(attribute.String("chat.room", room))

		items := store.active(room)
		if items == nil {
			items = []string{}
		}
		data, err := json.Marshal(ActiveResponse{Items: items})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to marshal typers", "error", err)
			span.RecordError(err)
			msg.Respond([]byte(`{"items":[]}`))
			return
		}
		msg.Respond(data)

		attrs := metric.WithAttributes(attribute.String("room", room))
		queryCounter.Add(ctx, 1, attrs)
		queryDuration.Record(ctx, time.Since(start).Seconds(), attrs)

		span.SetAttributes(attribute.Int("typing.active_count", len(items)))
		slog.DebugContext(ctx, "Served typers query", "room", room, "typers", len(items))
	})
	if err != nil {
		slog.Error("Failed to subscribe to typing.active.*", "error", err)
		os.Exit(1)
	}

	slog.Info("Typing service ready — listening for typing.announce.*, typing.active.*")

	// Wait for shutdown
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("Shutting down typing service")
	nc.Drain()
}
