package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Seuncoded/aztec-room/api-gateway/config"
	"github.com/Seuncoded/aztec-room/pkg/telemetry"
)

// sendBody is the POST /api/messages request body.
type sendBody struct {
	Room   string `json:"room"`
	Handle string `json:"handle"`
	Text   string `json:"text"`
}

// dmBody is the POST /api/dm request body.
type dmBody struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// typingBody is the POST /api/typing request body.
type typingBody struct {
	Room   string `json:"room"`
	Handle string `json:"handle"`
}

func cleanRoom(room string) string {
	return strings.ToLower(strings.TrimSpace(room))
}

// cors mirrors the headers the original Next.js API routes set. Browsers
// polling from another origin preflight every POST.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func main() {
	ctx := context.Background()

	cfg := config.Load()

	otelShutdown, err := telemetry.Setup(ctx, "api-gateway")
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx)

	meter := otel.Meter("api-gateway")
	requestCounter, _ := meter.Int64Counter("gateway_requests_total",
		metric.WithDescription("Total REST requests proxied to the bus"))

	slog.Info("Starting API Gateway", "nats_url", cfg.NatsURL, "port", cfg.Port)

	// Connect to NATS with retry
	var nc *nats.Conn
	for attempt := 1; attempt <= 30; attempt++ {
		nc, err = nats.Connect(cfg.NatsURL,
			nats.UserInfo(cfg.NatsUser, cfg.NatsPass),
			nats.Name("api-gateway"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
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

	// request sends a bus request and relays the JSON reply. Service-level
	// {"error":...} replies become 500s; an unreachable backend is a 502.
	request := func(c *gin.Context, subject string, payload any, okStatus int) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		data, _ := json.Marshal(payload)
		reply, err := telemetry.Request(reqCtx, nc, subject, data)

		requestCounter.Add(reqCtx, 1, metric.WithAttributes(attribute.String("subject", subject)))

		if err != nil {
			slog.Warn("Backend request failed", "subject", subject, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
			return
		}
		var probe struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(reply.Data, &probe) == nil && probe.Error != "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": probe.Error})
			return
		}
		c.Data(okStatus, "application/json", reply.Data)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "api-gateway"})
	})

	api := router.Group("/api")
	{
		api.GET("/rooms", func(c *gin.Context) {
			request(c, "chat.rooms", gin.H{}, http.StatusOK)
		})

		api.GET("/messages", func(c *gin.Context) {
			room := cleanRoom(c.Query("room"))
			if room == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "room required"})
				return
			}
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "80"))
			request(c, "chat.history."+room, gin.H{"limit": limit}, http.StatusOK)
		})

		api.POST("/messages", func(c *gin.Context) {
			var body sendBody
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
				return
			}
			room := cleanRoom(body.Room)
			if room == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "room required"})
				return
			}
			if strings.TrimSpace(body.Text) == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
				return
			}
			request(c, "chat.send."+room,
				gin.H{"handle": body.Handle, "text": body.Text}, http.StatusCreated)
		})

		api.GET("/dm", func(c *gin.Context) {
			me := strings.TrimSpace(c.Query("me"))
			with := strings.TrimSpace(c.Query("with"))
			if me == "" || with == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'me' or 'with'"})
				return
			}
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
			request(c, "dm.history",
				gin.H{"me": me, "with": with, "limit": limit}, http.StatusOK)
		})

		api.POST("/dm", func(c *gin.Context) {
			var body dmBody
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
				return
			}
			if body.From == "" || body.To == "" || strings.TrimSpace(body.Text) == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'from', 'to', or 'text'"})
				return
			}
			request(c, "dm.send",
				gin.H{"from": body.From, "to": body.To, "text": body.Text}, http.StatusOK)
		})

		api.GET("/typing", func(c *gin.Context) {
			room := cleanRoom(c.Query("room"))
			if room == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "room required"})
				return
			}
			request(c, "typing.active."+room, gin.H{}, http.StatusOK)
		})

		// Typing announce is fire-and-forget: publish and answer 204 without
		// waiting; a lost announce only delays the indicator one poll.
		api.POST("/typing", func(c *gin.Context) {
			var body typingBody
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
				return
			}
			room := cleanRoom(body.Room)
			if room == "" || body.Handle == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "room & handle required"})
				return
			}
			data, _ := json.Marshal(gin.H{"handle": body.Handle})
			if err := telemetry.Publish(c.Request.Context(), nc, "typing.announce."+room, data); err != nil {
				slog.Debug("Typing announce dropped", "room", room, "error", err)
			}
			c.Status(http.StatusNoContent)
		})
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("API gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("Shutting down API gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	nc.Drain()
}
