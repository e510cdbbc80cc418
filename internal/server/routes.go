package server

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/juju/ratelimit"

	"github.com/BioHazard786/meshcall/internal/hub"
)

// Options configures the relay's HTTP surface.
type Options struct {
	// AllowedOrigins restricts browser origins for /ws and /roster. "*" allows all.
	AllowedOrigins []string

	// RateLimit is the sustained inbound frame rate per connection; RateBurst its bucket size.
	RateLimit float64
	RateBurst int64

	Logger *slog.Logger
}

func (o Options) allowAll() bool {
	return len(o.AllowedOrigins) == 0 || slices.Contains(o.AllowedOrigins, "*")
}

// NewRouter wires /health, /roster and /ws onto a gin engine.
func NewRouter(h *hub.Hub, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With("component", "http")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	corsCfg := cors.DefaultConfig()
	if opts.allowAll() {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Signaling relay is healthy.")
	})

	r.GET("/roster", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Roster())
	})

	r.GET("/ws", ServeWs(h, opts, log))

	return r
}

// ServeWs upgrades the request and hands the connection to the hub.
func ServeWs(h *hub.Hub, opts Options, log *slog.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || opts.allowAll() || slices.Contains(opts.AllowedOrigins, origin)
		},
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("failed to upgrade connection", "error", err)
			return
		}

		var limiter *ratelimit.Bucket
		if opts.RateLimit > 0 && opts.RateBurst > 0 {
			limiter = ratelimit.NewBucketWithRate(opts.RateLimit, opts.RateBurst)
		}

		client := hub.NewClient(h, conn, limiter)
		if !h.Attach(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}
