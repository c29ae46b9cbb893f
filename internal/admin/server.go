// Package admin owns the optional HTTP surface for operators: health,
// metrics, and dispatcher stats. The datagram fabric does not depend on it.
package admin

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/janus-ipc/janus/internal/auth"
	"github.com/janus-ipc/janus/internal/observability"
	"github.com/janus-ipc/janus/internal/server"
)

// Server exposes one dispatcher over HTTP.
type Server struct {
	dispatcher *server.Server
	router     *gin.Engine
	httpSrv    *http.Server
}

// New wires routes for dispatcher. A non-empty token puts every route
// behind bearer authentication.
func New(dispatcher *server.Server, corsOrigins []string, token string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Logger))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	if token != "" {
		r.Use(requireToken(auth.StaticToken{Token: token}))
	}
	s := &Server{dispatcher: dispatcher, router: r}
	s.registerRoutes()
	return s
}

func requireToken(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if err := validator.Validate(header[len(prefix):]); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"server":  s.dispatcher.Name(),
			"uptime":  s.dispatcher.Uptime().String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/stats", func(c *gin.Context) {
		handlers := s.dispatcher.HandlerNames()
		sort.Strings(handlers)
		c.JSON(http.StatusOK, gin.H{
			"server":         s.dispatcher.Name(),
			"uptime_seconds": s.dispatcher.Uptime().Seconds(),
			"handlers":       handlers,
		})
	})
}

// Start serves addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	log.Info().Str("addr", addr).Msg("admin surface listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	}
}
