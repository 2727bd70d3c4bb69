package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"deliveryd/internal/catalog"
	"deliveryd/internal/event"
	"deliveryd/internal/notifier"
	"deliveryd/internal/runtime/supervisor"
	"deliveryd/internal/task/engine"
	"deliveryd/internal/task/scheduler"
	logx "deliveryd/pkg/logx"
)

// Lifecycle is the part of the lifecycle manager the API drives.
type Lifecycle interface {
	StartEvent(name string, force bool) (*event.Active, error)
	EndEvent(name string) []event.Winner
	RecordDelivery(participant, name string, amount int64) bool
	ActiveEvent(name string) (*event.Active, bool)
	ActiveEvents() []*event.Active
	SetEndTime(name string, at time.Time) error
	SetWinnerCount(name string, n int) error
}

type Catalog interface {
	Current() *catalog.Snapshot
}

type Schedules interface {
	Snapshot() []scheduler.Entry
}

// Results reads finished event results. Optional; storage.Store satisfies it.
type Results interface {
	RecentResults(ctx context.Context, id string, limit int) ([]event.Result, error)
}

// Notifications lists recently sent announcements. Optional.
type Notifications interface {
	History() []notifier.HistoryItem
}

// Engine reports the task engine queue. Optional.
type Engine interface {
	Snapshot() engine.Snapshot
}

// Supervisor reports goroutine counters and the first fatal error. Optional.
type Supervisor interface {
	Snapshot() supervisor.Snapshot
}

// ReloadFunc reloads the catalog from its source.
type ReloadFunc func(ctx context.Context) catalog.Result

type Config struct {
	Addr         string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Pprof mounts the runtime profiles under /debug/pprof.
	Pprof bool
}

type Deps struct {
	Lifecycle     Lifecycle
	Catalog       Catalog
	Schedules     Schedules
	Results       Results
	Notifications Notifications
	Engine        Engine
	Supervisor    Supervisor
	Reload        ReloadFunc
}

// Server encapsulates the HTTP server and its routes.
type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	router *gin.Engine
}

func init() { gin.SetMode(gin.ReleaseMode) }

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	s := &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "http"))}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api/v1", s.auth())
	api.GET("/deliveries", s.handleListDeliveries)
	api.GET("/events", s.handleListEvents)
	api.GET("/events/:id", s.handleGetEvent)
	api.POST("/events/:id/start", s.handleStartEvent)
	api.POST("/events/:id/end", s.handleEndEvent)
	api.POST("/events/:id/deliveries", s.handleRecordDelivery)
	api.PATCH("/events/:id", s.handlePatchEvent)
	api.GET("/schedules", s.handleListSchedules)
	api.GET("/results", s.handleListResults)
	api.GET("/notifications", s.handleListNotifications)
	api.GET("/runtime", s.handleRuntime)
	api.POST("/reload", s.handleReload)

	if s.cfg.Pprof {
		s.mountPprof()
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr), logx.Bool("token_set", s.cfg.Token != ""))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		return err
	}
	s.log.Info("http api stopped")
	return nil
}

func (s *Server) auth() gin.HandlerFunc {
	want := strings.TrimSpace(s.cfg.Token)
	return func(c *gin.Context) {
		if want == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if status >= 500 {
			s.log.Warn("http request", fields...)
			return
		}
		s.log.Debug("http request", fields...)
	}
}
