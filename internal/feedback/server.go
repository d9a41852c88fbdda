package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"coach/internal/model"
	"coach/internal/platform"
)

// Controller is what the HTTP front-end drives.
type Controller interface {
	Target
	Status(agentID string) (model.AgentSummary, error)
	Summary() model.SessionSummary
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

type Server struct {
	ctrl    Controller
	cfg     ServerConfig
	logger  *slog.Logger
	engine  *gin.Engine
	started time.Time
}

type healthResponse struct {
	Status     string  `json:"status"`
	SessionID  string  `json:"session_id"`
	Frames     int64   `json:"frames"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	RSS        uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

func NewServer(ctrl Controller, cfg ServerConfig) (*Server, error) {
	if ctrl == nil {
		return nil, errors.New("controller is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctrl:    ctrl,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "feedback")),
		started: time.Now(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests())
	engine.GET("/health", s.handleHealth)
	engine.GET("/agents", s.handleAgents)
	engine.GET("/agents/:id/status", s.handleStatus)
	engine.POST("/agents/:id/approve", s.handleVerdict(Approve))
	engine.POST("/agents/:id/disapprove", s.handleVerdict(Disapprove))
	s.engine = engine
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx ends and then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("feedback server listening", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("feedback server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown feedback server: %w", err)
		}
		<-errCh
		return nil
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) handleVerdict(v Verdict) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := Send(s.ctrl, Binding{AgentID: id, Verdict: v}); err != nil {
			s.writeError(c, err)
			return
		}
		status, err := s.ctrl.Status(id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "verdict": v, "agent": status})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.ctrl.Status(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Summary())
}

func (s *Server) handleHealth(c *gin.Context) {
	summary := s.ctrl.Summary()
	resp := healthResponse{
		Status:     "healthy",
		SessionID:  summary.ID,
		Frames:     summary.Frames,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			resp.RSS = mem.RSS
		}
		if pct, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = pct
		}
	} else {
		s.logger.Warn("process stats unavailable", slog.Any("err", err))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, platform.ErrUnknownAgent) {
		code = http.StatusNotFound
	} else {
		s.logger.Error("feedback request failed", slog.Any("err", err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
