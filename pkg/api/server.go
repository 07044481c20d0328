// Package api is the Overlord's HTTP surface: minion callbacks, answer
// polling, operator commands, and read-only status endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nebulus-ai/nebulus/pkg/audit"
	"github.com/nebulus-ai/nebulus/pkg/events"
	"github.com/nebulus-ai/nebulus/pkg/overlord"
	"github.com/nebulus-ai/nebulus/pkg/state"
)

// Config tunes the HTTP server.
type Config struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the production listen settings.
func DefaultConfig() Config {
	return Config{Addr: ":8080"}
}

// Server wires the scheduler and its stores into HTTP handlers.
type Server struct {
	config    Config
	scheduler *overlord.Scheduler
	store     *state.Store
	trail     *audit.Trail
	logger    *slog.Logger

	httpServer *http.Server
}

// NewServer assembles the API server.
func NewServer(config Config, scheduler *overlord.Scheduler, store *state.Store, trail *audit.Trail) *Server {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	return &Server{
		config:    config,
		scheduler: scheduler,
		store:     store,
		trail:     trail,
		logger:    slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/callback", s.Callback)
		apiGroup.GET("/answer/:minion_id", s.GetAnswer)
		apiGroup.POST("/answer/:minion_id", s.PostAnswer)
		apiGroup.POST("/command", s.Command)
		apiGroup.GET("/status", s.Status)
		apiGroup.GET("/history", s.History)
		apiGroup.GET("/audit", s.AuditEntries)
		apiGroup.GET("/audit/verify", s.AuditVerify)
	}
	return router
}

// Start listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	if _, err := s.store.ActiveCount(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Callback handles POST /api/callback from minion reporters.
func (s *Server) Callback(c *gin.Context) {
	var payload events.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.MinionID == "" || payload.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minion_id and event are required"})
		return
	}
	s.scheduler.HandleCallback(payload)
	// Minions treat anything but 200 as a rejection.
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

// GetAnswer handles GET /api/answer/:minion_id?question_id=..., the minion's
// poll loop. Returns answered=false until an operator responds.
func (s *Server) GetAnswer(c *gin.Context) {
	minionID := c.Param("minion_id")
	questionID := c.Query("question_id")
	if questionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question_id is required"})
		return
	}

	answer, ok := s.scheduler.Answers().Take(minionID, questionID)
	c.JSON(http.StatusOK, events.AnswerReply{Answered: ok, Answer: answer})
}

// PostAnswerRequest is the operator-side answer body.
type PostAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	Answer     string `json:"answer" binding:"required"`
}

// PostAnswer handles POST /api/answer/:minion_id from operator surfaces.
func (s *Server) PostAnswer(c *gin.Context) {
	minionID := c.Param("minion_id")
	var req PostAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.scheduler.AnswerQuestion(minionID, req.QuestionID, req.Answer); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "answered"})
}

// CommandRequest carries one operator command line.
type CommandRequest struct {
	Text string `json:"text" binding:"required"`
}

// Command handles POST /api/command and relays the scheduler's reply.
func (s *Server) Command(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	reply, err := s.scheduler.Submit(ctx, req.Text)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// Status handles GET /api/status.
func (s *Server) Status(c *gin.Context) {
	snap, err := s.scheduler.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// History handles GET /api/history?limit=N.
func (s *Server) History(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	hist, err := s.store.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if hist == nil {
		hist = []state.HistoryRecord{}
	}
	c.JSON(http.StatusOK, hist)
}

// AuditEntries handles GET /api/audit?task_id=... (task_id optional; all
// entries when omitted).
func (s *Server) AuditEntries(c *gin.Context) {
	entries, err := s.trail.Entries(c.Query("task_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// AuditVerify handles GET /api/audit/verify and reports chain integrity.
func (s *Server) AuditVerify(c *gin.Context) {
	ok, issues, err := s.trail.VerifyIntegrity()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if issues == nil {
		issues = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"valid": ok, "issues": issues})
}
