package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/medrag/internal/core"
	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/refresh"
)

type Server struct {
	Engine    *core.Engine
	Refresher *refresh.Refresher
	// QueryDeadline applies when a request does not set its own.
	QueryDeadline time.Duration

	logger *slog.Logger
}

func NewServer(engine *core.Engine, refresher *refresh.Refresher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Engine:    engine,
		Refresher: refresher,
		logger:    logger.With("component", "http"),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.Health)
	r.POST("/ask", s.Ask)
	r.POST("/link", s.Link)
	r.POST("/diagnose", s.Diagnose)
	r.GET("/diseases/:name/context", s.DiseaseContext)
	r.POST("/admin/reindex", s.Reindex)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

type AskRequest struct {
	Question string       `json:"question" binding:"required"`
	Options  core.Options `json:"options"`
}

func (s *Server) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	hints, err := parseHints(req.Options.KindHints)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Options.KindHints = hints
	s.applyDeadline(&req.Options)

	ans, err := s.Engine.RetrieveAndAnswer(c.Request.Context(), req.Question, req.Options)
	if err != nil {
		s.logger.Error("ask failed", "query_id", ans.QueryID, "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": model.Code(err), "answer": ans})
		return
	}
	c.JSON(http.StatusOK, ans)
}

type LinkRequest struct {
	Question string       `json:"question" binding:"required"`
	Options  core.Options `json:"options"`
}

func (s *Server) Link(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	hints, err := parseHints(req.Options.KindHints)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Options.KindHints = hints
	s.applyDeadline(&req.Options)

	res, err := s.Engine.Link(c.Request.Context(), req.Question, req.Options)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": model.Code(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": res.Entities, "diagnostics": res.Diagnostics})
}

type DiagnoseRequest struct {
	Symptoms []string `json:"symptoms" binding:"required,min=1,dive,required"`
	Limit    int      `json:"limit" binding:"omitempty,gte=1,lte=100"`
}

func (s *Server) Diagnose(c *gin.Context) {
	var req DiagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	matches, err := s.Engine.DiagnoseBySymptoms(c.Request.Context(), req.Symptoms, req.Limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": model.Code(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"diseases": matches})
}

func (s *Server) DiseaseContext(c *gin.Context) {
	opts := core.Options{}
	s.applyDeadline(&opts)
	rc, err := s.Engine.DiseaseContext(c.Request.Context(), c.Param("name"), opts)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": model.Code(err)})
		return
	}
	c.JSON(http.StatusOK, rc)
}

func (s *Server) Reindex(c *gin.Context) {
	if s.Refresher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reindex is not configured"})
		return
	}
	rep, err := s.Refresher.Reindex(c.Request.Context())
	if err != nil {
		s.logger.Error("reindex failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rebuild index"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) Health(c *gin.Context) {
	ix := s.Engine.Lexicon.Load()
	status, code := "ok", http.StatusOK
	if ix.Size() == 0 {
		status, code = "empty index", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"nodes":      ix.Size(),
		"built_at":   ix.BuiltAt(),
		"cache_size": s.Engine.Cache.Len(),
	})
}

func (s *Server) applyDeadline(o *core.Options) {
	if o.Deadline == 0 && s.QueryDeadline > 0 {
		o.Deadline = s.QueryDeadline
	}
}

// parseHints canonicalizes kind hints so "disease" reads as Disease.
func parseHints(kinds []model.Kind) ([]model.Kind, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	out := make([]model.Kind, 0, len(kinds))
	for _, k := range kinds {
		parsed, err := model.ParseKind(string(k))
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidWeights):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrGraphUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
