package remote

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mindmap/internal/adapters/metrics"
	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// Server exposes a Backend over HTTP
type Server struct {
	backend *Backend
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewServer creates a server. metrics may be nil.
func NewServer(backend *Backend, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, metrics: m, logger: logger}
}

// Router builds the gin routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	docs := r.Group("/documents")
	docs.GET("", s.listDocuments)
	docs.GET("/:id", s.getDocument)
	docs.GET("/:id/version", s.getVersion)
	docs.POST("/:id/changes", s.uploadChanges)
	docs.PUT("/:id", s.replaceDocument)
	return r
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) listDocuments(c *gin.Context) {
	docs := s.backend.List()
	out := make([]documentJSON, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentJSON(d))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getDocument(c *gin.Context) {
	snap, err := s.backend.FetchDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSnapshotJSON(snap))
}

func (s *Server) getVersion(c *gin.Context) {
	v, err := s.backend.FetchDocumentVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, versionJSON{UpdatedAt: v})
}

func (s *Server) uploadChanges(c *gin.Context) {
	var body changesJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorJSON{Error: err.Error()})
		return
	}

	id := c.Param("id")
	v, err := s.backend.UploadChanges(c.Request.Context(), id, body.changeSet())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("changes stored",
		"mindmap", id,
		"updated", len(body.UpdatedNodes),
		"deleted", len(body.DeletedIDs),
		"version", v)
	c.JSON(http.StatusOK, versionJSON{UpdatedAt: v})
}

func (s *Server) replaceDocument(c *gin.Context) {
	var body snapshotJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorJSON{Error: err.Error()})
		return
	}

	id := c.Param("id")
	if body.Document.ID == "" {
		body.Document.ID = id
	}
	if body.Document.ID != id {
		c.JSON(http.StatusBadRequest, errorJSON{Error: "document id does not match the path"})
		return
	}

	v, err := s.backend.Replace(c.Request.Context(), body.snapshot())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("document replaced", "mindmap", id, "nodes", len(body.Nodes), "version", v)
	c.JSON(http.StatusOK, versionJSON{UpdatedAt: v})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrNoRemoteCopy):
		status = http.StatusNotFound
	case errors.Is(err, ErrMissingDocument), isTreeError(err):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, errorJSON{Error: err.Error()})
}

func isTreeError(err error) bool {
	return errors.Is(err, domain.ErrNoRoot) ||
		errors.Is(err, domain.ErrMultipleRoots) ||
		errors.Is(err, domain.ErrDanglingNode) ||
		errors.Is(err, domain.ErrCycleDetected) ||
		errors.Is(err, domain.ErrOrderGap)
}
