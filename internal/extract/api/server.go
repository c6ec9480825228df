// Package api exposes the extraction chain over HTTP.
//
// It serves the two extraction endpoints consumed by the ingestion
// pipeline: POST /pdf-extractor for single-file conversion and
// POST /url-extractor for batched URL crawling.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// Service is the extraction capability the server fronts.
// *extract.Chain satisfies it.
type Service interface {
	Extract(ctx context.Context, source string) (string, error)
}

// Server wires the extraction service into HTTP handlers.
type Server struct {
	extractor Service
}

// NewServer creates an extraction API server over the given service.
func NewServer(extractor Service) *Server {
	return &Server{extractor: extractor}
}

// Router builds the gin engine with both extraction endpoints.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/pdf-extractor", s.handlePDFExtract)
	r.POST("/url-extractor", s.handleURLExtract)

	return r
}

type pdfExtractRequest struct {
	FilePath        string `json:"file_path" binding:"required"`
	ImageExportMode string `json:"image_export_mode"`
	TableMode       string `json:"table_mode"`
}

func (s *Server) handlePDFExtract(c *gin.Context) {
	var req pdfExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "File not found: " + req.FilePath})
		return
	}
	if info.Size() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Empty file uploaded"})
		return
	}

	// The uploaded temp file is consumed by this request.
	defer func() { _ = os.Remove(req.FilePath) }()

	text, err := s.extractor.Extract(c.Request.Context(), req.FilePath)
	if err != nil {
		slog.Error("pdf extraction failed",
			slog.String("file_path", req.FilePath),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"document": gin.H{"md_content": text},
	})
}

type urlExtractRequest struct {
	URLs []string `json:"urls" binding:"required"`
}

type urlDocument struct {
	Source    string `json:"source"`
	MDContent string `json:"md_content"`
}

func (s *Server) handleURLExtract(c *gin.Context) {
	var req urlExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	documents := make([]urlDocument, 0, len(req.URLs))
	for _, url := range req.URLs {
		text, err := s.extractor.Extract(c.Request.Context(), url)
		if err != nil {
			slog.Error("url extraction failed",
				slog.String("url", url),
				slog.String("error", err.Error()))
			continue
		}
		documents = append(documents, urlDocument{Source: url, MDContent: text})
	}

	c.JSON(http.StatusOK, gin.H{"documents": documents})
}
