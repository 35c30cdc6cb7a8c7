package ui

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"deanalyse/adapters/spreadsheet"
	"deanalyse/app"
	"deanalyse/domain/core"
	"deanalyse/domain/session"
	apperrors "deanalyse/internal/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "session_id"

	uploadFailedMessage  = "An error occurred processing your file"
	requestFailedMessage = "An error occurred processing your request"
)

type chatRequest struct {
	Query string `json:"query" binding:"required,min=1,max=500"`
}

type chatResponse struct {
	Response string `json:"response"`
	HTML     string `json:"html,omitempty"`
	// set only when debug answers are enabled
	Details *app.Answer `json:"details,omitempty"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "DeAnalyse API is running", "status": "healthy"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionKey returns the caller's session, or the "latest" alias when none was sent
func sessionKey(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(sessionHeader)); id != "" {
		return id
	}
	if id, err := c.Cookie(sessionCookie); err == nil && id != "" {
		return id
	}
	return session.LatestKey
}

func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No file provided"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.logger.Error("failed to open upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": uploadFailedMessage})
		return
	}
	defer f.Close()

	// one byte past the limit is enough to reject an oversized file
	data, err := io.ReadAll(io.LimitReader(f, spreadsheet.MaxFileSize+1))
	if err != nil {
		s.logger.Error("failed to read upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": uploadFailedMessage})
		return
	}

	// a session id is reused only when it is one we could have issued
	sessionID := ""
	if key := sessionKey(c); key != session.LatestKey {
		if id, err := core.ParseSessionID(key); err == nil {
			sessionID = id.String()
		}
	}

	result, err := s.deps.Upload.Upload(c.Request.Context(), app.UploadRequest{
		SessionID:   sessionID,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		if apperrors.HTTPStatus(err) == http.StatusBadRequest {
			c.JSON(http.StatusBadRequest, gin.H{"detail": apperrors.UserMessage(err)})
			return
		}
		s.logger.Error("upload failed", zap.String("filename", fh.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": uploadFailedMessage})
		return
	}

	c.Header(sessionHeader, result.SessionID)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, result.SessionID, int((24 * time.Hour).Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"message":    "File processed successfully",
		"filename":   result.Filename,
		"session_id": result.SessionID,
		"summary":    result.Profile,
	})
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Query must be between 1 and 500 characters"})
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Query cannot be empty"})
		return
	}

	ctx := c.Request.Context()
	entry, err := s.deps.Store.Get(ctx, sessionKey(c))
	if err != nil && !errors.Is(err, core.ErrSessionNotFound) {
		s.logger.Error("failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": requestFailedMessage})
		return
	}

	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}
	answer, err := s.deps.QA.Ask(ctx, entry, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"detail": "The request took too long. Please try a simpler question."})
			return
		}
		s.logger.Warn("question abandoned", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": requestFailedMessage})
		return
	}

	resp := chatResponse{Response: answer.Text}
	if c.Query("format") == "html" {
		resp.HTML = renderMarkdown(answer.Text)
	}
	if s.cfg.DebugAnswers {
		resp.Details = answer
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetContext(c *gin.Context) {
	entry, err := s.deps.Store.Get(c.Request.Context(), sessionKey(c))
	if err != nil || entry.Profile == nil {
		if err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			s.logger.Error("failed to load session", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, entry.Profile)
}

func (s *Server) handleDeleteContext(c *gin.Context) {
	if err := s.deps.Store.Delete(c.Request.Context(), sessionKey(c)); err != nil {
		s.logger.Error("failed to delete session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": requestFailedMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handleUsage reports token usage between ?from and ?to (RFC 3339), by default the last 24 hours
func (s *Server) handleUsage(c *gin.Context) {
	if s.deps.Usage == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Usage tracking is not enabled"})
		return
	}
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "from must be an RFC 3339 timestamp"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "to must be an RFC 3339 timestamp"})
			return
		}
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "to must not be before from"})
		return
	}

	summary, err := s.deps.Usage.GetSummary(c.Request.Context(), start, end)
	if err != nil {
		s.logger.Error("failed to summarize usage", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": requestFailedMessage})
		return
	}
	c.JSON(http.StatusOK, summary)
}
