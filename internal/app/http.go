package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	adminToken string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin, adminToken string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, adminToken: adminToken, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(cors.New(s.corsConfig()))

	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	router.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	api := router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.HEAD("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)
	api.HEAD("/ready", s.handleReady)

	subjects := api.Group("/subjects/:subjectId/comments")
	subjects.GET("", s.handleFetchThread)
	subjects.POST("", s.handlePostComment)
	subjects.POST("/:commentId/replies", s.handlePostReply)
	subjects.POST("/:commentId/author-replies", s.requireOperator(), s.handlePostAuthorReply)

	comments := api.Group("/comments")
	comments.GET("/search", s.handleSearch)
	comments.POST("/:commentId/votes", s.handleVote)
	comments.DELETE("/:commentId", s.requireOperator(), s.handleDeleteComment)

	api.POST("/handles", s.handleRegisterHandle)
	api.GET("/handles/:name", s.handleHandleAvailability)

	return router
}

func (s *HTTPServer) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", requestIDHeader, "X-Admin-Token"},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	origins := splitOrigins(s.corsOrigin)
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = randomRequestID()
		}
		c.Set("requestID", requestID)
		c.Header(requestIDHeader, requestID)

		started := time.Now()
		c.Next()

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	}
}

// requireOperator gates a route behind the shared X-Admin-Token value.
// Without a configured token the route is disabled.
func (s *HTTPServer) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(c, http.StatusForbidden, CodeForbidden, "Forbidden", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := gin.H{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = gin.H{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = gin.H{"status": "ok"}
	}

	writeJSON(c, statusCode, gin.H{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleFetchThread(c *gin.Context) {
	result, err := s.service.FetchThread(c.Request.Context(), c.Param("subjectId"), c.Query("reactorId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

type postCommentBody struct {
	AuthorName string `json:"authorName"`
	Body       string `json:"body"`
	ParentID   string `json:"parentId"`
}

func (s *HTTPServer) handlePostComment(c *gin.Context) {
	var body postCommentBody
	if !decodeBody(c, &body) {
		return
	}
	subjectID := c.Param("subjectId")
	var err error
	var result any
	if strings.TrimSpace(body.ParentID) != "" {
		result, err = s.service.PostReply(c.Request.Context(), subjectID, body.AuthorName, body.ParentID, body.Body)
	} else {
		result, err = s.service.PostComment(c.Request.Context(), subjectID, body.AuthorName, body.Body)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"comment": result})
}

func (s *HTTPServer) handlePostReply(c *gin.Context) {
	var body postCommentBody
	if !decodeBody(c, &body) {
		return
	}
	comment, err := s.service.PostReply(c.Request.Context(), c.Param("subjectId"), body.AuthorName, c.Param("commentId"), body.Body)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"comment": comment})
}

func (s *HTTPServer) handlePostAuthorReply(c *gin.Context) {
	var body postCommentBody
	if !decodeBody(c, &body) {
		return
	}
	comment, err := s.service.PostAuthorReply(c.Request.Context(), c.Param("subjectId"), body.AuthorName, c.Param("commentId"), body.Body)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"comment": comment})
}

func (s *HTTPServer) handleVote(c *gin.Context) {
	var body struct {
		ReactorID string `json:"reactorId"`
		Kind      string `json:"kind"`
	}
	if !decodeBody(c, &body) {
		return
	}
	counts, err := s.service.Vote(c.Request.Context(), c.Param("commentId"), body.ReactorID, body.Kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, counts)
}

func (s *HTTPServer) handleDeleteComment(c *gin.Context) {
	if err := s.service.DeleteComment(c.Request.Context(), c.Param("commentId")); err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(c, http.StatusUnprocessableEntity, CodeValidation, "limit must be a positive integer", gin.H{"field": "limit"})
			return
		}
		limit = parsed
	}
	resp, err := s.service.SearchComments(c.Request.Context(), c.Query("q"), c.Query("subjectId"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

func (s *HTTPServer) handleRegisterHandle(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(c, &body) {
		return
	}
	handle, err := s.service.RegisterHandle(c.Request.Context(), body.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"handle": handle})
}

func (s *HTTPServer) handleHandleAvailability(c *gin.Context) {
	name, available, err := s.service.HandleAvailable(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"name": name, "available": available})
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		requestID, _ := c.Get("requestID")
		s.logger.Error("request failed",
			zap.Any("request_id", requestID),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeError(c, status, code, message, details)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}

func writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(c, status, response)
}

// decodeBody binds a JSON body into target and writes the error response
// itself when the body is malformed. An empty body leaves target zeroed.
func decodeBody(c *gin.Context, target any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(target); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return false
	}
	return true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(classify(err), &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
