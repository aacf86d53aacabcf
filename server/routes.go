package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ollama/gpt2tok/api"
	"github.com/ollama/gpt2tok/envconfig"
	"github.com/ollama/gpt2tok/tokenizer"
	"github.com/ollama/gpt2tok/version"
)

type Server struct {
	tok *tokenizer.Tokenizer
}

func New(tok *tokenizer.Tokenizer) *Server {
	return &Server{tok: tok}
}

func (s *Server) TokenizeHandler(c *gin.Context) {
	var req api.TokenizeRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Text == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing text for tokenization"})
		return
	}

	tokens := s.tok.Tokenize(req.Text)
	ids, err := s.tok.ConvertTokensToIDs(tokens)
	if err != nil {
		// merges produced a token the vocabulary does not know
		slog.Error("tokenize", "error", err, "request_id", c.GetString(requestIDKey))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.TokenizeResponse{Tokens: tokens, IDs: ids})
}

func (s *Server) DetokenizeHandler(c *gin.Context) {
	var req api.DetokenizeRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := s.tok.ConvertIDsToTokens(req.IDs)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	text, err := s.tok.DecodeTokens(tokens)
	if err != nil {
		// the vocabulary holds a token outside the byte map
		slog.Error("detokenize", "error", err, "request_id", c.GetString(requestIDKey))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.DetokenizeResponse{Tokens: tokens, Text: text})
}

const requestIDKey = "request_id"

// requestID tags every request with an id, reusing X-Request-ID when the
// caller sent one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()

		slog.Debug("request", "id", id, "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

func (s *Server) GenerateRoutes() http.Handler {
	config := cors.DefaultConfig()
	config.AllowWildcard = true
	config.AllowBrowserExtensions = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
		"X-Request-ID",
	}
	config.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.Use(
		cors.New(config),
		requestID(),
	)

	r.POST("/api/tokenize", s.TokenizeHandler)
	r.POST("/api/detokenize", s.DetokenizeHandler)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		r.Handle(method, "/", func(c *gin.Context) {
			c.String(http.StatusOK, "gpt2tok is running")
		})

		r.Handle(method, "/api/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version})
		})
	}

	return r
}

// Serve answers tokenizer requests on ln until the process is interrupted.
func Serve(ln net.Listener, tok *tokenizer.Tokenizer) error {
	slog.Info("server config", "env", envconfig.Values())

	s := New(tok)
	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version),
		"vocab", tok.Vocabulary().Len(), "merges", tok.Vocabulary().MergesLen())

	err := srvr.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
