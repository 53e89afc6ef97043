package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"node-service/internal/config"
	"node-service/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine() *gin.Engine {
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop()))
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(utils.NewServiceLogger(zap.NewNop(), "test")))
	router.Use(CORSMiddleware(&config.SecurityConfig{AllowedOrigins: []string{"http://localhost:3000"}}))
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(utils.RequestIDKey))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("handler exploded")
	})
	return router
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	router := newEngine()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/id", nil))
	require.Equal(t, http.StatusOK, w.Code)
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "caller-id", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "caller-id", w.Body.String())
}

func TestRecoveryReturnsErrorEnvelope(t *testing.T) {
	router := newEngine()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	router := newEngine()

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
