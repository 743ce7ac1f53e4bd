package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiddlewareRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID(), SecurityHeaders(), Compression())
	router.GET("/payload", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": strings.Repeat("x", 2048)})
	})
	return router
}

func TestCompressionRoundTrip(t *testing.T) {
	router := newMiddlewareRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payload", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))
	assert.Less(t, w.Body.Len(), 2048, "the body on the wire must be compressed")

	reader, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), strings.Repeat("x", 2048))
}

func TestCompressionSkippedWithoutAcceptEncoding(t *testing.T) {
	router := newMiddlewareRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payload", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Body.String(), strings.Repeat("x", 2048))
}

func TestSecurityHeaders(t *testing.T) {
	router := newMiddlewareRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payload", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, w.Header().Get("Permissions-Policy"))
}

func TestRequestIDGenerated(t *testing.T) {
	router := newMiddlewareRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payload", nil))

	id := w.Header().Get("X-Request-ID")
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestRequestIDHonorsCallerValue(t *testing.T) {
	router := newMiddlewareRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payload", nil)
	req.Header.Set("X-Request-ID", "trace-me-123")
	router.ServeHTTP(w, req)

	assert.Equal(t, "trace-me-123", w.Header().Get("X-Request-ID"))
}
