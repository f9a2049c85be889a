package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func performRequest(headers map[string]string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())

	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = RequestID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w, seen
}

func TestRequestIDPassthrough(t *testing.T) {
	w, seen := performRequest(map[string]string{"x-request-id": "req-abc"})
	require.Equal(t, "req-abc", seen)
	require.Equal(t, "req-abc", w.Header().Get("x-request-id"))
}

func TestRequestIDCorrelationFallback(t *testing.T) {
	_, seen := performRequest(map[string]string{"x-correlation-id": "corr-1"})
	require.Equal(t, "corr-1", seen)
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	w, seen := performRequest(nil)
	require.NotEmpty(t, seen)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	require.Equal(t, seen, w.Header().Get("x-request-id"))
}

func TestRequestIDOversizedHeaderReplaced(t *testing.T) {
	long := strings.Repeat("x", 200)
	_, seen := performRequest(map[string]string{"x-request-id": long})
	require.NotEqual(t, long, seen)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
}
