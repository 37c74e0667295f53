package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func serve(mw echo.MiddlewareFunc, header string) int {
	e := echo.New()
	e.POST("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, mw)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if header != "" {
		req.Header.Set("X-API-Key", header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestAPIKeyMiddleware(t *testing.T) {
	mw := APIKeyMiddleware([]string{" k1 ", "k2"})

	assert.Equal(t, http.StatusNoContent, serve(mw, "k1"))
	assert.Equal(t, http.StatusNoContent, serve(mw, "k2"))
	assert.Equal(t, http.StatusUnauthorized, serve(mw, "k3"))
	assert.Equal(t, http.StatusUnauthorized, serve(mw, ""))
}

func TestAPIKeyMiddlewareOpenWithoutKeys(t *testing.T) {
	assert.Equal(t, http.StatusNoContent, serve(APIKeyMiddleware(nil), ""))
}

func TestRateLimitAllowsWithoutRedis(t *testing.T) {
	mw := RateLimitMiddleware(RateLimitConfig{RPS: 1})
	for range 3 {
		assert.Equal(t, http.StatusNoContent, serve(mw, ""))
	}
}
