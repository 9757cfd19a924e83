package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TungSeven30/henrii-sub000/internal/config"
	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(cfg config.ServerConfig, log *logging.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(log))
	r.Use(Auth(cfg))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserIDFromContext(c), "baby": BabyIDFromContext(c)})
	})
	return r
}

func TestAuthDefaultsWithoutToken(t *testing.T) {
	r := newEngine(config.ServerConfig{}, logging.Discard())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"default","baby":"default"}`, rec.Body.String())
}

func TestAuthWithToken(t *testing.T) {
	r := newEngine(config.ServerConfig{AuthToken: "s3cret"}, logging.Discard())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("X-User-ID", "alice")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "baby header is mandatory")

	req.Header.Set("X-Baby-ID", "b1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"alice","baby":"b1"}`, rec.Body.String())
}

func TestRequestLoggerWritesRejections(t *testing.T) {
	var buf bytes.Buffer
	r := newEngine(config.ServerConfig{AuthToken: "x"}, logging.NewWithWriter("info", &buf))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, buf.String(), "request rejected")
	assert.Contains(t, buf.String(), "status=401")
}
