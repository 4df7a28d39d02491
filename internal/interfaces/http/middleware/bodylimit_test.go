package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/interfaces/http/dto"
)

func TestBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("allows request within limit", func(t *testing.T) {
		router := gin.New()
		router.Use(BodyLimit(1024))
		router.POST("/orders", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})

		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(`{"sequence":1}`)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects oversized Content-Length with error envelope", func(t *testing.T) {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set("request_id", "req-1")
			c.Next()
		})
		router.Use(BodyLimit(100))
		router.POST("/orders", func(c *gin.Context) {
			t.Fatal("handler must not run")
		})

		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(strings.Repeat("x", 200))))
		req.ContentLength = 200
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeRequestTooLarge, resp.Error.Code)
		assert.Equal(t, "req-1", resp.Error.RequestID)
	})

	t.Run("non-positive limit falls back to default", func(t *testing.T) {
		router := gin.New()
		router.Use(BodyLimit(0))
		router.POST("/orders", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})

		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(make([]byte, DefaultMaxBodyBytes+1)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("limits streaming bodies without Content-Length", func(t *testing.T) {
		router := gin.New()
		router.Use(BodyLimit(50))
		router.POST("/orders", func(c *gin.Context) {
			if _, err := io.ReadAll(c.Request.Body); err != nil {
				c.String(http.StatusBadRequest, "body too large")
				return
			}
			c.String(http.StatusOK, "ok")
		})

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(strings.Repeat("x", 100)))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
