package router

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/logger"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())

	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	orders := NewDomainGroup("orders", "/orders")
	orders.GET("/:id/status", func(c *gin.Context) {
		c.String(http.StatusOK, "status "+c.Param("id"))
	})
	orders.Group("groups", "/:id/groups").POST("/:index/clear-hold", func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("id")+"/"+c.Param("index"))
	})
	r.Register(orders).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/7/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "status 7", w.Body.String())

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/orders/7/groups/2/clear-hold", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7/2", w.Body.String())
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("orders", "/orders")
		assert.Equal(t, "orders", g.Name())
		assert.Equal(t, "/orders", g.Prefix())
	})

	t.Run("group middleware runs before handlers", func(t *testing.T) {
		engine := gin.New()
		var order []string
		g := NewDomainGroup("orders", "/orders").Use(func(c *gin.Context) {
			order = append(order, "mw")
			c.Next()
		})
		g.POST("", func(c *gin.Context) {
			order = append(order, "handler")
			c.Status(http.StatusCreated)
		})
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, []string{"mw", "handler"}, order)
	})

	t.Run("unknown method is not routed", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("orders", "/orders").GET("/:id/status", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/orders/1/status", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine(EngineConfig{
		Logger:       zap.NewNop(),
		Tracing:      middleware.TracingConfig{Enabled: false},
		MaxBodyBytes: 16,
	})
	engine.POST("/echo", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	t.Run("assigns request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte("{}")))
		req.Header.Set(logger.RequestIDHeader, "req-abc")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "req-abc", w.Body.String())
		assert.Equal(t, "req-abc", w.Header().Get(logger.RequestIDHeader))
	})

	t.Run("enforces body limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64)))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("recovers from panics", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NotPanics(t, func() {
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
