package system

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGetReqLoggerFallbackWhenContextNil(t *testing.T) {
	fallback := zap.NewNop().Sugar()
	require.Same(t, fallback, GetReqLogger(nil, fallback))
}

func TestGetReqLoggerFromContext(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	stored := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, stored)
	require.Same(t, stored, GetReqLogger(ctx, fallback))
}

func TestGetReqLoggerIgnoresInvalidTypes(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, "not-a-logger")
	require.Same(t, fallback, GetReqLogger(ctx, fallback))
}

func TestRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := gin.New()
	router.Use(RequestID(zap.New(core).Sugar()))

	var seen string
	router.GET("/x", func(c *gin.Context) {
		seen = GetRequestID(c)
		GetReqLogger(c, nil).Info("handled")
		c.Status(http.StatusNoContent)
	})

	t.Run("generates an id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, seen, entries[0].ContextMap()["requestId"])
	})

	t.Run("keeps a valid incoming id", func(t *testing.T) {
		incoming := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(RequestIDHeader, incoming)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, incoming, seen)
		assert.Equal(t, incoming, w.Header().Get(RequestIDHeader))
		logs.TakeAll()
	})

	t.Run("replaces a malformed incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.NotEqual(t, "<script>", seen)
		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
		logs.TakeAll()
	})
}

func TestGetRequestIDOutsideRequest(t *testing.T) {
	assert.Empty(t, GetRequestID(nil))
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetRequestID(ctx))
}

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		log, err := NewLogger(debug)
		require.NoError(t, err)
		assert.Equal(t, debug, log.Desugar().Core().Enabled(zap.DebugLevel))
	}
}
