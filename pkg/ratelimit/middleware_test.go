package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_PerWorkspaceBuckets(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiters := NewLimiters(RateLimitConfig{RPS: 0.001, Burst: 1, MaxAge: time.Minute})
	router := gin.New()
	router.POST("/workspaces/:workspace_id/redistribute", limiters.Middleware(WorkspaceOrIP), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	send := func(ws string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/workspaces/"+ws+"/redistribute", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusAccepted, send("ws-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("ws-1"))
	assert.Equal(t, http.StatusAccepted, send("ws-2"))
}

func TestSweep(t *testing.T) {
	limiters := NewLimiters(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiters.now = func() time.Time { return now }

	limiters.Allow("ip:10.0.0.1")
	now = now.Add(30 * time.Second)
	limiters.Allow("ip:10.0.0.2")

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, limiters.Sweep())
	assert.Len(t, limiters.buckets, 1)
}
