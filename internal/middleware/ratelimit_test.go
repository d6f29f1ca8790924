package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/middleware"
	"github.com/clawbridge/clawbridge/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newLimitedRouter(t *testing.T, perMinute int) *gin.Engine {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.Use(middleware.RateLimit(ratelimit.New(ctx), "admin", perMinute, testLogger()))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	return r
}

func get(r http.Handler, remote string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.RemoteAddr = remote
	r.ServeHTTP(w, req)

	return w.Code
}

func TestRateLimit_BlocksExceedingLimit(t *testing.T) {
	r := newLimitedRouter(t, 2)

	for i := range 3 {
		code := get(r, "1.2.3.4:1234")

		if i < 2 && code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
		if i == 2 && code != http.StatusTooManyRequests {
			t.Fatalf("request %d: expected 429, got %d", i, code)
		}
	}
}

func TestRateLimit_IndependentBuckets(t *testing.T) {
	r := newLimitedRouter(t, 1)

	if code := get(r, "1.1.1.1:1000"); code != http.StatusOK {
		t.Fatalf("IP A first request: %d", code)
	}

	if code := get(r, "2.2.2.2:1000"); code != http.StatusOK {
		t.Fatalf("IP B should have its own bucket, got %d", code)
	}

	if code := get(r, "1.1.1.1:1000"); code != http.StatusTooManyRequests {
		t.Fatalf("IP A second request: %d", code)
	}
}
