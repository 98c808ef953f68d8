package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"trading_scheduler/metrics"
	"trading_scheduler/middleware"
	"trading_scheduler/scheduler"
	"trading_scheduler/services/pricecache"
)

type stubScheduler struct{ triggered int }

func (s *stubScheduler) Status() scheduler.Status { return scheduler.Status{Running: true} }
func (s *stubScheduler) Jobs() []scheduler.JobStatus { return nil }
func (s *stubScheduler) TriggerNow(string) error {
	s.triggered++
	return nil
}

type stubQuotes struct{}

func (stubQuotes) ValidateSymbol(string) bool { return true }
func (stubQuotes) Fetch(context.Context, string, bool) pricecache.FetchResult {
	return pricecache.FetchResult{Status: pricecache.Unavailable}
}
func (stubQuotes) MarketStatus(context.Context) pricecache.Status { return pricecache.Status{} }

func newRouter(t *testing.T, sched *stubScheduler, secret string, limiter *middleware.RateLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	metrics.New(reg).ObserveLookup("hit")

	r := gin.New()
	SetupRoutes(r, Deps{
		Scheduler: sched,
		Quotes:    stubQuotes{},
		Gatherer:  reg,
		Limiter:   limiter,
		JWTSecret: secret,
		Logger:    zaptest.NewLogger(t),
	})
	return r
}

func do(r *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(t, &stubScheduler{}, "", nil)

	if w := do(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	w := do(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pricecache_lookups_total") {
		t.Errorf("metrics output missing cache counter")
	}
}

func TestTriggerRequiresToken(t *testing.T) {
	const secret = "ops-secret"
	sched := &stubScheduler{}
	r := newRouter(t, sched, secret, nil)
	path := "/api/v1/scheduler/jobs/eod_snapshot/trigger"

	if w := do(r, http.MethodPost, path, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d", w.Code)
	}
	token, err := middleware.IssueToken(secret, "ops", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if w := do(r, http.MethodPost, path, "Bearer "+token); w.Code != http.StatusAccepted {
		t.Fatalf("with token: status = %d", w.Code)
	}
	if sched.triggered != 1 {
		t.Errorf("triggered = %d", sched.triggered)
	}

	// reads stay open
	if w := do(r, http.MethodGet, "/api/v1/scheduler/status", ""); w.Code != http.StatusOK {
		t.Errorf("status endpoint = %d", w.Code)
	}
}

func TestAPIRateLimited(t *testing.T) {
	r := newRouter(t, &stubScheduler{}, "", middleware.NewRateLimiter(0.001, 1, time.Minute))

	if w := do(r, http.MethodGet, "/api/v1/market/status", ""); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/market/status", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d", w.Code)
	}
	// probes are outside the limited group
	if w := do(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestQuoteUnavailable(t *testing.T) {
	r := newRouter(t, &stubScheduler{}, "", nil)
	if w := do(r, http.MethodGet, "/api/v1/market/quotes/SAP.DE", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}
