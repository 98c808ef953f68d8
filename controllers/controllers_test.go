package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"trading_scheduler/scheduler"
	"trading_scheduler/services/pricecache"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeScheduler struct {
	jobs      []scheduler.JobStatus
	triggered []string
	err       error
}

func (f *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{Running: true, Timezone: "Europe/Berlin", Jobs: f.jobs}
}

func (f *fakeScheduler) Jobs() []scheduler.JobStatus { return f.jobs }

func (f *fakeScheduler) TriggerNow(id string) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, id)
	return nil
}

type fakeQuotes struct {
	result   pricecache.FetchResult
	useCache bool
}

func (f *fakeQuotes) ValidateSymbol(symbol string) bool { return true }

func (f *fakeQuotes) Fetch(_ context.Context, _ string, useCache bool) pricecache.FetchResult {
	f.useCache = useCache
	return f.result
}

func (f *fakeQuotes) MarketStatus(context.Context) pricecache.Status {
	return pricecache.Status{Phase: pricecache.PhaseClosed, Timezone: "Europe/Berlin"}
}

func serve(t *testing.T, method, path string, register func(r *gin.Engine)) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	register(r)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerJob(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"unknown job", scheduler.ErrJobNotFound, http.StatusNotFound},
		{"already running", scheduler.ErrJobRunning, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeScheduler{err: tt.err}
			sc := NewSchedulerController(fs, zaptest.NewLogger(t))
			w := serve(t, http.MethodPost, "/jobs/eod_snapshot/trigger", func(r *gin.Engine) {
				r.POST("/jobs/:id/trigger", sc.TriggerJob)
			})
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.err == nil && (len(fs.triggered) != 1 || fs.triggered[0] != "eod_snapshot") {
				t.Errorf("triggered = %v", fs.triggered)
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	next := time.Date(2024, 6, 3, 8, 30, 0, 0, time.UTC)
	fs := &fakeScheduler{jobs: []scheduler.JobStatus{
		{ID: "premarket_research", State: scheduler.StateIdle, NextRunTime: &next},
		{ID: "eod_snapshot", State: scheduler.StateExecuting},
	}}
	sc := NewSchedulerController(fs, zaptest.NewLogger(t))
	w := serve(t, http.MethodGet, "/jobs", func(r *gin.Engine) { r.GET("/jobs", sc.ListJobs) })
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Data  []scheduler.JobStatus `json:"data"`
		Count int                   `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || body.Data[0].ID != "premarket_research" {
		t.Fatalf("body = %+v", body)
	}
	if body.Data[0].NextRunTime == nil || !body.Data[0].NextRunTime.Equal(next) {
		t.Errorf("next run = %v", body.Data[0].NextRunTime)
	}
	if body.Data[1].NextRunTime != nil {
		t.Errorf("executing job should have no next run")
	}
}

func TestGetQuote(t *testing.T) {
	entry := &pricecache.Entry{Symbol: "SAP.DE", Price: decimal.RequireFromString("182.40"), Source: "yahoo"}
	tests := []struct {
		name     string
		query    string
		result   pricecache.FetchResult
		status   int
		useCache bool
	}{
		{"hit", "", pricecache.FetchResult{Entry: entry, Status: pricecache.Hit}, http.StatusOK, true},
		{"fresh", "?fresh=true", pricecache.FetchResult{Entry: entry, Status: pricecache.Fetched}, http.StatusOK, false},
		{"invalid", "", pricecache.FetchResult{Status: pricecache.Invalid}, http.StatusBadRequest, true},
		{"unavailable", "", pricecache.FetchResult{Status: pricecache.Unavailable}, http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fq := &fakeQuotes{result: tt.result}
			mc := NewMarketController(fq)
			w := serve(t, http.MethodGet, "/quotes/SAP.DE"+tt.query, func(r *gin.Engine) {
				r.GET("/quotes/:symbol", mc.GetQuote)
			})
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if fq.useCache != tt.useCache {
				t.Errorf("useCache = %v, want %v", fq.useCache, tt.useCache)
			}
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				Data   pricecache.Entry `json:"data"`
				Source string           `json:"source"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if !body.Data.Price.Equal(entry.Price) || body.Source != tt.result.Status.String() {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestMarketStatus(t *testing.T) {
	mc := NewMarketController(&fakeQuotes{})
	w := serve(t, http.MethodGet, "/status", func(r *gin.Engine) { r.GET("/status", mc.GetStatus) })
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Data pricecache.Status `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.Phase != pricecache.PhaseClosed {
		t.Errorf("phase = %q", body.Data.Phase)
	}
}
