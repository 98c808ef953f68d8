package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trading_scheduler/models"
	"trading_scheduler/services/calendar"
	"trading_scheduler/services/decision"
	"trading_scheduler/services/pricecache"
	"trading_scheduler/services/trading"
)

type fakeEngine struct {
	mu       sync.Mutex
	calls    []uint
	research []bool
	fail     map[uint]bool
}

func (e *fakeEngine) Decide(_ context.Context, id uint, performResearch bool) (decision.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, id)
	e.research = append(e.research, performResearch)
	if e.fail[id] {
		return decision.Result{}, errors.New("engine timeout")
	}
	return decision.Result{
		Decision:  &decision.Decision{Action: decision.ActionBuy, Reasoning: "breakout", Confidence: 0.75},
		Execution: &decision.Execution{Success: true, Action: decision.ActionBuy, Symbol: "SAP.DE", Message: "filled"},
	}, nil
}

type fakePrices map[string]decimal.Decimal

func (p fakePrices) FetchMany(_ context.Context, symbols []string, _ bool) map[string]*pricecache.Entry {
	out := make(map[string]*pricecache.Entry, len(symbols))
	for _, s := range symbols {
		if price, ok := p[s]; ok {
			out[s] = &pricecache.Entry{Symbol: s, Price: price}
		} else {
			out[s] = nil
		}
	}
	return out
}

type jobsFixture struct {
	db     *gorm.DB
	engine *fakeEngine
	jobs   *TradingJobs
}

func newJobsFixture(t *testing.T, now time.Time, prices fakePrices) *jobsFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"momentum", "value"} {
		db.Create(&models.TradingModel{Name: name, IsActive: true})
	}
	db.Create(&models.TradingModel{Name: "retired", IsActive: false})

	cal, err := calendar.New(calendar.Config{
		Timezone: "Europe/Berlin",
		Open:     "09:00",
		Close:    "17:30",
		Holidays: []string{"2024-12-25"},
	})
	if err != nil {
		t.Fatal(err)
	}
	cal = cal.WithClock(func() time.Time { return now })

	log := zaptest.NewLogger(t)
	engine := &fakeEngine{fail: map[uint]bool{}}
	runner := trading.NewRunner(trading.NewGormStore(db), log)
	return &jobsFixture{
		db:     db,
		engine: engine,
		jobs:   NewTradingJobs(runner, engine, prices, cal, log),
	}
}

func berlinTime(t *testing.T, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	return time.Date(2024, month, day, hour, min, 0, 0, loc)
}

func TestPremarketResearchRecordsDecisions(t *testing.T) {
	f := newJobsFixture(t, berlinTime(t, time.June, 3, 8, 30), nil)

	if err := f.jobs.PremarketResearch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.engine.calls) != 2 || f.engine.calls[0] != 1 || f.engine.calls[1] != 2 {
		t.Fatalf("engine calls = %v, want [1 2]", f.engine.calls)
	}
	for _, r := range f.engine.research {
		if !r {
			t.Error("pre-market research must request research")
		}
	}

	var rows []models.Decision
	f.db.Order("model_id").Find(&rows)
	if len(rows) != 2 {
		t.Fatalf("decisions = %d, want 2", len(rows))
	}
	if rows[0].Action != "BUY" || !rows[0].Executed || rows[0].JobID != JobPremarketResearch || rows[0].RunID == "" {
		t.Errorf("decision = %+v", rows[0])
	}
}

func TestResearchEntityFailureDoesNotFailJob(t *testing.T) {
	f := newJobsFixture(t, berlinTime(t, time.June, 3, 8, 30), nil)
	f.engine.fail[1] = true

	if err := f.jobs.PremarketResearch(context.Background()); err != nil {
		t.Fatal(err)
	}
	var n int64
	f.db.Model(&models.Decision{}).Count(&n)
	if n != 1 {
		t.Fatalf("decisions = %d, want 1", n)
	}
}

func TestJobGates(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		run     func(*TradingJobs) Handler
		skipped bool
	}{
		{"premarket on saturday", berlinTime(t, time.June, 8, 8, 30), func(j *TradingJobs) Handler { return j.PremarketResearch }, true},
		{"premarket on holiday", berlinTime(t, time.December, 25, 8, 30), func(j *TradingJobs) Handler { return j.PremarketResearch }, true},
		{"afternoon before open", berlinTime(t, time.June, 3, 8, 30), func(j *TradingJobs) Handler { return j.AfternoonResearch }, true},
		{"afternoon in session", berlinTime(t, time.June, 3, 14, 0), func(j *TradingJobs) Handler { return j.AfternoonResearch }, false},
		{"refresh after close", berlinTime(t, time.June, 3, 17, 31), func(j *TradingJobs) Handler { return j.PositionRefresh }, true},
		{"refresh in session", berlinTime(t, time.June, 3, 10, 0), func(j *TradingJobs) Handler { return j.PositionRefresh }, false},
		{"snapshot on sunday", berlinTime(t, time.June, 9, 17, 45), func(j *TradingJobs) Handler { return j.EndOfDaySnapshot }, true},
		{"snapshot after close", berlinTime(t, time.June, 3, 17, 45), func(j *TradingJobs) Handler { return j.EndOfDaySnapshot }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJobsFixture(t, tt.now, fakePrices{})
			err := tt.run(f.jobs)(context.Background())
			if got := errors.Is(err, ErrSkipped); got != tt.skipped {
				t.Fatalf("err = %v, skipped = %v, want %v", err, got, tt.skipped)
			}
			if !tt.skipped && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.skipped && len(f.engine.calls) != 0 {
				t.Fatal("skipped job must not call the engine")
			}
		})
	}
}

func TestPositionRefreshRevalues(t *testing.T) {
	f := newJobsFixture(t, berlinTime(t, time.June, 3, 10, 0), fakePrices{"SAP.DE": decimal.NewFromInt(200)})
	f.db.Create(&models.Portfolio{ModelID: 1, Cash: decimal.NewFromInt(500)})
	f.db.Create(&models.Position{ModelID: 1, Symbol: "SAP.DE", Status: models.PositionOpen,
		Quantity: decimal.NewFromInt(3), AvgPrice: decimal.NewFromInt(180)})
	f.db.Create(&models.Position{ModelID: 1, Symbol: "BMW.DE", Status: models.PositionOpen,
		Quantity: decimal.NewFromInt(2), AvgPrice: decimal.NewFromInt(90), CurrentPrice: decimal.NewFromInt(95)})

	if err := f.jobs.PositionRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.engine.calls) != 0 {
		t.Fatal("position refresh must not call the decision engine")
	}

	var p models.Portfolio
	f.db.Where("model_id = ?", 1).First(&p)
	// 500 + 3*200 + 2*95
	if want := decimal.NewFromInt(1290); !p.TotalValue.Equal(want) {
		t.Errorf("total value = %s, want %s", p.TotalValue, want)
	}
	var sap models.Position
	f.db.Where("symbol = ?", "SAP.DE").First(&sap)
	if !sap.UnrealizedPnL.Equal(decimal.NewFromInt(60)) || sap.PriceAt == nil {
		t.Errorf("SAP position = %+v", sap)
	}
}

func TestEndOfDaySnapshot(t *testing.T) {
	f := newJobsFixture(t, berlinTime(t, time.June, 3, 17, 45), fakePrices{"SAP.DE": decimal.NewFromInt(200)})
	f.db.Create(&models.Portfolio{ModelID: 2, Cash: decimal.NewFromInt(100)})
	f.db.Create(&models.Position{ModelID: 2, Symbol: "SAP.DE", Status: models.PositionOpen,
		Quantity: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(150)})

	if err := f.jobs.EndOfDaySnapshot(context.Background()); err != nil {
		t.Fatal(err)
	}

	var snaps []models.PortfolioSnapshot
	f.db.Order("model_id").Find(&snaps)
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want one per active model", len(snaps))
	}
	if snaps[0].ModelID != 1 || !snaps[0].TotalValue.IsZero() || snaps[0].Date != "2024-06-03" {
		t.Errorf("model 1 snapshot = %+v", snaps[0])
	}
	if s := snaps[1]; !s.TotalValue.Equal(decimal.NewFromInt(300)) || s.OpenPositions != 1 {
		t.Errorf("model 2 snapshot = %+v", s)
	}
}

func TestRegisterTradingJobs(t *testing.T) {
	f := newJobsFixture(t, berlinTime(t, time.June, 3, 7, 0), nil)
	s := newTestScheduler(t)
	f.jobs.Register(s, Schedule{
		Premarket:       calendar.TimeOfDay{Hour: 8, Minute: 30},
		Afternoon:       calendar.TimeOfDay{Hour: 14},
		EndOfDay:        calendar.TimeOfDay{Hour: 17, Minute: 45},
		RefreshInterval: 15 * time.Minute,
	})

	want := []string{JobPremarketResearch, JobAfternoonResearch, JobPositionRefresh, JobEndOfDaySnapshot}
	jobs := s.Jobs()
	if len(jobs) != len(want) {
		t.Fatalf("jobs = %d, want %d", len(jobs), len(want))
	}
	for i, id := range want {
		if jobs[i].ID != id {
			t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, id)
		}
	}
	if jobs[2].Trigger != "every 15m0s" || jobs[0].Trigger != "cron 08:30 every day (Europe/Berlin)" {
		t.Errorf("triggers = %q, %q", jobs[0].Trigger, jobs[2].Trigger)
	}
}
