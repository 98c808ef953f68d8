package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading_scheduler/models"
	"trading_scheduler/services/calendar"
	"trading_scheduler/services/decision"
	"trading_scheduler/services/pricecache"
	"trading_scheduler/services/trading"
)

// Trading job ids
const (
	JobPremarketResearch = "premarket_research"
	JobAfternoonResearch = "afternoon_research"
	JobPositionRefresh   = "position_refresh"
	JobEndOfDaySnapshot  = "eod_snapshot"
)

// Schedule holds the trigger times of the trading jobs in market local time
type Schedule struct {
	Premarket       calendar.TimeOfDay
	Afternoon       calendar.TimeOfDay
	EndOfDay        calendar.TimeOfDay
	Weekdays        []time.Weekday
	RefreshInterval time.Duration
}

// PriceSource is the part of the price cache the jobs read from
type PriceSource interface {
	FetchMany(ctx context.Context, symbols []string, useCache bool) map[string]*pricecache.Entry
}

// TradingJobs are the batch bodies run over every active trading model
type TradingJobs struct {
	runner   *trading.Runner
	engine   decision.Engine
	prices   PriceSource
	calendar *calendar.Calendar
	logger   *zap.Logger
}

func NewTradingJobs(runner *trading.Runner, engine decision.Engine, prices PriceSource, cal *calendar.Calendar, logger *zap.Logger) *TradingJobs {
	return &TradingJobs{
		runner:   runner,
		engine:   engine,
		prices:   prices,
		calendar: cal,
		logger:   logger.With(zap.String("component", "jobs")),
	}
}

// Register adds the four trading jobs to s
func (j *TradingJobs) Register(s *Scheduler, sched Schedule) {
	loc := j.calendar.Location()
	cron := func(t calendar.TimeOfDay) Cron {
		return Cron{Hour: t.Hour, Minute: t.Minute, Weekdays: sched.Weekdays, Location: loc}
	}

	s.Register(JobPremarketResearch, "Pre-market research", cron(sched.Premarket), j.PremarketResearch)
	s.Register(JobAfternoonResearch, "Afternoon research", cron(sched.Afternoon), j.AfternoonResearch)
	s.Register(JobPositionRefresh, "Position refresh", Interval{Every: sched.RefreshInterval}, j.PositionRefresh)
	s.Register(JobEndOfDaySnapshot, "End of day snapshot", cron(sched.EndOfDay), j.EndOfDaySnapshot)
}

// PremarketResearch asks the decision engine, with research, for every model.
// Runs on trading days only.
func (j *TradingJobs) PremarketResearch(ctx context.Context) error {
	if !j.calendar.IsTradingDayNow() {
		return fmt.Errorf("%w: not a trading day", ErrSkipped)
	}
	return j.batch(ctx, JobPremarketResearch, j.research(JobPremarketResearch, true))
}

// AfternoonResearch repeats the research decision while the market is open.
func (j *TradingJobs) AfternoonResearch(ctx context.Context) error {
	if !j.calendar.IsTradingDayNow() {
		return fmt.Errorf("%w: not a trading day", ErrSkipped)
	}
	if !j.calendar.IsMarketOpenNow() {
		return fmt.Errorf("%w: market closed", ErrSkipped)
	}
	return j.batch(ctx, JobAfternoonResearch, j.research(JobAfternoonResearch, true))
}

// PositionRefresh revalues the open positions of every model from the price
// cache. No decisions are made. The trigger fires year round, the body only
// acts while the market is open.
func (j *TradingJobs) PositionRefresh(ctx context.Context) error {
	if !j.calendar.IsMarketOpenNow() {
		return fmt.Errorf("%w: market closed", ErrSkipped)
	}
	return j.batch(ctx, JobPositionRefresh, func(ctx context.Context, tx trading.Tx, id uint) (trading.Outcome, error) {
		v, _, err := j.revalue(ctx, tx, id)
		if err != nil {
			return trading.Outcome{}, err
		}
		return trading.Outcome{Valuation: &v}, nil
	})
}

// EndOfDaySnapshot values every portfolio and stores one snapshot per model.
func (j *TradingJobs) EndOfDaySnapshot(ctx context.Context) error {
	if !j.calendar.IsTradingDayNow() {
		return fmt.Errorf("%w: not a trading day", ErrSkipped)
	}
	return j.batch(ctx, JobEndOfDaySnapshot, func(ctx context.Context, tx trading.Tx, id uint) (trading.Outcome, error) {
		v, open, err := j.revalue(ctx, tx, id)
		if err != nil {
			return trading.Outcome{}, err
		}
		snap := &models.PortfolioSnapshot{
			ModelID:        id,
			Date:           j.calendar.Local(v.ValuedAt).Format(calendar.DateLayout),
			Cash:           v.Cash,
			PositionsValue: v.PositionsValue,
			TotalValue:     v.TotalValue,
			OpenPositions:  open,
		}
		if err := tx.CreateSnapshot(snap); err != nil {
			return trading.Outcome{}, err
		}
		return trading.Outcome{Valuation: &v}, nil
	})
}

func (j *TradingJobs) batch(ctx context.Context, jobID string, fn trading.EntityFunc) error {
	res := j.runner.Run(ctx, jobID, nil, fn)
	if res.Failed() {
		return res.BatchErr
	}
	return nil
}

func (j *TradingJobs) research(jobID string, performResearch bool) trading.EntityFunc {
	return func(ctx context.Context, tx trading.Tx, id uint) (trading.Outcome, error) {
		res, err := j.engine.Decide(ctx, id, performResearch)
		if err != nil {
			return trading.Outcome{}, err
		}
		if !res.OK() {
			return trading.Outcome{Execution: res.Execution}, fmt.Errorf("decision failed: %s", res.Failure)
		}

		rec := &models.Decision{
			ModelID:    id,
			JobID:      jobID,
			RunID:      trading.RunID(ctx),
			Action:     string(res.Decision.Action),
			Reasoning:  res.Decision.Reasoning,
			Confidence: decimal.NewFromFloat(res.Decision.Confidence),
		}
		if x := res.Execution; x != nil {
			rec.Executed = x.Success
			rec.ExecutionSymbol = x.Symbol
			rec.ExecutionPrice = x.Price
			rec.ExecutionMessage = x.Message
			if !x.Success && x.Error != "" {
				rec.ExecutionMessage = x.Error
			}
		}
		if err := tx.RecordDecision(rec); err != nil {
			return trading.Outcome{}, err
		}
		return trading.Outcome{Decision: res.Decision, Execution: res.Execution}, nil
	}
}

// revalue prices the open positions of a model and saves positions and
// portfolio. It returns the valuation and the number of open positions.
func (j *TradingJobs) revalue(ctx context.Context, tx trading.Tx, id uint) (trading.Valuation, int, error) {
	positions, err := tx.ListOpenPositions(&id)
	if err != nil {
		return trading.Valuation{}, 0, err
	}
	portfolio, err := tx.GetPortfolio(id)
	if err != nil {
		return trading.Valuation{}, 0, err
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	prices := make(map[string]decimal.Decimal, len(symbols))
	for sym, e := range j.prices.FetchMany(ctx, symbols, true) {
		if e != nil {
			prices[sym] = e.Price
		} else {
			j.logger.Warn("no price, keeping last known", zap.Uint("model_id", id), zap.String("symbol", sym))
		}
	}

	v := trading.Value(id, portfolio, positions, prices, j.calendar.Now())
	for i := range positions {
		if err := tx.SavePosition(&positions[i]); err != nil {
			return trading.Valuation{}, 0, err
		}
	}
	if portfolio != nil {
		if err := tx.SavePortfolio(portfolio); err != nil {
			return trading.Valuation{}, 0, err
		}
	}
	return v, len(positions), nil
}
