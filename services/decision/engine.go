// Package decision is the client side of the external decision engine that
// turns research into BUY, SELL or HOLD for one trading model.
package decision

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction normalizes an action name. Unknown names are reported as !ok.
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, true
	}
	return "", false
}

// Decision is what the engine decided
type Decision struct {
	Action     Action  `json:"action"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// Execution summarizes the order the engine placed for a decision, if any
type Execution struct {
	Success bool                `json:"success"`
	Action  Action              `json:"action"`
	Symbol  string              `json:"symbol,omitempty"`
	Price   decimal.NullDecimal `json:"price"`
	Message string              `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Result is either a decision (with an optional execution) or a failure
// reason. Exactly one of Decision and Failure is set by a well-behaved engine.
type Result struct {
	Decision  *Decision  `json:"decision,omitempty"`
	Execution *Execution `json:"execution,omitempty"`
	Failure   string     `json:"failure,omitempty"`
}

// OK reports whether the engine produced a decision
func (r Result) OK() bool {
	return r.Failure == "" && r.Decision != nil
}

// Engine decides for one model. Implementations bound their own call time.
// A returned error means the engine could not be reached at all; a decision
// it refused to make is a Result with Failure set.
type Engine interface {
	Decide(ctx context.Context, modelID uint, performResearch bool) (Result, error)
}

// EngineFunc adapts a function to the Engine interface
type EngineFunc func(ctx context.Context, modelID uint, performResearch bool) (Result, error)

func (f EngineFunc) Decide(ctx context.Context, modelID uint, performResearch bool) (Result, error) {
	return f(ctx, modelID, performResearch)
}
