package decision

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

type decideRequest struct {
	PerformResearch bool `json:"perform_research"`
}

// decideResponse is the wire format of POST /models/{id}/decide
type decideResponse struct {
	Success  bool `json:"success"`
	Decision *struct {
		Action     string  `json:"action"`
		Reasoning  string  `json:"reasoning"`
		Confidence float64 `json:"confidence"`
	} `json:"decision"`
	Execution *struct {
		Success bool     `json:"success"`
		Action  string   `json:"action"`
		Symbol  string   `json:"symbol"`
		Price   *float64 `json:"price"`
		Message string   `json:"message"`
		Error   string   `json:"error"`
	} `json:"execution"`
	Error string `json:"error"`
}

// HTTPEngine calls a remote decision service
type HTTPEngine struct {
	client *resty.Client
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPEngine{client: client}
}

func (e *HTTPEngine) Decide(ctx context.Context, modelID uint, performResearch bool) (Result, error) {
	var body decideResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatUint(uint64(modelID), 10)).
		SetBody(decideRequest{PerformResearch: performResearch}).
		SetResult(&body).
		Post("/models/{id}/decide")
	if err != nil {
		return Result{}, fmt.Errorf("decide model %d: %w", modelID, err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("decide model %d: status %d", modelID, resp.StatusCode())
	}
	return body.toResult(), nil
}

func (r decideResponse) toResult() Result {
	if !r.Success || r.Decision == nil {
		reason := r.Error
		if reason == "" {
			reason = "engine returned no decision"
		}
		return Result{Failure: reason}
	}

	action, ok := ParseAction(r.Decision.Action)
	if !ok {
		return Result{Failure: fmt.Sprintf("unknown action %q", r.Decision.Action)}
	}
	res := Result{Decision: &Decision{
		Action:     action,
		Reasoning:  r.Decision.Reasoning,
		Confidence: r.Decision.Confidence,
	}}
	if x := r.Execution; x != nil {
		exec := &Execution{
			Success: x.Success,
			Symbol:  x.Symbol,
			Message: x.Message,
			Error:   x.Error,
		}
		exec.Action, _ = ParseAction(x.Action)
		if x.Price != nil {
			exec.Price = decimal.NewNullDecimal(decimal.NewFromFloat(*x.Price))
		}
		res.Execution = exec
	}
	return res
}
