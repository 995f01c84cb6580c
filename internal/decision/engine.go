// Package decision turns a prior-period comparison and a provider policy into
// an automation decision. It has no side effects; callers apply the result.
package decision

import (
	"fmt"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/pattern"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
)

// Outcome is the final automation decision for one invoice.
type Outcome string

const (
	AutoApprove Outcome = "auto_approve"
	NeedsReview Outcome = "needs_review"
	// Error is reported when the inputs to the engine could not be gathered.
	// The invoice is left untouched and retried by a later sweep.
	Error Outcome = "error"
)

// Policy is the effective automation policy of a provider.
type Policy struct {
	ProviderTaxID     string
	AllowAutoApproval bool
	ServiceType       repository.ServiceType
	// TrustLevel in [0,1] scales the final confidence.
	TrustLevel float64
	// Responsibles are the active parties assigned to the provider, oldest first.
	Responsibles []*repository.ProviderAssignment
}

// Input is everything a decision depends on.
type Input struct {
	Invoice *repository.Invoice
	Policy  Policy
	Pattern *pattern.Result
}

// Result is the engine's verdict.
type Result struct {
	Decision         Outcome
	Confidence       float64
	Rationale        string
	MatchedInvoiceID *string
	// Rule names the rule that produced the decision.
	Rule string
	// Err is set when scoring failed and the decision degraded to review.
	Err error
}

// Config tunes the engine.
type Config struct {
	MinConfidence                 float64
	InsufficientHistoryConfidence float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{MinConfidence: 0.85, InsufficientHistoryConfidence: 0.1}
}

type rule struct {
	name string
	eval func(in Input) (Result, bool)
}

// Engine evaluates the decision rules in order and stops at the first that applies.
type Engine struct {
	cfg   Config
	log   *logger.Logger
	rules []rule
}

// NewEngine creates a decision engine
func NewEngine(cfg Config, log *logger.Logger) *Engine {
	e := &Engine{cfg: cfg, log: log.WithComponent("decision_engine")}
	e.rules = []rule{
		{name: "policy_disallows_auto", eval: e.policyDisallows},
		{name: "insufficient_history", eval: e.insufficientHistory},
		{name: "amount_deviation", eval: e.amountDeviation},
		{name: "pattern_match", eval: e.patternMatch},
	}
	return e
}

// Decide evaluates in. Any failure while scoring, panics included, degrades to
// NeedsReview; Decide never fails open into an approval.
func (e *Engine) Decide(in Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = e.degrade(in, fmt.Errorf("panic during scoring: %v", r))
		}
	}()

	if in.Invoice == nil {
		return e.degrade(in, fmt.Errorf("missing invoice"))
	}
	if in.Pattern == nil {
		return e.degrade(in, fmt.Errorf("missing pattern result"))
	}

	for _, r := range e.rules {
		if out, ok := r.eval(in); ok {
			out.Rule = r.name
			out.Confidence = clamp01(out.Confidence)
			if out.MatchedInvoiceID == nil {
				out.MatchedInvoiceID = in.Pattern.MatchedInvoiceID()
			}
			return out
		}
	}
	return e.degrade(in, fmt.Errorf("no rule produced a decision"))
}

func (e *Engine) degrade(in Input, err error) Result {
	ev := e.log.Error().Err(err)
	if in.Invoice != nil {
		ev = ev.Str("invoice_id", in.Invoice.ID).Str("provider_tax_id", in.Invoice.ProviderTaxID)
	}
	ev.Msg("scoring failed, sending invoice to review")

	return Result{
		Decision:  NeedsReview,
		Rationale: "automatic scoring failed: " + err.Error(),
		Rule:      "scoring_error",
		Err:       err,
	}
}

func (e *Engine) policyDisallows(in Input) (Result, bool) {
	if in.Policy.AllowAutoApproval {
		return Result{}, false
	}
	return Result{
		Decision:   NeedsReview,
		Confidence: in.Pattern.Confidence,
		Rationale:  "provider policy does not allow automatic approval; " + in.Pattern.Rationale,
	}, true
}

func (e *Engine) insufficientHistory(in Input) (Result, bool) {
	if in.Pattern.Found {
		return Result{}, false
	}
	return Result{
		Decision:   NeedsReview,
		Confidence: e.cfg.InsufficientHistoryConfidence,
		Rationale:  "insufficient history: " + in.Pattern.Rationale,
	}, true
}

func (e *Engine) amountDeviation(in Input) (Result, bool) {
	if in.Pattern.AmountsMatch {
		return Result{}, false
	}
	tol, _ := in.Pattern.Tolerance.Float64()
	scale := 0.0
	if in.Pattern.Deviation > 0 {
		scale = tol / in.Pattern.Deviation
	}
	if scale > 1 {
		scale = 1
	}
	return Result{
		Decision:   NeedsReview,
		Confidence: in.Pattern.Confidence * scale,
		Rationale:  "amount deviates beyond tolerance: " + in.Pattern.Rationale,
	}, true
}

// patternMatch approves a fingerprint match within tolerance. Trust scales the
// reported confidence, which is floored at the configured minimum; it never
// gates the outcome.
func (e *Engine) patternMatch(in Input) (Result, bool) {
	confidence := in.Pattern.Confidence * (0.85 + 0.15*clamp01(in.Policy.TrustLevel))

	if in.Pattern.Kind == pattern.MatchNearestDate {
		return Result{
			Decision:   NeedsReview,
			Confidence: confidence,
			Rationale:  "prior invoice matched by date only: " + in.Pattern.Rationale,
		}, true
	}

	if confidence < e.cfg.MinConfidence {
		confidence = e.cfg.MinConfidence
	}
	return Result{
		Decision:   AutoApprove,
		Confidence: confidence,
		Rationale:  in.Pattern.Rationale,
	}, true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
