// Package pattern compares an invoice against the comparable invoice the same
// provider issued in the previous billing period.
package pattern

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
)

// MatchKind records which tier selected the prior-period invoice.
type MatchKind string

const (
	MatchNone        MatchKind = "none"
	MatchPrincipal   MatchKind = "principal"
	MatchConcept     MatchKind = "concept"
	MatchNearestDate MatchKind = "nearest_date"
)

// Suggestion is the decision the comparison alone would support.
type Suggestion string

const (
	SuggestAutoApprove Suggestion = "auto_approve"
	SuggestNeedsReview Suggestion = "needs_review"
)

// Confidence weights. They sum to 1.
const (
	weightConcept = 0.50
	weightAmount  = 0.35
	weightCadence = 0.15

	// expectedCadenceDays is the nominal distance between two monthly invoices.
	expectedCadenceDays = 30.0
)

var hundred = decimal.NewFromInt(100)

// Options tunes the comparison.
type Options struct {
	// Tolerance is the accepted relative amount deviation (0.05 = 5%).
	Tolerance decimal.Decimal
	// VariableTolerance replaces Tolerance for variable-service providers.
	VariableTolerance decimal.Decimal
}

// DefaultOptions returns the stock tolerances.
func DefaultOptions() Options {
	return Options{
		Tolerance:         decimal.NewFromFloat(0.05),
		VariableTolerance: decimal.NewFromFloat(0.10),
	}
}

// ToleranceFor returns the amount tolerance for a provider's service type.
func (o Options) ToleranceFor(st repository.ServiceType) decimal.Decimal {
	if st == repository.ServiceVariable && o.VariableTolerance.IsPositive() {
		return o.VariableTolerance
	}
	return o.Tolerance
}

// Result is the outcome of a prior-period comparison.
type Result struct {
	// Found is false when the provider has no usable invoice in the previous period.
	Found   bool
	Kind    MatchKind
	Matched *repository.Invoice

	// PercentDiff is (current - prior) / prior * 100.
	PercentDiff decimal.Decimal
	// Deviation is |PercentDiff| as a fraction.
	Deviation    float64
	Tolerance    decimal.Decimal
	AmountsMatch bool

	Suggested  Suggestion
	Confidence float64
	Rationale  string
}

// MatchedInvoiceID returns the id of the prior invoice, if any.
func (r *Result) MatchedInvoiceID() *string {
	if r == nil || r.Matched == nil {
		return nil
	}
	id := r.Matched.ID
	return &id
}

// Source lists a provider's invoices issued in [from, to). repository.Tx satisfies it.
type Source interface {
	ListProviderInvoices(ctx context.Context, providerTaxID string, from, to time.Time, excludeID string) ([]*repository.Invoice, error)
}

// PriorPeriod returns the calendar month immediately before the one containing t.
func PriorPeriod(t time.Time) (from, to time.Time) {
	y, m, _ := t.Date()
	to = time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	from = to.AddDate(0, -1, 0)
	return from, to
}

// Detector locates and compares prior-period invoices.
type Detector struct {
	opts Options
}

// NewDetector creates a detector with the given options
func NewDetector(opts Options) *Detector {
	return &Detector{opts: opts}
}

// Options returns the detector's configuration.
func (d *Detector) Options() Options {
	return d.opts
}

// Detect finds the comparable prior-period invoice for inv and compares it.
// A missing candidate is a normal outcome, not an error.
func (d *Detector) Detect(ctx context.Context, src Source, inv *repository.Invoice, st repository.ServiceType) (*Result, error) {
	from, to := PriorPeriod(inv.IssueDate)
	candidates, err := src.ListProviderInvoices(ctx, inv.ProviderTaxID, from, to, inv.ID)
	if err != nil {
		return nil, err
	}

	tolerance := d.opts.ToleranceFor(st)
	prior, kind := SelectCandidate(inv, candidates)
	if prior == nil {
		return &Result{
			Found:     false,
			Kind:      MatchNone,
			Tolerance: tolerance,
			Suggested: SuggestNeedsReview,
			Rationale: fmt.Sprintf("no prior-period invoice from provider %s between %s and %s",
				inv.ProviderTaxID, from.Format("2006-01-02"), to.AddDate(0, 0, -1).Format("2006-01-02")),
		}, nil
	}

	res := Compare(inv, prior, kind, tolerance)
	return &res, nil
}

// SelectCandidate picks the comparable invoice by principal fingerprint, then
// concept fingerprint, then nearest issue date. Rejected invoices never serve
// as a reference.
func SelectCandidate(inv *repository.Invoice, candidates []*repository.Invoice) (*repository.Invoice, MatchKind) {
	usable := make([]*repository.Invoice, 0, len(candidates))
	for _, c := range candidates {
		if c.Status == repository.StatusRejected {
			continue
		}
		usable = append(usable, c)
	}
	if len(usable) == 0 {
		return nil, MatchNone
	}

	if inv.FingerprintPrincipal != "" {
		if c := nearest(inv, usable, func(c *repository.Invoice) bool {
			return c.FingerprintPrincipal == inv.FingerprintPrincipal
		}); c != nil {
			return c, MatchPrincipal
		}
	}
	if inv.FingerprintConcept != "" {
		if c := nearest(inv, usable, func(c *repository.Invoice) bool {
			return c.FingerprintConcept == inv.FingerprintConcept
		}); c != nil {
			return c, MatchConcept
		}
	}
	return nearest(inv, usable, func(*repository.Invoice) bool { return true }), MatchNearestDate
}

// nearest returns the candidate accepted by keep whose issue date is closest to
// one month before inv. Ties keep the earlier position in the slice.
func nearest(inv *repository.Invoice, candidates []*repository.Invoice, keep func(*repository.Invoice) bool) *repository.Invoice {
	target := inv.IssueDate.AddDate(0, -1, 0)
	var best *repository.Invoice
	var bestDist time.Duration
	for _, c := range candidates {
		if !keep(c) {
			continue
		}
		dist := c.IssueDate.Sub(target)
		if dist < 0 {
			dist = -dist
		}
		if best == nil || dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best
}

// Compare scores current against prior. It is pure: neither invoice is modified.
// A fingerprint match within tolerance suggests approval; confidence grades the
// evidence but does not change the suggestion.
func Compare(current, prior *repository.Invoice, kind MatchKind, tolerance decimal.Decimal) Result {
	pct := percentDiff(current.Total, prior.Total)
	deviation, _ := pct.Abs().Div(hundred).Float64()
	tol, _ := tolerance.Float64()
	amountsMatch := pct.Abs().LessThanOrEqual(tolerance.Mul(hundred))

	days := current.IssueDate.Sub(prior.IssueDate).Hours() / 24
	confidence := weightConcept*conceptScore(kind) +
		weightAmount*amountScore(deviation, tol) +
		weightCadence*cadenceScore(days)
	confidence = clamp01(round4(confidence))

	suggested := SuggestNeedsReview
	if amountsMatch && kind != MatchNearestDate {
		suggested = SuggestAutoApprove
	}

	within := "outside"
	if amountsMatch {
		within = "within"
	}
	rationale := fmt.Sprintf("%s match with invoice %s issued %s: total %s vs prior %s (%s%%), %s %s%% tolerance, %.0f days apart",
		kind, prior.InvoiceNumber, prior.IssueDate.Format("2006-01-02"),
		current.Total.StringFixed(2), prior.Total.StringFixed(2), signed(pct),
		within, tolerance.Mul(hundred).String(), days)

	return Result{
		Found:        true,
		Kind:         kind,
		Matched:      prior,
		PercentDiff:  pct,
		Deviation:    deviation,
		Tolerance:    tolerance,
		AmountsMatch: amountsMatch,
		Suggested:    suggested,
		Confidence:   confidence,
		Rationale:    rationale,
	}
}

func percentDiff(current, prior decimal.Decimal) decimal.Decimal {
	if prior.IsZero() {
		if current.IsZero() {
			return decimal.Zero
		}
		return hundred
	}
	return current.Sub(prior).Div(prior).Mul(hundred).Round(4)
}

func conceptScore(kind MatchKind) float64 {
	switch kind {
	case MatchPrincipal:
		return 1.0
	case MatchConcept:
		return 0.8
	case MatchNearestDate:
		return 0.4
	}
	return 0
}

// amountScore is 1 for identical amounts, 0.5 at the tolerance boundary and
// decays towards 0 beyond it.
func amountScore(deviation, tolerance float64) float64 {
	if tolerance <= 0 {
		if deviation == 0 {
			return 1
		}
		return 0
	}
	if deviation <= tolerance {
		return 1 - 0.5*(deviation/tolerance)
	}
	return 0.5 * tolerance / deviation
}

func cadenceScore(days float64) float64 {
	return clamp01(1 - math.Abs(days-expectedCadenceDays)/expectedCadenceDays)
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

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
