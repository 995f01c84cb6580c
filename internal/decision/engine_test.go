package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/pattern"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
)

func newInvoice(id string, issued time.Time, total int64) *repository.Invoice {
	return &repository.Invoice{
		ID:                   id,
		InvoiceNumber:        "INV-" + id,
		IssueDate:            issued,
		ProviderTaxID:        "900123456",
		Total:                decimal.NewFromInt(total),
		TotalDue:             decimal.NewFromInt(total),
		Status:               repository.StatusInReview,
		FingerprintPrincipal: "P1",
		FingerprintConcept:   "C1",
	}
}

func compare(priorTotal, total int64, kind pattern.MatchKind) (*repository.Invoice, *pattern.Result) {
	prior := newInvoice("prior", time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), priorTotal)
	current := newInvoice("current", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), total)
	res := pattern.Compare(current, prior, kind, decimal.NewFromFloat(0.05))
	return current, &res
}

func allowing(trust float64) Policy {
	return Policy{ProviderTaxID: "900123456", AllowAutoApproval: true, ServiceType: repository.ServiceRecurring, TrustLevel: trust}
}

func TestDecideTwoPercentDeltaAutoApproves(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())
	inv, pr := compare(200, 204, pattern.MatchPrincipal)

	res := engine.Decide(Input{Invoice: inv, Policy: allowing(0.9), Pattern: pr})

	if res.Decision != AutoApprove {
		t.Fatalf("Decision = %v, want auto_approve (%s)", res.Decision, res.Rationale)
	}
	if res.Confidence < 0.85 {
		t.Errorf("Confidence = %.4f, want >= 0.85", res.Confidence)
	}
	if res.MatchedInvoiceID == nil || *res.MatchedInvoiceID != "prior" {
		t.Errorf("MatchedInvoiceID = %v, want prior", res.MatchedInvoiceID)
	}
}

func TestDecideWithinToleranceRaisesConfidenceToThreshold(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())

	_, edge := compare(200, 210, pattern.MatchPrincipal)
	prior := newInvoice("prior", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 200)
	late := newInvoice("current", time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC), 204)
	offCycle := pattern.Compare(late, prior, pattern.MatchPrincipal, decimal.NewFromFloat(0.05))

	tests := []struct {
		name    string
		invoice *repository.Invoice
		pattern *pattern.Result
		trust   float64
	}{
		{"five percent increase", late, edge, 1},
		{"unset trust", late, edge, 0.5},
		{"off-cycle issue date", late, &offCycle, 1},
		{"zero trust", late, &offCycle, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.Decide(Input{Invoice: tt.invoice, Policy: allowing(tt.trust), Pattern: tt.pattern})
			if res.Decision != AutoApprove {
				t.Fatalf("Decision = %v, want auto_approve (%s)", res.Decision, res.Rationale)
			}
			if res.Confidence < DefaultConfig().MinConfidence {
				t.Errorf("Confidence = %.4f, want at least %.2f", res.Confidence, DefaultConfig().MinConfidence)
			}
		})
	}
}

func TestDecideNeverAutoApprovesWhenPolicyDisallows(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())

	cases := []struct {
		prior, total int64
		kind         pattern.MatchKind
	}{
		{200, 200, pattern.MatchPrincipal},
		{200, 204, pattern.MatchPrincipal},
		{200, 200, pattern.MatchConcept},
		{200, 400, pattern.MatchPrincipal},
		{200, 200, pattern.MatchNearestDate},
	}

	for _, c := range cases {
		for _, trust := range []float64{0, 0.5, 1} {
			inv, pr := compare(c.prior, c.total, c.kind)
			policy := allowing(trust)
			policy.AllowAutoApproval = false

			res := engine.Decide(Input{Invoice: inv, Policy: policy, Pattern: pr})
			if res.Decision == AutoApprove {
				t.Errorf("auto approval with policy disabled (prior %d, total %d, kind %s, trust %.1f)",
					c.prior, c.total, c.kind, trust)
			}
			if res.Rule != "policy_disallows_auto" {
				t.Errorf("Rule = %q, want policy_disallows_auto", res.Rule)
			}
			if res.Confidence != pr.Confidence {
				t.Errorf("Confidence = %.4f, want informational pattern confidence %.4f", res.Confidence, pr.Confidence)
			}
		}
	}
}

func TestDecideRules(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())
	inv, _ := compare(200, 200, pattern.MatchPrincipal)

	noMatch := &pattern.Result{Found: false, Kind: pattern.MatchNone, Tolerance: decimal.NewFromFloat(0.05), Rationale: "no prior-period invoice"}
	_, exact := compare(200, 200, pattern.MatchPrincipal)
	_, small := compare(200, 230, pattern.MatchPrincipal)
	_, large := compare(200, 400, pattern.MatchPrincipal)
	_, byDate := compare(200, 200, pattern.MatchNearestDate)

	tests := []struct {
		name     string
		pattern  *pattern.Result
		policy   Policy
		want     Outcome
		wantRule string
	}{
		{"no prior period", noMatch, allowing(1), NeedsReview, "insufficient_history"},
		{"deviation beyond tolerance", small, allowing(1), NeedsReview, "amount_deviation"},
		{"date-only match", byDate, allowing(1), NeedsReview, "pattern_match"},
		{"zero trust still clears threshold on exact match", exact, allowing(0), AutoApprove, "pattern_match"},
		{"exact match", exact, allowing(1), AutoApprove, "pattern_match"},
		{"large deviation", large, allowing(1), NeedsReview, "amount_deviation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.Decide(Input{Invoice: inv, Policy: tt.policy, Pattern: tt.pattern})
			if res.Decision != tt.want {
				t.Errorf("Decision = %v, want %v (%s)", res.Decision, tt.want, res.Rationale)
			}
			if res.Rule != tt.wantRule {
				t.Errorf("Rule = %q, want %q", res.Rule, tt.wantRule)
			}
			if res.Confidence < 0 || res.Confidence > 1 {
				t.Errorf("Confidence %.4f outside [0,1]", res.Confidence)
			}
		})
	}
}

func TestDecideInsufficientHistoryConfidence(t *testing.T) {
	engine := NewEngine(Config{MinConfidence: 0.85, InsufficientHistoryConfidence: 0.1}, logger.Nop())
	inv, _ := compare(200, 200, pattern.MatchPrincipal)

	res := engine.Decide(Input{Invoice: inv, Policy: allowing(1), Pattern: &pattern.Result{Found: false}})
	if res.Confidence != 0.1 {
		t.Errorf("Confidence = %.4f, want 0.1", res.Confidence)
	}
	if res.MatchedInvoiceID != nil {
		t.Error("no matched invoice expected")
	}
}

func TestDecideDeviationScalesConfidence(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())
	inv, small := compare(200, 230, pattern.MatchPrincipal)
	_, large := compare(200, 400, pattern.MatchPrincipal)

	a := engine.Decide(Input{Invoice: inv, Policy: allowing(1), Pattern: small})
	b := engine.Decide(Input{Invoice: inv, Policy: allowing(1), Pattern: large})
	if !(b.Confidence < a.Confidence) {
		t.Errorf("larger deviation should lower confidence: 15%% -> %.4f, 100%% -> %.4f", a.Confidence, b.Confidence)
	}
	if a.Confidence >= small.Confidence {
		t.Errorf("deviation confidence %.4f should be scaled below pattern confidence %.4f", a.Confidence, small.Confidence)
	}
}

func TestDecideRecoversFromPanics(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())
	engine.rules = append([]rule{{name: "boom", eval: func(Input) (Result, bool) { panic("boom") }}}, engine.rules...)
	inv, pr := compare(200, 200, pattern.MatchPrincipal)

	res := engine.Decide(Input{Invoice: inv, Policy: allowing(1), Pattern: pr})
	if res.Decision != NeedsReview {
		t.Errorf("Decision = %v, want needs_review", res.Decision)
	}
	if res.Err == nil {
		t.Error("expected scoring error to be recorded")
	}
}

func TestDecideMissingInputsDegrade(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())
	inv, _ := compare(200, 200, pattern.MatchPrincipal)

	for _, in := range []Input{{}, {Invoice: inv, Policy: allowing(1)}} {
		res := engine.Decide(in)
		if res.Decision != NeedsReview || res.Err == nil {
			t.Errorf("Decide(%+v) = %+v, want degraded needs_review", in, res)
		}
	}
}
