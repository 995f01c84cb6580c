package workflow

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
)

var at = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func pending() *repository.Invoice {
	return &repository.Invoice{
		ID:            "i-1",
		InvoiceNumber: "INV-100",
		ProviderTaxID: "900123456",
		Total:         decimal.NewFromInt(500),
		TotalDue:      decimal.NewFromInt(500),
		Status:        repository.StatusInReview,
		CUFE:          "C1",
	}
}

func human(name string) Actor {
	return Actor{ID: "u-1", DisplayName: name}
}

func TestNewActor(t *testing.T) {
	tests := []struct {
		name    string
		display string
		wantErr bool
	}{
		{"plain name", "Ana Gomez", false},
		{"trimmed", "  Ana  ", false},
		{"empty", "   ", true},
		{"numeric id", "1023456789", true},
		{"formatted numeric id", "1.023.456-7", true},
		{"alphanumeric", "user42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewActor("u-1", tt.display)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewActor(%q) error = %v, wantErr %v", tt.display, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrCodeValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestTargetTable(t *testing.T) {
	statuses := []repository.InvoiceStatus{
		repository.StatusInReview, repository.StatusApproved, repository.StatusAutoApproved,
		repository.StatusRejected, repository.StatusPaid,
	}
	allowed := map[Action]map[repository.InvoiceStatus]repository.InvoiceStatus{
		ActionAutoApprove:      {repository.StatusInReview: repository.StatusAutoApproved},
		ActionApprove:          {repository.StatusInReview: repository.StatusApproved},
		ActionReject:           {repository.StatusInReview: repository.StatusRejected},
		ActionReturnToProvider: {repository.StatusApproved: repository.StatusRejected, repository.StatusAutoApproved: repository.StatusRejected},
		ActionMarkPaid:         {repository.StatusApproved: repository.StatusPaid, repository.StatusAutoApproved: repository.StatusPaid},
	}

	for action, edges := range allowed {
		for _, from := range statuses {
			got, err := Target(from, action)
			want, ok := edges[from]
			if ok {
				if err != nil || got != want {
					t.Errorf("Target(%s, %s) = %s, %v; want %s", from, action, got, err, want)
				}
				continue
			}
			if !errors.Is(err, errors.ErrCodeInvalidTransition) {
				t.Errorf("Target(%s, %s) error = %v, want invalid transition", from, action, err)
			}
		}
	}
}

func TestApplyAutoApprove(t *testing.T) {
	inv := pending()
	wf := &repository.WorkflowApproval{ID: "w-1", InvoiceID: inv.ID, Stage: repository.StatusInReview}

	from, err := Apply(inv, wf, Transition{Action: ActionAutoApprove, Actor: AutomationActor, At: at})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if from != repository.StatusInReview {
		t.Errorf("from = %s", from)
	}
	if inv.Status != repository.StatusAutoApproved || wf.Stage != repository.StatusAutoApproved {
		t.Errorf("status = %s / stage = %s, want aprobada_auto", inv.Status, wf.Stage)
	}
	if inv.ActedBy == nil || *inv.ActedBy != ActedByAutomation {
		t.Errorf("ActedBy = %v, want %s", inv.ActedBy, ActedByAutomation)
	}
	if inv.ApprovedAt == nil || !inv.ApprovedAt.Equal(at) {
		t.Errorf("ApprovedAt = %v", inv.ApprovedAt)
	}
	if inv.AssignmentStatus != repository.AssignmentOrphaned {
		t.Errorf("AssignmentStatus = %s, want orphaned", inv.AssignmentStatus)
	}
}

func TestApplyRejectsNonAutomationAutoApprove(t *testing.T) {
	_, err := Apply(pending(), nil, Transition{Action: ActionAutoApprove, Actor: human("Ana"), At: at})
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestApplyRequiresDisplayName(t *testing.T) {
	inv := pending()
	_, err := Apply(inv, nil, Transition{Action: ActionApprove, Actor: Actor{ID: "42", DisplayName: "42"}, At: at})
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if inv.Status != repository.StatusInReview || inv.ApprovedBy != nil {
		t.Error("invoice must be untouched when the actor is invalid")
	}
}

func TestApplyRejectRequiresReason(t *testing.T) {
	_, err := Apply(pending(), nil, Transition{Action: ActionReject, Actor: human("Ana"), At: at})
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestApplyReturnToProvider(t *testing.T) {
	inv := pending()
	if _, err := Apply(inv, nil, Transition{Action: ActionApprove, Actor: human("Ana Gomez"), At: at}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := Apply(inv, nil, Transition{Action: ActionReturnToProvider, Actor: human("Luis Perez"), Detail: strp("wrong tax id"), At: at}); err != nil {
		t.Fatalf("return: %v", err)
	}
	if inv.Status != repository.StatusRejected {
		t.Errorf("status = %s, want rechazada", inv.Status)
	}
	if inv.RejectionReason == nil || *inv.RejectionReason != ReasonReturnedToProvider {
		t.Errorf("RejectionReason = %v", inv.RejectionReason)
	}
	if *inv.RejectedBy != "Luis Perez" || *inv.ActedBy != "Luis Perez" {
		t.Errorf("RejectedBy = %s, ActedBy = %s", *inv.RejectedBy, *inv.ActedBy)
	}
}

func TestApplyWorkflowStageIsAuthoritative(t *testing.T) {
	inv := pending()
	inv.Status = repository.StatusApproved // drifted mirror
	wf := &repository.WorkflowApproval{ID: "w-1", InvoiceID: inv.ID, Stage: repository.StatusInReview}

	if _, err := Apply(inv, wf, Transition{Action: ActionReject, Actor: human("Ana"), Reason: "duplicate", At: at}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if inv.Status != repository.StatusRejected || wf.Stage != repository.StatusRejected {
		t.Errorf("mirror not resynchronized: status %s, stage %s", inv.Status, wf.Stage)
	}
}

func TestApplyWorkflowAndLegacyPathsMatch(t *testing.T) {
	sequences := [][]Transition{
		{{Action: ActionApprove, Actor: human("Ana Gomez"), Observations: strp("ok"), At: at}},
		{{Action: ActionReject, Actor: human("Ana Gomez"), Reason: "amount", Detail: strp("too high"), At: at}},
		{{Action: ActionAutoApprove, Actor: AutomationActor, At: at}, {Action: ActionMarkPaid, Actor: human("Tesoreria"), At: at}},
		{{Action: ActionApprove, Actor: human("Ana Gomez"), At: at}, {Action: ActionReturnToProvider, Actor: human("Luis"), At: at}},
	}

	for _, seq := range sequences {
		legacy := pending()
		tracked := pending()
		tracked.ResponsibleID = nil
		wf := &repository.WorkflowApproval{ID: "w-1", InvoiceID: tracked.ID, Stage: repository.StatusInReview}

		for _, tr := range seq {
			if _, err := Apply(legacy, nil, tr); err != nil {
				t.Fatalf("legacy %s: %v", tr.Action, err)
			}
			if _, err := Apply(tracked, wf, tr); err != nil {
				t.Fatalf("workflow %s: %v", tr.Action, err)
			}
		}
		if !reflect.DeepEqual(legacy, tracked) {
			t.Errorf("paths diverged after %v:\nlegacy  %+v\ntracked %+v", seq[len(seq)-1].Action, legacy, tracked)
		}
	}
}

func TestAssignmentStatusAfterTransitions(t *testing.T) {
	tests := []struct {
		name        string
		responsible *string
		action      *Transition
		want        repository.AssignmentStatus
	}{
		{"responsible, no action", strp("u-9"), nil, repository.AssignmentAssigned},
		{"responsible, approved", strp("u-9"), &Transition{Action: ActionApprove, Actor: human("Ana"), At: at}, repository.AssignmentAssigned},
		{"no responsible, approved", nil, &Transition{Action: ActionApprove, Actor: human("Ana"), At: at}, repository.AssignmentOrphaned},
		{"no responsible, no action", nil, nil, repository.AssignmentUnassigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := pending()
			inv.ResponsibleID = tt.responsible
			inv.RecomputeAssignmentStatus()
			if tt.action != nil {
				if _, err := Apply(inv, nil, *tt.action); err != nil {
					t.Fatalf("Apply() error = %v", err)
				}
			}
			if inv.AssignmentStatus != tt.want {
				t.Errorf("AssignmentStatus = %s, want %s", inv.AssignmentStatus, tt.want)
			}
		})
	}
}

func TestAlreadyApplied(t *testing.T) {
	inv := pending()
	inv.Status = repository.StatusApproved
	if !AlreadyApplied(inv, nil, ActionApprove) {
		t.Error("approved invoice should report approve as already applied")
	}
	if AlreadyApplied(inv, nil, ActionReject) {
		t.Error("approved invoice is not rejected")
	}
}
