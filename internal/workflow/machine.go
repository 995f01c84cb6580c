// Package workflow owns the approval lifecycle of an invoice. Every status
// change goes through Apply, for invoices with a workflow row and for legacy
// invoices without one.
package workflow

import (
	"strings"
	"time"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
)

// Action is a workflow transition trigger.
type Action string

const (
	ActionAutoApprove      Action = "auto_approve"
	ActionApprove          Action = "approve"
	ActionReject           Action = "reject"
	ActionReturnToProvider Action = "return_to_provider"
	ActionMarkPaid         Action = "mark_paid"
)

// ReasonReturnedToProvider is the rejection reason recorded by accounting returns.
const ReasonReturnedToProvider = "RETURNED_TO_PROVIDER"

type edge struct {
	from []repository.InvoiceStatus
	to   repository.InvoiceStatus
}

var transitions = map[Action]edge{
	ActionAutoApprove: {
		from: []repository.InvoiceStatus{repository.StatusInReview},
		to:   repository.StatusAutoApproved,
	},
	ActionApprove: {
		from: []repository.InvoiceStatus{repository.StatusInReview},
		to:   repository.StatusApproved,
	},
	ActionReject: {
		from: []repository.InvoiceStatus{repository.StatusInReview},
		to:   repository.StatusRejected,
	},
	ActionReturnToProvider: {
		from: []repository.InvoiceStatus{repository.StatusApproved, repository.StatusAutoApproved},
		to:   repository.StatusRejected,
	},
	ActionMarkPaid: {
		from: []repository.InvoiceStatus{repository.StatusApproved, repository.StatusAutoApproved},
		to:   repository.StatusPaid,
	},
}

// Target returns the status action leads to from the given status.
func Target(from repository.InvoiceStatus, action Action) (repository.InvoiceStatus, error) {
	e, ok := transitions[action]
	if !ok {
		return "", errors.InvalidInput("action", "unknown workflow action '"+string(action)+"'")
	}
	for _, s := range e.from {
		if s == from {
			return e.to, nil
		}
	}
	return "", errors.InvalidTransition(from.String(), string(action))
}

// CanApply reports whether action is allowed from the given status.
func CanApply(from repository.InvoiceStatus, action Action) bool {
	_, err := Target(from, action)
	return err == nil
}

// CurrentStatus returns the authoritative status: the workflow stage when the
// invoice is under workflow control, the invoice status otherwise.
func CurrentStatus(inv *repository.Invoice, wf *repository.WorkflowApproval) repository.InvoiceStatus {
	if wf != nil && wf.Stage != "" {
		return wf.Stage
	}
	return inv.Status
}

// AlreadyApplied reports whether the invoice already sits in the status action
// would move it to.
func AlreadyApplied(inv *repository.Invoice, wf *repository.WorkflowApproval, action Action) bool {
	e, ok := transitions[action]
	return ok && CurrentStatus(inv, wf) == e.to
}

// Transition describes one requested status change.
type Transition struct {
	Action       Action
	Actor        Actor
	Observations *string
	// Reason is required for ActionReject and ignored for returns.
	Reason string
	Detail *string
	At     time.Time
}

// Apply performs t on inv and, when wf is non-nil, mirrors it on the workflow
// row. Both paths leave the invoice in the same state. The assignment status
// is recomputed before returning. It returns the status the invoice left.
func Apply(inv *repository.Invoice, wf *repository.WorkflowApproval, t Transition) (repository.InvoiceStatus, error) {
	from := CurrentStatus(inv, wf)
	to, err := Target(from, t.Action)
	if err != nil {
		return from, err
	}
	if err := checkActor(t); err != nil {
		return from, err
	}

	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	name := t.Actor.DisplayName

	switch t.Action {
	case ActionAutoApprove:
		inv.ApprovedBy = strPtr(AutomationActor.DisplayName)
		inv.ApprovedAt = &at
		inv.ActedBy = strPtr(ActedByAutomation)
		if wf != nil {
			wf.ApprovedBy = strPtr(AutomationActor.DisplayName)
			wf.ApprovedAt = &at
		}

	case ActionApprove:
		inv.ApprovedBy = strPtr(name)
		inv.ApprovedAt = &at
		inv.ActedBy = strPtr(name)
		if t.Observations != nil {
			inv.Observations = strPtr(*t.Observations)
		}
		if wf != nil {
			wf.ApprovedBy = strPtr(name)
			wf.ApprovedAt = &at
			if t.Observations != nil {
				wf.Observations = strPtr(*t.Observations)
			}
		}

	case ActionReject, ActionReturnToProvider:
		reason := strings.TrimSpace(t.Reason)
		if t.Action == ActionReturnToProvider {
			reason = ReasonReturnedToProvider
		}
		inv.RejectedBy = strPtr(name)
		inv.RejectedAt = &at
		inv.RejectionReason = strPtr(reason)
		inv.RejectionDetail = cloneStr(t.Detail)
		inv.ActedBy = strPtr(name)
		if wf != nil {
			wf.RejectedBy = strPtr(name)
			wf.RejectedAt = &at
			if t.Detail != nil {
				wf.Observations = strPtr(*t.Detail)
			}
		}

	case ActionMarkPaid:
		inv.PaidAt = &at
	}

	inv.Status = to
	if wf != nil {
		wf.Stage = to
	}
	inv.RecomputeAssignmentStatus()
	return from, nil
}

func checkActor(t Transition) error {
	switch t.Action {
	case ActionAutoApprove:
		if !t.Actor.IsAutomation() {
			return errors.InvalidInput("actor", "automatic approval can only be performed by the automation system")
		}
		return nil
	case ActionReject:
		if strings.TrimSpace(t.Reason) == "" {
			return errors.InvalidInput("reason", "rejection reason is required")
		}
	}

	if err := t.Actor.Validate(); err != nil {
		return err
	}
	if t.Action != ActionMarkPaid && t.Actor.IsAutomation() {
		return errors.InvalidInput("actor", "manual transitions require a human actor")
	}
	return nil
}

// AuditAction returns the audit log action recorded for a transition.
func AuditAction(a Action) string {
	switch a {
	case ActionAutoApprove:
		return repository.AuditAutoApproved
	case ActionApprove:
		return repository.AuditApproved
	case ActionReject:
		return repository.AuditRejected
	case ActionReturnToProvider:
		return repository.AuditReturnedToProvider
	case ActionMarkPaid:
		return repository.AuditPaid
	}
	return repository.AuditUpdate
}

func strPtr(s string) *string { return &s }

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
