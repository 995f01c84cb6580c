package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Invoice lifecycle ────────────────────────────────────────────────────────

// InvoiceStatus is the canonical approval lifecycle state of an invoice.
type InvoiceStatus string

const (
	StatusInReview     InvoiceStatus = "en_revision"
	StatusApproved     InvoiceStatus = "aprobada"
	StatusAutoApproved InvoiceStatus = "aprobada_auto"
	StatusRejected     InvoiceStatus = "rechazada"
	StatusPaid         InvoiceStatus = "pagada"
)

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsApproved reports whether the status is one of the two approved states.
func (s InvoiceStatus) IsApproved() bool {
	return s == StatusApproved || s == StatusAutoApproved
}

// IsValid checks if the status is known
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case StatusInReview, StatusApproved, StatusAutoApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// AssignmentStatus classifies an invoice by responsible-party and action-actor presence.
type AssignmentStatus string

const (
	AssignmentUnassigned AssignmentStatus = "unassigned"
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentOrphaned   AssignmentStatus = "orphaned"
	// AssignmentInconsistent only appears on rows written before the derivation
	// rule existed; every write replaces it with a derived value.
	AssignmentInconsistent AssignmentStatus = "inconsistent"
)

// DeriveAssignmentStatus is the single rule for assignment status:
// responsible present → assigned; otherwise an action actor → orphaned;
// neither → unassigned.
func DeriveAssignmentStatus(responsibleID, actionActor *string) AssignmentStatus {
	if present(responsibleID) {
		return AssignmentAssigned
	}
	if present(actionActor) {
		return AssignmentOrphaned
	}
	return AssignmentUnassigned
}

func present(s *string) bool {
	return s != nil && *s != ""
}

// Invoice is a vendor invoice under approval control. Amounts are fixed-point decimals.
type Invoice struct {
	ID                   string
	InvoiceNumber        string
	IssueDate            time.Time
	ProviderTaxID        string
	ProviderName         string
	Concept              string
	Subtotal             decimal.Decimal
	Tax                  decimal.Decimal
	Total                decimal.Decimal
	TotalDue             decimal.Decimal
	Currency             string
	Status               InvoiceStatus
	CUFE                 string
	FingerprintPrincipal string
	FingerprintConcept   string
	ResponsibleID        *string
	ActedBy              *string
	AssignmentStatus     AssignmentStatus
	Observations         *string
	CreatedBy            *string
	ApprovedBy           *string
	ApprovedAt           *time.Time
	RejectedBy           *string
	RejectedAt           *time.Time
	RejectionReason      *string
	RejectionDetail      *string
	PaidAt               *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ActionActor returns whoever last acted on the invoice, if anyone.
func (inv *Invoice) ActionActor() *string {
	for _, s := range []*string{inv.ActedBy, inv.ApprovedBy, inv.RejectedBy} {
		if present(s) {
			return s
		}
	}
	return nil
}

// RecomputeAssignmentStatus re-asserts the assignment status invariant. Every
// store calls it on each create and update.
func (inv *Invoice) RecomputeAssignmentStatus() {
	inv.AssignmentStatus = DeriveAssignmentStatus(inv.ResponsibleID, inv.ActionActor())
}

// Clone returns a deep copy so callers can diff before/after states.
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	c.ResponsibleID = cloneStr(inv.ResponsibleID)
	c.ActedBy = cloneStr(inv.ActedBy)
	c.Observations = cloneStr(inv.Observations)
	c.CreatedBy = cloneStr(inv.CreatedBy)
	c.ApprovedBy = cloneStr(inv.ApprovedBy)
	c.ApprovedAt = cloneTime(inv.ApprovedAt)
	c.RejectedBy = cloneStr(inv.RejectedBy)
	c.RejectedAt = cloneTime(inv.RejectedAt)
	c.RejectionReason = cloneStr(inv.RejectionReason)
	c.RejectionDetail = cloneStr(inv.RejectionDetail)
	c.PaidAt = cloneTime(inv.PaidAt)
	return &c
}

// ── Workflow ─────────────────────────────────────────────────────────────────

// WorkflowApproval tracks one invoice under formal workflow control. Its Stage
// is authoritative; Invoice.Status mirrors it.
type WorkflowApproval struct {
	ID                   string
	InvoiceID            string
	Stage                InvoiceStatus
	ApprovedBy           *string
	ApprovedAt           *time.Time
	RejectedBy           *string
	RejectedAt           *time.Time
	Observations         *string
	AutomationDecision   *string
	AutomationConfidence *float64
	MatchedInvoiceID     *string
	AutomationCheckedAt  *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Clone returns a deep copy
func (wf *WorkflowApproval) Clone() *WorkflowApproval {
	c := *wf
	c.ApprovedBy = cloneStr(wf.ApprovedBy)
	c.ApprovedAt = cloneTime(wf.ApprovedAt)
	c.RejectedBy = cloneStr(wf.RejectedBy)
	c.RejectedAt = cloneTime(wf.RejectedAt)
	c.Observations = cloneStr(wf.Observations)
	c.AutomationDecision = cloneStr(wf.AutomationDecision)
	if wf.AutomationConfidence != nil {
		v := *wf.AutomationConfidence
		c.AutomationConfidence = &v
	}
	c.MatchedInvoiceID = cloneStr(wf.MatchedInvoiceID)
	c.AutomationCheckedAt = cloneTime(wf.AutomationCheckedAt)
	return &c
}

// ── Provider assignments ─────────────────────────────────────────────────────

// ServiceType is the declared billing pattern of a provider.
type ServiceType string

const (
	// ServiceRecurring bills a stable amount every period.
	ServiceRecurring ServiceType = "recurring"
	// ServiceVariable bills amounts that legitimately drift between periods.
	ServiceVariable ServiceType = "variable"
)

// IsValid checks if the service type is known
func (s ServiceType) IsValid() bool {
	return s == ServiceRecurring || s == ServiceVariable
}

// ProviderAssignment links a provider tax ID to a responsible party. Rows are
// soft-deleted through Active and reactivated in place.
type ProviderAssignment struct {
	ID                string
	ProviderTaxID     string
	ResponsibleID     string
	ResponsibleName   string
	ResponsibleEmail  string
	AllowAutoApproval bool
	ServiceType       ServiceType
	TrustLevel        float64 // 0..1
	Active            bool
	DeactivatedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ── Payments ─────────────────────────────────────────────────────────────────

// PaymentStatusCompleted is the only status counted towards settlement.
const PaymentStatusCompleted = "completed"

// Payment is an append-only record of money paid against one invoice.
type Payment struct {
	ID          string
	InvoiceID   string
	Amount      decimal.Decimal
	Reference   string
	Method      *string
	Status      string
	ProcessedBy string
	PaidAt      time.Time
	CreatedAt   time.Time
}

// ── Audit ────────────────────────────────────────────────────────────────────

// Audit actions
const (
	AuditCreate             = "create"
	AuditUpdate             = "update"
	AuditConflict           = "conflict"
	AuditAutoApproved       = "auto_approved"
	AuditApproved           = "approved"
	AuditRejected           = "rejected"
	AuditReturnedToProvider = "returned_to_provider"
	AuditPaid               = "paid"
	AuditAutomationReview   = "automation_review"
)

// AuditEntry is one immutable record in the invoice audit log.
type AuditEntry struct {
	ID           string
	InvoiceID    *string
	CUFE         string
	Action       string
	PerformedBy  string
	StatusBefore *string
	StatusAfter  *string
	Metadata     map[string]interface{}
	PerformedAt  time.Time
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
