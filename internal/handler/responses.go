package handler

import (
	"time"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/decision"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/service"
)

type invoiceResponse struct {
	ID               string     `json:"id"`
	InvoiceNumber    string     `json:"invoice_number"`
	IssueDate        string     `json:"issue_date"`
	ProviderTaxID    string     `json:"provider_tax_id"`
	ProviderName     string     `json:"provider_name,omitempty"`
	Concept          string     `json:"concept,omitempty"`
	Subtotal         string     `json:"subtotal"`
	Tax              string     `json:"tax"`
	Total            string     `json:"total"`
	TotalDue         string     `json:"total_due"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	CUFE             string     `json:"cufe"`
	ResponsibleID    *string    `json:"responsible_id,omitempty"`
	ActedBy          *string    `json:"acted_by,omitempty"`
	AssignmentStatus string     `json:"assignment_status"`
	Observations     *string    `json:"observations,omitempty"`
	ApprovedBy       *string    `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	RejectedBy       *string    `json:"rejected_by,omitempty"`
	RejectedAt       *time.Time `json:"rejected_at,omitempty"`
	RejectionReason  *string    `json:"rejection_reason,omitempty"`
	RejectionDetail  *string    `json:"rejection_detail,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func invoiceToResponse(inv *repository.Invoice) *invoiceResponse {
	if inv == nil {
		return nil
	}
	return &invoiceResponse{
		ID:               inv.ID,
		InvoiceNumber:    inv.InvoiceNumber,
		IssueDate:        inv.IssueDate.Format("2006-01-02"),
		ProviderTaxID:    inv.ProviderTaxID,
		ProviderName:     inv.ProviderName,
		Concept:          inv.Concept,
		Subtotal:         inv.Subtotal.StringFixed(2),
		Tax:              inv.Tax.StringFixed(2),
		Total:            inv.Total.StringFixed(2),
		TotalDue:         inv.TotalDue.StringFixed(2),
		Currency:         inv.Currency,
		Status:           inv.Status.String(),
		CUFE:             inv.CUFE,
		ResponsibleID:    inv.ResponsibleID,
		ActedBy:          inv.ActedBy,
		AssignmentStatus: string(inv.AssignmentStatus),
		Observations:     inv.Observations,
		ApprovedBy:       inv.ApprovedBy,
		ApprovedAt:       inv.ApprovedAt,
		RejectedBy:       inv.RejectedBy,
		RejectedAt:       inv.RejectedAt,
		RejectionReason:  inv.RejectionReason,
		RejectionDetail:  inv.RejectionDetail,
		PaidAt:           inv.PaidAt,
		CreatedAt:        inv.CreatedAt,
		UpdatedAt:        inv.UpdatedAt,
	}
}

type paymentResponse struct {
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference"`
	Method      *string   `json:"method,omitempty"`
	Status      string    `json:"status"`
	ProcessedBy string    `json:"processed_by"`
	PaidAt      time.Time `json:"paid_at"`
}

type invoiceWithPaymentsResponse struct {
	Invoice     *invoiceResponse  `json:"invoice"`
	Payments    []paymentResponse `json:"payments"`
	TotalPaid   string            `json:"total_paid"`
	Outstanding string            `json:"outstanding"`
	Settled     bool              `json:"settled"`
}

func invoiceWithPaymentsToResponse(in *service.InvoiceWithPayments) *invoiceWithPaymentsResponse {
	out := &invoiceWithPaymentsResponse{
		Invoice:     invoiceToResponse(in.Invoice),
		Payments:    make([]paymentResponse, 0, len(in.Payments)),
		TotalPaid:   in.TotalPaid.StringFixed(2),
		Outstanding: in.Outstanding.StringFixed(2),
		Settled:     in.Settled,
	}
	for _, p := range in.Payments {
		out.Payments = append(out.Payments, paymentResponse{
			ID:          p.ID,
			Amount:      p.Amount.StringFixed(2),
			Reference:   p.Reference,
			Method:      p.Method,
			Status:      p.Status,
			ProcessedBy: p.ProcessedBy,
			PaidAt:      p.PaidAt,
		})
	}
	return out
}

type submitResponse struct {
	ID              string            `json:"id"`
	Action          string            `json:"action"`
	Changes         []string          `json:"changes,omitempty"`
	ConflictingCUFE string            `json:"conflicting_cufe,omitempty"`
	Invoice         *invoiceResponse  `json:"invoice,omitempty"`
	Automation      *automationResult `json:"automation,omitempty"`
}

func submitResultToResponse(res *service.SubmitResult) *submitResponse {
	out := &submitResponse{
		ID:              res.ID,
		Action:          string(res.Action),
		Changes:         res.Changes,
		ConflictingCUFE: res.ConflictingCUFE,
		Invoice:         invoiceToResponse(res.Invoice),
	}
	if res.Automation != nil {
		item := itemToResponse(*res.Automation)
		out.Automation = &item
	}
	return out
}

type automationResult struct {
	InvoiceID        string  `json:"invoice_id"`
	Decision         string  `json:"decision,omitempty"`
	Confidence       float64 `json:"confidence"`
	Rationale        string  `json:"rationale,omitempty"`
	MatchedInvoiceID *string `json:"matched_invoice_id,omitempty"`
	Skipped          bool    `json:"skipped,omitempty"`
	Error            string  `json:"error,omitempty"`
}

func itemToResponse(it service.AutomationItem) automationResult {
	return automationResult{
		InvoiceID:        it.InvoiceID,
		Decision:         string(it.Decision),
		Confidence:       it.Confidence,
		Rationale:        it.Rationale,
		MatchedInvoiceID: it.MatchedInvoiceID,
		Skipped:          it.Skipped,
		Error:            it.Error,
	}
}

type batchResponse struct {
	Processed    int                `json:"processed"`
	AutoApproved int                `json:"auto_approved"`
	SentToReview int                `json:"sent_to_review"`
	Errors       int                `json:"errors"`
	Items        []automationResult `json:"items"`
}

func batchToResponse(res *service.BatchResult) *batchResponse {
	out := &batchResponse{
		Processed:    res.Processed,
		AutoApproved: res.AutoApproved,
		SentToReview: res.SentToReview,
		Errors:       res.Errors,
		Items:        make([]automationResult, 0, len(res.Items)),
	}
	for _, it := range res.Items {
		out.Items = append(out.Items, itemToResponse(it))
	}
	return out
}

type auditResponse struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	PerformedBy  string                 `json:"performed_by"`
	StatusBefore *string                `json:"status_before,omitempty"`
	StatusAfter  *string                `json:"status_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	PerformedAt  time.Time              `json:"performed_at"`
}

func auditToResponse(e *repository.AuditEntry) auditResponse {
	return auditResponse{
		ID:           e.ID,
		Action:       e.Action,
		PerformedBy:  e.PerformedBy,
		StatusBefore: e.StatusBefore,
		StatusAfter:  e.StatusAfter,
		Metadata:     e.Metadata,
		PerformedAt:  e.PerformedAt,
	}
}

type assignmentResponse struct {
	ID                string  `json:"id"`
	ProviderTaxID     string  `json:"provider_tax_id"`
	ResponsibleID     string  `json:"responsible_id"`
	ResponsibleName   string  `json:"responsible_name"`
	ResponsibleEmail  string  `json:"responsible_email,omitempty"`
	AllowAutoApproval bool    `json:"allow_auto_approval"`
	ServiceType       string  `json:"service_type"`
	TrustLevel        float64 `json:"trust_level"`
	Active            bool    `json:"active"`
}

func assignmentToResponse(a *repository.ProviderAssignment) assignmentResponse {
	return assignmentResponse{
		ID:                a.ID,
		ProviderTaxID:     a.ProviderTaxID,
		ResponsibleID:     a.ResponsibleID,
		ResponsibleName:   a.ResponsibleName,
		ResponsibleEmail:  a.ResponsibleEmail,
		AllowAutoApproval: a.AllowAutoApproval,
		ServiceType:       string(a.ServiceType),
		TrustLevel:        a.TrustLevel,
		Active:            a.Active,
	}
}

type policyResponse struct {
	ProviderTaxID     string               `json:"provider_tax_id"`
	AllowAutoApproval bool                 `json:"allow_auto_approval"`
	ServiceType       string               `json:"service_type"`
	TrustLevel        float64              `json:"trust_level"`
	Responsibles      []assignmentResponse `json:"responsibles"`
}

func policyToResponse(p decision.Policy) policyResponse {
	out := policyResponse{
		ProviderTaxID:     p.ProviderTaxID,
		AllowAutoApproval: p.AllowAutoApproval,
		ServiceType:       string(p.ServiceType),
		TrustLevel:        p.TrustLevel,
		Responsibles:      make([]assignmentResponse, 0, len(p.Responsibles)),
	}
	for _, a := range p.Responsibles {
		out.Responsibles = append(out.Responsibles, assignmentToResponse(a))
	}
	return out
}
