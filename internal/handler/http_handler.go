package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/service"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

// Services groups the use cases exposed over HTTP.
type Services struct {
	Invoices    *service.InvoiceService
	Workflows   *service.WorkflowService
	Payments    *service.PaymentService
	Assignments *service.AssignmentService
	Automation  *service.AutomationService
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	svc Services
	log *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc: svc,
		log: log.WithComponent("http_handler"),
	}
}

type submitInvoiceBody struct {
	CUFE          string  `json:"cufe"`
	InvoiceNumber string  `json:"invoice_number"`
	IssueDate     string  `json:"issue_date"`
	ProviderTaxID string  `json:"provider_tax_id"`
	ProviderName  string  `json:"provider_name"`
	Concept       string  `json:"concept"`
	Subtotal      string  `json:"subtotal"`
	Tax           string  `json:"tax"`
	Total         *string `json:"total,omitempty"`
	TotalDue      *string `json:"total_due,omitempty"`
	Currency      string  `json:"currency"`
	Observations  *string `json:"observations,omitempty"`
	SubmittedBy   string  `json:"submitted_by"`
}

type actorBody struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
}

func (a actorBody) actor() (workflow.Actor, error) {
	return workflow.NewActor(a.ActorID, a.ActorName)
}

// SubmitInvoice handles POST /api/v1/invoices
func (h *HTTPHandler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	var body submitInvoiceBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.svc.Invoices.SubmitInvoice(r.Context(), &service.SubmitInvoiceRequest{
		CUFE:          body.CUFE,
		InvoiceNumber: body.InvoiceNumber,
		IssueDate:     body.IssueDate,
		ProviderTaxID: body.ProviderTaxID,
		ProviderName:  body.ProviderName,
		Concept:       body.Concept,
		Subtotal:      body.Subtotal,
		Tax:           body.Tax,
		Total:         body.Total,
		TotalDue:      body.TotalDue,
		Currency:      body.Currency,
		Observations:  body.Observations,
		SubmittedBy:   body.SubmittedBy,
	})
	if err != nil && !errors.Is(err, errors.ErrCodeConflict) {
		h.respondWithError(w, r, err)
		return
	}

	status := http.StatusOK
	switch res.Action {
	case service.SubmitCreated:
		status = http.StatusCreated
	case service.SubmitConflict:
		status = http.StatusConflict
	}
	respondWithJSON(w, status, submitResultToResponse(res))
}

// GetInvoice handles GET /api/v1/invoices/{id}
func (h *HTTPHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Invoices.GetInvoice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, invoiceWithPaymentsToResponse(out))
}

// GetHistory handles GET /api/v1/invoices/{id}/history
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Invoices.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditToResponse(e))
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"entries": out})
}

// ApproveInvoice handles POST /api/v1/invoices/{id}/approve
func (h *HTTPHandler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		actorBody
		Observations    *string `json:"observations,omitempty"`
		AllowIdempotent bool    `json:"allow_idempotent"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	actor, err := body.actor()
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	inv, err := h.svc.Workflows.Approve(r.Context(), &service.ApproveRequest{
		InvoiceID:       mux.Vars(r)["id"],
		Actor:           actor,
		Observations:    body.Observations,
		AllowIdempotent: body.AllowIdempotent,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, invoiceToResponse(inv))
}

// RejectInvoice handles POST /api/v1/invoices/{id}/reject
func (h *HTTPHandler) RejectInvoice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		actorBody
		Reason          string  `json:"reason"`
		Detail          *string `json:"detail,omitempty"`
		AllowIdempotent bool    `json:"allow_idempotent"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	actor, err := body.actor()
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	inv, err := h.svc.Workflows.Reject(r.Context(), &service.RejectRequest{
		InvoiceID:       mux.Vars(r)["id"],
		Actor:           actor,
		Reason:          body.Reason,
		Detail:          body.Detail,
		AllowIdempotent: body.AllowIdempotent,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, invoiceToResponse(inv))
}

// ReturnInvoice handles POST /api/v1/invoices/{id}/return
func (h *HTTPHandler) ReturnInvoice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		actorBody
		Detail *string `json:"detail,omitempty"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	actor, err := body.actor()
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	inv, err := h.svc.Workflows.ReturnToProvider(r.Context(), &service.ReturnRequest{
		InvoiceID: mux.Vars(r)["id"],
		Actor:     actor,
		Detail:    body.Detail,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, invoiceToResponse(inv))
}

// RecordPayment handles POST /api/v1/invoices/{id}/payments
func (h *HTTPHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount      string     `json:"amount"`
		Reference   string     `json:"reference"`
		Method      *string    `json:"method,omitempty"`
		ProcessedBy string     `json:"processed_by"`
		PaidAt      *time.Time `json:"paid_at,omitempty"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	out, err := h.svc.Payments.RecordPayment(r.Context(), &service.RecordPaymentRequest{
		InvoiceID:   mux.Vars(r)["id"],
		Amount:      body.Amount,
		Reference:   body.Reference,
		Method:      body.Method,
		ProcessedBy: body.ProcessedBy,
		PaidAt:      body.PaidAt,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, invoiceWithPaymentsToResponse(out))
}

// RunAutomation handles POST /api/v1/automation/run?limit=N
func (h *HTTPHandler) RunAutomation(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	res, err := h.svc.Automation.RunAutomationBatch(r.Context(), limit)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, batchToResponse(res))
}

// ProcessInvoice handles POST /api/v1/invoices/{id}/automation?force=true
func (h *HTTPHandler) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	process := h.svc.Automation.ProcessInvoice
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); force {
		process = h.svc.Automation.ReevaluateInvoice
	}
	item, err := process(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, itemToResponse(*item))
}

// Assign handles POST /api/v1/assignments
func (h *HTTPHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderTaxID     string   `json:"provider_tax_id"`
		ResponsibleID     string   `json:"responsible_id"`
		ResponsibleName   string   `json:"responsible_name"`
		ResponsibleEmail  string   `json:"responsible_email"`
		AllowAutoApproval bool     `json:"allow_auto_approval"`
		ServiceType       string   `json:"service_type"`
		TrustLevel        *float64 `json:"trust_level"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	a, err := h.svc.Assignments.Assign(r.Context(), &service.AssignRequest{
		ProviderTaxID:     body.ProviderTaxID,
		ResponsibleID:     body.ResponsibleID,
		ResponsibleName:   body.ResponsibleName,
		ResponsibleEmail:  body.ResponsibleEmail,
		AllowAutoApproval: body.AllowAutoApproval,
		ServiceType:       repository.ServiceType(body.ServiceType),
		TrustLevel:        body.TrustLevel,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, assignmentToResponse(a))
}

// Unassign handles DELETE /api/v1/providers/{taxID}/assignments/{responsibleID}
func (h *HTTPHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.Assignments.Unassign(r.Context(), vars["taxID"], vars["responsibleID"]); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPolicy handles GET /api/v1/providers/{taxID}/policy
func (h *HTTPHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.svc.Assignments.PolicyFor(r.Context(), mux.Vars(r)["taxID"])
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, policyToResponse(policy))
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondWithError(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    errors.ErrorCode       `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeInvalidTransition, errors.ErrCodeReconciliation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	resp := ErrorResponse{Code: code, Message: err.Error()}

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Field = appErr.Field
		resp.Details = appErr.Details
	}

	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("request_id", RequestIDFrom(r.Context())).Msg("Request failed")
		resp.Message = "internal error"
		resp.Details = nil
	}
	respondWithJSON(w, status, resp)
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
