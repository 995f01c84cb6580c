package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/client"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/decision"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/pattern"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/service"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	log := logger.Nop()
	store := repository.NewMemoryStore()
	notifier := client.NewLogNotifier(log.Logger)

	automation := service.NewAutomationService(
		store,
		pattern.NewDetector(pattern.DefaultOptions()),
		decision.NewEngine(decision.DefaultConfig(), log),
		notifier,
		service.AutomationConfig{BatchSize: 10, Workers: 2},
		log,
	)
	invoices := service.NewInvoiceService(store, log)
	invoices.SetProcessor(automation, false)

	h := NewHTTPHandler(Services{
		Invoices:    invoices,
		Workflows:   service.NewWorkflowService(store, notifier, log),
		Payments:    service.NewPaymentService(store, notifier, log),
		Assignments: service.NewAssignmentService(store, log),
		Automation:  automation,
	}, log)
	return NewRouter(h, nil, log)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func invoiceBody(cufe, number string) map[string]interface{} {
	return map[string]interface{}{
		"cufe":            cufe,
		"invoice_number":  number,
		"issue_date":      "2024-05-10",
		"provider_tax_id": "900123456",
		"provider_name":   "Inmobiliaria Central",
		"concept":         "Arriendo oficina",
		"subtotal":        "1000",
		"tax":             "190",
	}
}

func TestSubmitInvoiceEndpoint(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantAction string
	}{
		{"create", invoiceBody("C1", "INV-100"), http.StatusCreated, "created"},
		{"resubmit", invoiceBody("C1", "INV-100"), http.StatusOK, "ignored"},
		{"conflicting cufe", invoiceBody("C2", "INV-100"), http.StatusConflict, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/v1/invoices", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var resp submitResponse
			decodeBody(t, rec, &resp)
			if resp.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", resp.Action, tt.wantAction)
			}
		})
	}
}

func TestSubmitInvoiceEndpointValidation(t *testing.T) {
	router := newTestRouter(t)
	body := invoiceBody("C1", "INV-1")
	body["subtotal"] = "mil"

	rec := do(t, router, http.MethodPost, "/api/v1/invoices", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Code != errors.ErrCodeValidation || resp.Field != "subtotal" {
		t.Errorf("error = %+v", resp)
	}
}

func TestInvoiceLifecycleEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/v1/invoices", invoiceBody("C1", "INV-1"))
	var created submitResponse
	decodeBody(t, rec, &created)
	base := "/api/v1/invoices/" + created.ID

	rec = do(t, router, http.MethodPost, base+"/payments", map[string]string{"amount": "100", "reference": "R1"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("payment before approval status = %d, want 422", rec.Code)
	}

	rec = do(t, router, http.MethodPost, base+"/approve", map[string]string{"actor_id": "u-1", "actor_name": "1023456"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("numeric actor status = %d, want 400", rec.Code)
	}

	rec = do(t, router, http.MethodPost, base+"/approve", map[string]string{"actor_id": "u-1", "actor_name": "Carlos Ruiz"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var approved invoiceResponse
	decodeBody(t, rec, &approved)
	if approved.Status != "aprobada" {
		t.Errorf("status = %q, want aprobada", approved.Status)
	}

	rec = do(t, router, http.MethodPost, base+"/payments", map[string]string{"amount": "1190", "reference": "R1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("payment status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var paid invoiceWithPaymentsResponse
	decodeBody(t, rec, &paid)
	if !paid.Settled || paid.Outstanding != "0.00" || paid.Invoice.Status != "pagada" {
		t.Errorf("payment response = settled %v outstanding %s status %s", paid.Settled, paid.Outstanding, paid.Invoice.Status)
	}

	rec = do(t, router, http.MethodGet, base+"/history", nil)
	var history struct {
		Entries []auditResponse `json:"entries"`
	}
	decodeBody(t, rec, &history)
	if len(history.Entries) != 3 {
		t.Errorf("history entries = %d, want create, approved, paid", len(history.Entries))
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/api/v1/invoices/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response carries no request id")
	}
}

func TestAutomationAndPolicyEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/v1/assignments", map[string]interface{}{
		"provider_tax_id":     "900123456",
		"responsible_id":      "u-ana",
		"responsible_name":    "Ana Gomez",
		"allow_auto_approval": true,
		"trust_level":         0.9,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/providers/900123456/policy", nil)
	var policy policyResponse
	decodeBody(t, rec, &policy)
	if !policy.AllowAutoApproval || policy.ServiceType != "recurring" || len(policy.Responsibles) != 1 {
		t.Errorf("policy = %+v", policy)
	}

	do(t, router, http.MethodPost, "/api/v1/invoices", invoiceBody("C1", "INV-1"))
	rec = do(t, router, http.MethodPost, "/api/v1/automation/run?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}
	var batch batchResponse
	decodeBody(t, rec, &batch)
	if batch.Processed != 1 || batch.SentToReview != 1 {
		t.Fatalf("batch = %+v, want one invoice sent to review", batch)
	}

	path := "/api/v1/invoices/" + batch.Items[0].InvoiceID + "/automation"
	var item automationResult
	decodeBody(t, do(t, router, http.MethodPost, path, nil), &item)
	if !item.Skipped {
		t.Errorf("item = %+v, want an evaluated invoice to be skipped", item)
	}
	var forced automationResult
	decodeBody(t, do(t, router, http.MethodPost, path+"?force=true", nil), &forced)
	if forced.Skipped || forced.Decision != string(decision.NeedsReview) {
		t.Errorf("forced item = %+v, want a fresh needs_review decision", forced)
	}

	rec = do(t, router, http.MethodDelete, "/api/v1/providers/900123456/assignments/u-ana", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("unassign status = %d, want 204", rec.Code)
	}
	rec = do(t, router, http.MethodDelete, "/api/v1/providers/900123456/assignments/u-nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown unassign status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	rec := do(t, newTestRouter(t), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGRPCStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{errors.InvalidInput("amount", "bad"), codes.InvalidArgument},
		{errors.NotFound("invoice", "1"), codes.NotFound},
		{errors.Conflict("dup"), codes.AlreadyExists},
		{errors.InvalidTransition("pagada", "approve"), codes.FailedPrecondition},
		{errors.Reconciliation("over"), codes.FailedPrecondition},
		{errors.New(errors.ErrCodeInternal, "boom"), codes.Internal},
	}

	for _, tt := range tests {
		if got := status.Code(GRPCStatus(tt.err)); got != tt.want {
			t.Errorf("GRPCStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if GRPCStatus(nil) != nil {
		t.Error("GRPCStatus(nil) != nil")
	}
}
