package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/client"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/decision"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/pattern"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

const providerTaxID = "900123456"

type recordingNotifier struct {
	mu   sync.Mutex
	sent []client.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n client.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.TemplateKey)
	}
	return out
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

type testEnv struct {
	store       *repository.MemoryStore
	notifier    *recordingNotifier
	invoices    *InvoiceService
	payments    *PaymentService
	workflows   *WorkflowService
	assignments *AssignmentService
	automation  *AutomationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Nop()
	store := repository.NewMemoryStore()
	notifier := &recordingNotifier{}

	return &testEnv{
		store:       store,
		notifier:    notifier,
		invoices:    NewInvoiceService(store, log),
		payments:    NewPaymentService(store, notifier, log),
		workflows:   NewWorkflowService(store, notifier, log),
		assignments: NewAssignmentService(store, log),
		automation: NewAutomationService(
			store,
			pattern.NewDetector(pattern.DefaultOptions()),
			decision.NewEngine(decision.DefaultConfig(), log),
			notifier,
			AutomationConfig{BatchSize: 10, Workers: 4},
			log,
		),
	}
}

func (e *testEnv) assign(t *testing.T, taxID string, allowAuto bool) *repository.ProviderAssignment {
	t.Helper()
	trust := 1.0
	a, err := e.assignments.Assign(context.Background(), &AssignRequest{
		ProviderTaxID:     taxID,
		ResponsibleID:     "u-ana",
		ResponsibleName:   "Ana Gomez",
		ResponsibleEmail:  "ana@example.com",
		AllowAutoApproval: allowAuto,
		TrustLevel:        &trust,
	})
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	return a
}

func (e *testEnv) submit(t *testing.T, taxID, cufe, number, issueDate, subtotal string) *SubmitResult {
	t.Helper()
	res, err := e.invoices.SubmitInvoice(context.Background(), &SubmitInvoiceRequest{
		CUFE:          cufe,
		InvoiceNumber: number,
		IssueDate:     issueDate,
		ProviderTaxID: taxID,
		ProviderName:  "Inmobiliaria Central",
		Concept:       "Arriendo oficina principal",
		Subtotal:      subtotal,
		Tax:           "0",
	})
	if err != nil {
		t.Fatalf("SubmitInvoice(%s) error = %v", cufe, err)
	}
	return res
}

func (e *testEnv) approve(t *testing.T, id string) {
	t.Helper()
	_, err := e.workflows.Approve(context.Background(), &ApproveRequest{InvoiceID: id, Actor: human("Carlos Ruiz")})
	if err != nil {
		t.Fatalf("Approve(%s) error = %v", id, err)
	}
}

func (e *testEnv) workflowOf(t *testing.T, invoiceID string) *repository.WorkflowApproval {
	t.Helper()
	var wf *repository.WorkflowApproval
	err := e.store.InTransaction(context.Background(), func(tx repository.Tx) error {
		var err error
		wf, err = tx.FindWorkflow(context.Background(), invoiceID)
		return err
	})
	if err != nil {
		t.Fatalf("FindWorkflow() error = %v", err)
	}
	return wf
}

func (e *testEnv) invoice(t *testing.T, id string) *repository.Invoice {
	t.Helper()
	got, err := e.invoices.GetInvoice(context.Background(), id)
	if err != nil {
		t.Fatalf("GetInvoice(%s) error = %v", id, err)
	}
	return got.Invoice
}

func human(name string) workflow.Actor {
	return workflow.Actor{ID: "u-" + name, DisplayName: name}
}

func assertCode(t *testing.T, err error, want errors.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := errors.CodeOf(err); got != want {
		t.Fatalf("error code = %s, want %s (err: %v)", got, want, err)
	}
}

var errUnavailable = stderrors.New("smtp unavailable")
