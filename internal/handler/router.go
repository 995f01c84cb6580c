package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires every HTTP route. db may be nil when running on the memory store.
func NewRouter(h *HTTPHandler, db Pinger, log *logger.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestID, Logging(log), Recovery(log))

	router.HandleFunc("/health", healthCheck(db)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/invoices", h.SubmitInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}", h.GetInvoice).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}/history", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}/approve", h.ApproveInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}/reject", h.RejectInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}/return", h.ReturnInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}/payments", h.RecordPayment).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}/automation", h.ProcessInvoice).Methods(http.MethodPost)

	api.HandleFunc("/automation/run", h.RunAutomation).Methods(http.MethodPost)

	api.HandleFunc("/assignments", h.Assign).Methods(http.MethodPost)
	api.HandleFunc("/providers/{taxID}/assignments/{responsibleID}", h.Unassign).Methods(http.MethodDelete)
	api.HandleFunc("/providers/{taxID}/policy", h.GetPolicy).Methods(http.MethodGet)

	return router
}

func healthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
