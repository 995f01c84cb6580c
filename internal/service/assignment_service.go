package service

import (
	"context"
	"sort"
	"strings"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/decision"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

// AssignmentService maps provider tax IDs to the parties responsible for
// their invoices and to the provider's automation policy.
type AssignmentService struct {
	store repository.Store
	log   *logger.Logger
	now   Clock
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(store repository.Store, log *logger.Logger) *AssignmentService {
	return &AssignmentService{
		store: store,
		log:   log.WithComponent("assignment_service"),
		now:   systemClock,
	}
}

// AssignRequest represents an assign request
type AssignRequest struct {
	ProviderTaxID     string
	ResponsibleID     string
	ResponsibleName   string
	ResponsibleEmail  string
	AllowAutoApproval bool
	ServiceType       repository.ServiceType
	// TrustLevel is optional. New assignments default to DefaultTrustLevel;
	// an existing assignment keeps its current level.
	TrustLevel *float64
}

// DefaultTrustLevel is the trust given to assignments created without one.
const DefaultTrustLevel = 0.5

func (r *AssignRequest) validate() error {
	r.ProviderTaxID = strings.TrimSpace(r.ProviderTaxID)
	r.ResponsibleID = strings.TrimSpace(r.ResponsibleID)
	if r.ProviderTaxID == "" {
		return errors.InvalidInput("provider_tax_id", "provider tax id is required")
	}
	if r.ResponsibleID == "" {
		return errors.InvalidInput("responsible_id", "responsible id is required")
	}
	actor, err := workflow.NewActor(r.ResponsibleID, r.ResponsibleName)
	if err != nil {
		return errors.InvalidInput("responsible_name", "responsible name must be a display name")
	}
	r.ResponsibleName = actor.DisplayName
	if r.ServiceType == "" {
		r.ServiceType = repository.ServiceRecurring
	}
	if !r.ServiceType.IsValid() {
		return errors.InvalidInput("service_type", "service type must be 'recurring' or 'variable'")
	}
	if r.TrustLevel != nil && (*r.TrustLevel < 0 || *r.TrustLevel > 1) {
		return errors.InvalidInput("trust_level", "trust level must be between 0 and 1")
	}
	return nil
}

// Assign links a responsible party to a provider. An existing pair is updated
// and reactivated in place; otherwise a new assignment is created.
func (s *AssignmentService) Assign(ctx context.Context, req *AssignRequest) (*repository.ProviderAssignment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result *repository.ProviderAssignment
	reactivated := false

	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		existing, err := tx.FindAssignment(ctx, req.ProviderTaxID, req.ResponsibleID)
		if err != nil {
			return err
		}

		if existing != nil {
			reactivated = !existing.Active
			existing.ResponsibleName = req.ResponsibleName
			existing.ResponsibleEmail = req.ResponsibleEmail
			existing.AllowAutoApproval = req.AllowAutoApproval
			existing.ServiceType = req.ServiceType
			if req.TrustLevel != nil {
				existing.TrustLevel = *req.TrustLevel
			}
			existing.Active = true
			existing.DeactivatedAt = nil
			if err := tx.UpdateAssignment(ctx, existing); err != nil {
				return err
			}
			result = existing
			return nil
		}

		trust := DefaultTrustLevel
		if req.TrustLevel != nil {
			trust = *req.TrustLevel
		}
		a := &repository.ProviderAssignment{
			ID:                newID(),
			ProviderTaxID:     req.ProviderTaxID,
			ResponsibleID:     req.ResponsibleID,
			ResponsibleName:   req.ResponsibleName,
			ResponsibleEmail:  req.ResponsibleEmail,
			AllowAutoApproval: req.AllowAutoApproval,
			ServiceType:       req.ServiceType,
			TrustLevel:        trust,
			Active:            true,
		}
		if err := tx.CreateAssignment(ctx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("assignment_id", result.ID).
		Str("provider_tax_id", result.ProviderTaxID).
		Str("responsible_id", result.ResponsibleID).
		Bool("allow_auto_approval", result.AllowAutoApproval).
		Bool("reactivated", reactivated).
		Msg("Provider assigned")

	return result, nil
}

// Unassign deactivates a provider assignment. Unassigning an inactive pair is a no-op.
func (s *AssignmentService) Unassign(ctx context.Context, providerTaxID, responsibleID string) error {
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		existing, err := tx.FindAssignment(ctx, providerTaxID, responsibleID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.NotFound("provider_assignment", providerTaxID+"/"+responsibleID)
		}
		if !existing.Active {
			return nil
		}
		now := s.now()
		existing.Active = false
		existing.DeactivatedAt = &now
		return tx.UpdateAssignment(ctx, existing)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("provider_tax_id", providerTaxID).
		Str("responsible_id", responsibleID).
		Msg("Provider unassigned")
	return nil
}

// ResolveResponsibles returns the active responsible parties of a provider, oldest first.
func (s *AssignmentService) ResolveResponsibles(ctx context.Context, providerTaxID string) ([]*repository.ProviderAssignment, error) {
	var out []*repository.ProviderAssignment
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		out, err = resolveResponsibles(ctx, tx, providerTaxID)
		return err
	})
	return out, err
}

// PolicyFor returns the effective automation policy of a provider.
func (s *AssignmentService) PolicyFor(ctx context.Context, providerTaxID string) (decision.Policy, error) {
	var policy decision.Policy
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		policy, err = resolvePolicy(ctx, tx, providerTaxID)
		return err
	})
	return policy, err
}

func resolveResponsibles(ctx context.Context, tx repository.Tx, providerTaxID string) ([]*repository.ProviderAssignment, error) {
	rows, err := tx.ListActiveAssignments(ctx, providerTaxID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	return rows, nil
}

func resolvePolicy(ctx context.Context, tx repository.Tx, providerTaxID string) (decision.Policy, error) {
	rows, err := resolveResponsibles(ctx, tx, providerTaxID)
	if err != nil {
		return decision.Policy{}, err
	}
	return AggregatePolicy(providerTaxID, rows), nil
}

// AggregatePolicy combines the active assignments of a provider into one
// policy. The result is the most restrictive combination: automatic approval
// only when every row allows it, the lowest trust level, and the service type
// of the earliest row. rows must be ordered oldest first.
func AggregatePolicy(providerTaxID string, rows []*repository.ProviderAssignment) decision.Policy {
	policy := decision.Policy{
		ProviderTaxID: providerTaxID,
		ServiceType:   repository.ServiceRecurring,
		Responsibles:  rows,
	}
	if len(rows) == 0 {
		return policy
	}

	policy.AllowAutoApproval = true
	policy.TrustLevel = 1
	for i, r := range rows {
		if i == 0 && r.ServiceType.IsValid() {
			policy.ServiceType = r.ServiceType
		}
		if !r.AllowAutoApproval {
			policy.AllowAutoApproval = false
		}
		if r.TrustLevel < policy.TrustLevel {
			policy.TrustLevel = r.TrustLevel
		}
	}
	return policy
}
