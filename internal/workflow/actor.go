package workflow

import (
	"strings"
	"unicode"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
)

// ActedByAutomation is stored in the acted-by field of automatically approved invoices.
const ActedByAutomation = "AUTOMATIC"

// Actor is whoever performs a transition. DisplayName is what gets persisted.
type Actor struct {
	ID          string
	DisplayName string
}

// AutomationActor is the system actor used for automatic decisions.
var AutomationActor = Actor{ID: "system:automation", DisplayName: "Sistema de automatizacion"}

// NewActor validates and builds an actor. The display name must be a
// human-readable name, never a bare numeric identifier.
func NewActor(id, displayName string) (Actor, error) {
	a := Actor{ID: strings.TrimSpace(id), DisplayName: strings.TrimSpace(displayName)}
	if err := a.Validate(); err != nil {
		return Actor{}, err
	}
	return a, nil
}

// Validate checks the display name invariant.
func (a Actor) Validate() error {
	if a.DisplayName == "" {
		return errors.InvalidInput("actor", "actor display name is required")
	}
	if isNumeric(a.DisplayName) {
		return errors.InvalidInput("actor", "actor display name must be a name, not a numeric identifier")
	}
	return nil
}

// IsAutomation reports whether a is the automation system.
func (a Actor) IsAutomation() bool {
	return a.ID == AutomationActor.ID
}

func isNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r) || r == '-' || r == '.':
		default:
			return false
		}
	}
	return digits > 0
}
