package client

// Notification templates
const (
	TemplateAutoApproved = "invoice_auto_approved"
	TemplateApproved     = "invoice_approved"
	TemplateRejected     = "invoice_rejected"
	TemplateReturned     = "invoice_returned"
	TemplatePaid         = "invoice_paid"
	TemplateNeedsReview  = "invoice_needs_review"
)

// Notification is a request to render TemplateKey with Context for Recipient.
type Notification struct {
	Recipient   string
	TemplateKey string
	Context     map[string]interface{}
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}
