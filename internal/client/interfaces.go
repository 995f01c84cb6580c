package client

import "context"

// Notifier delivers one templated notification to one recipient. Implementations
// report failure through the returned error and never panic.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
