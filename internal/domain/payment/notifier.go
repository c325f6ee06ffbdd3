package payment

import (
	"context"
	"strings"

	"github.com/odonto/payments/internal/platform/webhook"
)

// Notifier tells the patient about a finalized payment. Delivery is best
// effort; errors are logged by the caller and never undo the update.
type Notifier interface {
	Notify(ctx context.Context, p *Payment) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, p *Payment) error

func (f NotifierFunc) Notify(ctx context.Context, p *Payment) error { return f(ctx, p) }

// HTTPNotifier posts the payment snapshot to the notification endpoint.
type HTTPNotifier struct {
	url        string
	dispatcher *webhook.Dispatcher
}

func NewHTTPNotifier(url string, d *webhook.Dispatcher) *HTTPNotifier {
	return &HTTPNotifier{url: url, dispatcher: d}
}

func (n *HTTPNotifier) Notify(ctx context.Context, p *Payment) error {
	_, err := n.dispatcher.Post(ctx, n.url, "payment."+strings.ToLower(string(p.Status)), p)
	return err
}
