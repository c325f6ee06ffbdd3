package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/internal/platform/webhook"
	"github.com/odonto/payments/pkg/money"
)

// Processor forwards a payment attempt to the bank and returns the
// processor's receipt reference.
type Processor interface {
	Submit(ctx context.Context, req ProcessorRequest) (string, error)
}

// ProcessorRequest is what the bank receives. It is the only place card data
// travels.
type ProcessorRequest struct {
	PaymentID  int64        `json:"payment_id"`
	InvoiceID  int64        `json:"invoice_id"`
	Amount     money.Amount `json:"amount"`
	CardNumber string       `json:"card_number"`
	PIN        string       `json:"pin"`
}

// SandboxProcessor accepts every attempt without contacting a bank.
type SandboxProcessor struct{}

func (SandboxProcessor) Submit(_ context.Context, _ ProcessorRequest) (string, error) {
	return "SBX-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")), nil
}

// HTTPProcessor posts attempts to the bank gateway through a signed webhook
// dispatcher. The gateway answers with {"reference": "..."}, or 402 when it
// declines the card.
type HTTPProcessor struct {
	url        string
	dispatcher *webhook.Dispatcher
}

func NewHTTPProcessor(url string, d *webhook.Dispatcher) *HTTPProcessor {
	return &HTTPProcessor{url: url, dispatcher: d}
}

func (p *HTTPProcessor) Submit(ctx context.Context, req ProcessorRequest) (string, error) {
	del, err := p.dispatcher.Post(ctx, p.url, "payment.submit", req)
	if webhook.IsStatus(err, http.StatusPaymentRequired) {
		return "", apperr.Validation("card declined by the processor for payment %d", req.PaymentID)
	}
	if err != nil {
		return "", err
	}
	var receipt struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(del.Body, &receipt); err != nil {
		return "", fmt.Errorf("decode processor receipt: %w", err)
	}
	if receipt.Reference == "" {
		return "", fmt.Errorf("processor receipt for payment %d has no reference", req.PaymentID)
	}
	return receipt.Reference, nil
}
