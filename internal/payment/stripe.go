package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeProvider реализует Provider поверх Stripe Checkout.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider создаёт провайдера с собственным клиентом Stripe.
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
	}
}

// CreateSession создаёт сессию Stripe Checkout в режиме разовой оплаты.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-order-" + strconv.FormatInt(req.Metadata.OrderID, 10))

	for _, li := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(li.Currency)),
				UnitAmount: stripe.Int64(MinorUnits(li.UnitAmount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
			},
			Quantity: stripe.Int64(li.Quantity),
		})
	}

	for k, v := range req.Metadata.Encode() {
		params.AddMetadata(k, v)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &Session{ID: s.ID, URL: s.URL}, nil
}

// VerifyAndParseEvent проверяет подпись уведомления Stripe и извлекает данные сессии.
func (p *StripeProvider) VerifyAndParseEvent(payload []byte, signature string) (*Event, error) {
	if p.webhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{
		ID:   ev.ID,
		Type: string(ev.Type),
	}

	if ev.Type != stripe.EventTypeCheckoutSessionCompleted {
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}

	out.SessionID = s.ID
	out.Metadata = s.Metadata
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}

	return out, nil
}
