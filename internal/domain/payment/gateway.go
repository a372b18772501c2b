package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// MetadataAppointmentID is the checkout session metadata key linking a
// session to its appointment.
const MetadataAppointmentID = "appointmentId"

// EventCheckoutCompleted is sent once a checkout session is paid.
const EventCheckoutCompleted = "checkout.session.completed"

// CheckoutRequest describes a one-item card checkout.
type CheckoutRequest struct {
	AppointmentID string
	ProductName   string
	Currency      string
	UnitAmount    int64
	SuccessURL    string
	CancelURL     string
}

// Session is the part of a checkout session the portal needs.
type Session struct {
	ID              string
	AppointmentID   string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     int64
}

// IsPaid reports whether the customer completed payment.
func (s *Session) IsPaid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

type Refund struct {
	ID     string
	Amount int64
}

// WebhookEvent is a verified gateway event. Session is set for checkout
// session events.
type WebhookEvent struct {
	ID      string
	Type    string
	Session *Session
}

// Gateway is the payment provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	Refund(ctx context.Context, paymentIntentID string) (*Refund, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type stripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway returns a Gateway backed by the Stripe API.
func NewStripeGateway(secretKey, webhookSecret string) Gateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &stripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ProductName),
				},
				UnitAmount: stripe.Int64(req.UnitAmount),
			},
			Quantity: stripe.Int64(1),
		}},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(MetadataAppointmentID, req.AppointmentID)

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError("create checkout session", err)
	}
	return toSession(s), nil
}

func (g *stripeGateway) GetSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, stripeError("retrieve checkout session", err)
	}
	return toSession(s), nil
}

func (g *stripeGateway) Refund(ctx context.Context, paymentIntentID string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, stripeError("create refund", err)
	}
	return &Refund{ID: r.ID, Amount: r.Amount}, nil
}

func (g *stripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, errors.New("webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil && len(event.Data.Raw) > 0 && event.Data.Object["object"] == "checkout.session" {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Session = toSession(&s)
	}
	return out, nil
}

func toSession(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:            s.ID,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
	}
	if s.Metadata != nil {
		out.AppointmentID = s.Metadata[MetadataAppointmentID]
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}

// stripeError keeps the provider's message readable.
func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return fmt.Errorf("%s: %s", op, se.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
