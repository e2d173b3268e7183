// Package payments places a manual-capture hold for a trip's estimated fare
// and settles it when the trip ends.
package payments

import (
	"context"
	"errors"
	"math"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

var ErrDisabled = errors.New("payments disabled")

// FareHolder is what booking and trip completion need from a payment
// provider.
type FareHolder interface {
	Hold(ctx context.Context, fare float64, reference string) (string, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
}

// StripeClient wraps PaymentIntents with capture_method=manual.
type StripeClient struct {
	currency string
}

func NewStripeClient(apiKey, currency string) *StripeClient {
	stripe.Key = apiKey
	if currency == "" {
		currency = string(stripe.CurrencyINR)
	}
	return &StripeClient{currency: currency}
}

// MinorUnits converts a whole-unit fare to the smallest currency unit.
func MinorUnits(fare float64) int64 {
	return int64(math.Round(fare * 100))
}

// Hold authorizes the fare without capturing it. reference is the trip id
// and doubles as the idempotency key.
func (s *StripeClient) Hold(ctx context.Context, fare float64, reference string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(MinorUnits(fare)),
		Currency:      stripe.String(s.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if reference != "" {
		params.AddMetadata("trip_id", reference)
		params.SetIdempotencyKey("hold-" + reference)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(intentID, params)
	return err
}

func (s *StripeClient) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(intentID, params)
	return err
}

// Noop is used when no payment provider is configured.
type Noop struct{}

func (Noop) Hold(context.Context, float64, string) (string, error) { return "", ErrDisabled }
func (Noop) Capture(context.Context, string) error                 { return nil }
func (Noop) Cancel(context.Context, string) error                  { return nil }
