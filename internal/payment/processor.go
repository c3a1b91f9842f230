package payment

import (
	"context"
	"fmt"
	"os"

	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Stripe charges in the smallest currency unit.
var centsPerUnit = decimal.NewFromInt(100)

// InitStripe initializes the Stripe API with the secret key
func InitStripe() {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
}

// ResultPublisher reports the outcome of a settlement attempt.
type ResultPublisher interface {
	PublishSettlementResult(result models.SettlementResult) error
}

// Processor collects payment for won auctions. It consumes settlement
// intents and publishes a settlement result for each one, so the
// auction moves to settled only after Stripe has accepted the charge.
type Processor struct {
	publisher ResultPublisher
	logger    *logger.Logger
	currency  string
	mock      bool
}

func NewProcessor(publisher ResultPublisher, log *logger.Logger, mock bool) *Processor {
	currency := os.Getenv("PAYMENT_CURRENCY")
	if currency == "" {
		currency = "usd"
	}
	return &Processor{
		publisher: publisher,
		logger:    log,
		currency:  currency,
		mock:      mock,
	}
}

// HandleIntent charges the winner for a single settlement intent and
// publishes the result. Intents are retried by the sender, so a repeat
// delivery creates a new payment intent keyed by the same intent ID and
// Stripe deduplicates on our side via metadata.
func (p *Processor) HandleIntent(ctx context.Context, intent models.SettlementIntent) {
	p.logger.Info("PAYMENT", fmt.Sprintf("Processing settlement intent %s for auction %s (attempt %d)",
		intent.IntentID, intent.AuctionID, intent.Attempt))

	reference, err := p.charge(intent)

	result := models.SettlementResult{
		AuctionID: intent.AuctionID,
		IntentID:  intent.IntentID,
		Success:   err == nil,
		Reference: reference,
	}
	if err != nil {
		result.Error = err.Error()
		p.logger.Error("PAYMENT", fmt.Sprintf("Settlement for auction %s failed: %v", intent.AuctionID, err))
	} else {
		p.logger.Info("PAYMENT", fmt.Sprintf("Settlement for auction %s succeeded, reference %s", intent.AuctionID, reference))
	}

	if pubErr := p.publisher.PublishSettlementResult(result); pubErr != nil {
		// The reconciler re-sends the intent, so a lost result is retried.
		p.logger.Error("PAYMENT", fmt.Sprintf("Failed to publish settlement result for auction %s: %v", intent.AuctionID, pubErr))
	}
}

func (p *Processor) charge(intent models.SettlementIntent) (string, error) {
	if p.mock {
		return "mock_" + intent.IntentID, nil
	}

	amountInCents := intent.Order.Amount.Mul(centsPerUnit).IntPart()
	if amountInCents <= 0 {
		return "", fmt.Errorf("invalid settlement amount: %s", intent.Order.Amount.String())
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountInCents),
		Currency: stripe.String(p.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("settlement_intent_id", intent.IntentID)
	params.AddMetadata("auction_id", intent.AuctionID)
	params.AddMetadata("winner_id", intent.Order.BuyerID)
	params.AddMetadata("kind", intent.Order.Kind)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}
	return pi.ID, nil
}
