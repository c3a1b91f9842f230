package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"

	"github.com/google/uuid"
)

type Store interface {
	MarkSettled(ctx context.Context, auctionID string) error
	ListClosedUnsettled(ctx context.Context) ([]models.Auction, error)
}

type Publisher interface {
	PublishAuctionClosed(event models.AuctionClosedEvent) error
	PublishSettlementIntent(intent models.SettlementIntent) error
}

// Outcome determines how a closed auction resolved. Pure function of the
// aggregate: no bids means unsold, a reserve the bidding never reached
// means unsold, anything else is a win at the current highest bid. A
// buy-it-now sale counts as won even when the seller set the reserve
// above the buy-it-now price.
func Outcome(auction *models.Auction) models.AuctionOutcome {
	if !auction.HasBids() {
		return models.AuctionOutcome{
			Kind:   models.OutcomeUnsold,
			Reason: models.UnsoldNoBids,
		}
	}
	boughtOut := auction.BuyItNowPrice.Valid &&
		auction.CurrentHighestBid.GreaterThanOrEqual(auction.BuyItNowPrice.Decimal)
	if !auction.ReserveMet() && !boughtOut {
		return models.AuctionOutcome{
			Kind:   models.OutcomeUnsold,
			Amount: auction.CurrentHighestBid,
			Reason: models.UnsoldReserveNotMet,
		}
	}
	return models.AuctionOutcome{
		Kind:     models.OutcomeWon,
		WinnerID: auction.CurrentHighestBidderID,
		Amount:   auction.CurrentHighestBid,
	}
}

// Trigger turns closed auctions into settlement intents for the order
// collaborator. Unsold auctions have nothing to hand off and are marked
// settled as soon as their closed event is out. Won auctions stay closed
// until the collaborator acknowledges; the reconciler re-sends for as
// long as that takes.
type Trigger struct {
	store     Store
	publisher Publisher
	logger    *logger.Logger

	mu       sync.Mutex
	attempts map[string]int
}

func NewTrigger(store Store, publisher Publisher, log *logger.Logger) *Trigger {
	return &Trigger{
		store:     store,
		publisher: publisher,
		logger:    log,
		attempts:  make(map[string]int),
	}
}

// Settle resolves one closed auction. Safe to call repeatedly for the
// same auction; every path is idempotent from the consumer's side.
func (t *Trigger) Settle(ctx context.Context, auction *models.Auction, buyNow bool) error {
	outcome := Outcome(auction)

	t.logger.LogSettlement("RESOLVE", auction.ID, fmt.Sprintf("kind=%s winner=%s amount=%s", outcome.Kind, outcome.WinnerID, outcome.Amount.String()))

	if err := t.publisher.PublishAuctionClosed(models.AuctionClosedEvent{
		AuctionID: auction.ID,
		Outcome:   outcome,
		Timestamp: time.Now(),
	}); err != nil {
		return fmt.Errorf("publish closed event for auction %s: %w", auction.ID, err)
	}

	if !outcome.Won() {
		// Nothing owed to the order collaborator.
		if err := t.store.MarkSettled(ctx, auction.ID); err != nil {
			return fmt.Errorf("mark unsold auction %s settled: %w", auction.ID, err)
		}
		return nil
	}

	kind := models.OrderIntentAuctionWon
	if buyNow {
		kind = models.OrderIntentBuyItNow
	}

	t.mu.Lock()
	t.attempts[auction.ID]++
	attempt := t.attempts[auction.ID]
	t.mu.Unlock()

	intent := models.SettlementIntent{
		IntentID:  uuid.NewString(),
		AuctionID: auction.ID,
		Order: models.OrderIntent{
			AuctionID: auction.ID,
			ProductID: auction.ProductID,
			SellerID:  auction.SellerID,
			BuyerID:   outcome.WinnerID,
			Amount:    outcome.Amount,
			Kind:      kind,
			CreatedAt: time.Now(),
		},
		Attempt:   attempt,
		Timestamp: time.Now(),
	}

	if err := t.publisher.PublishSettlementIntent(intent); err != nil {
		return fmt.Errorf("publish settlement intent for auction %s: %w", auction.ID, err)
	}

	t.logger.LogSettlement("INTENT", auction.ID, fmt.Sprintf("attempt=%d buyer=%s amount=%s", attempt, outcome.WinnerID, outcome.Amount.String()))
	return nil
}

// HandleResult applies the order collaborator's acknowledgement. Success
// moves the auction to settled; failure leaves it closed so the
// reconciler picks it up again. The winner is never lost either way.
func (t *Trigger) HandleResult(ctx context.Context, result models.SettlementResult) {
	if !result.Success {
		t.logger.Warn("SETTLEMENT", fmt.Sprintf("collaborator rejected settlement for auction %s: %s", result.AuctionID, result.Error))
		return
	}
	if err := t.store.MarkSettled(ctx, result.AuctionID); err != nil {
		t.logger.Error("SETTLEMENT", fmt.Sprintf("failed to mark auction %s settled: %v", result.AuctionID, err))
		return
	}
	t.mu.Lock()
	delete(t.attempts, result.AuctionID)
	t.mu.Unlock()
	t.logger.LogSettlement("SETTLED", result.AuctionID, fmt.Sprintf("reference=%s", result.Reference))
}

// Reconcile re-settles every auction stuck in closed. Called on a timer;
// duplicate intents are expected and carry increasing attempt numbers.
func (t *Trigger) Reconcile(ctx context.Context) error {
	stuck, err := t.store.ListClosedUnsettled(ctx)
	if err != nil {
		return err
	}
	for i := range stuck {
		auction := &stuck[i]
		buyNow := auction.BuyItNowPrice.Valid &&
			auction.CurrentHighestBid.Equal(auction.BuyItNowPrice.Decimal)
		if err := t.Settle(ctx, auction, buyNow); err != nil {
			t.logger.Error("SETTLEMENT", fmt.Sprintf("reconcile failed for auction %s: %v", auction.ID, err))
		}
	}
	return nil
}

// StartReconciler runs Reconcile on the given interval until ctx is done.
func (t *Trigger) StartReconciler(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.Reconcile(ctx); err != nil {
					t.logger.Error("SETTLEMENT", fmt.Sprintf("reconcile sweep failed: %v", err))
				}
			}
		}
	}()
}
