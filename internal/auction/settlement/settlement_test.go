package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"

	"github.com/shopspring/decimal"
)

type mockStore struct {
	mu       sync.Mutex
	settled  []string
	closed   []models.Auction
	failMark bool
}

func (m *mockStore) MarkSettled(_ context.Context, auctionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark {
		return errors.New("store failure")
	}
	m.settled = append(m.settled, auctionID)
	return nil
}

func (m *mockStore) ListClosedUnsettled(_ context.Context) ([]models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed, nil
}

type mockPublisher struct {
	mu          sync.Mutex
	closed      []models.AuctionClosedEvent
	intents     []models.SettlementIntent
	failClosed  bool
	failIntents bool
}

func (m *mockPublisher) PublishAuctionClosed(event models.AuctionClosedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClosed {
		return errors.New("broker down")
	}
	m.closed = append(m.closed, event)
	return nil
}

func (m *mockPublisher) PublishSettlementIntent(intent models.SettlementIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIntents {
		return errors.New("broker down")
	}
	m.intents = append(m.intents, intent)
	return nil
}

var testLogger = logger.NewLogger()

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func closedAuction(id string) *models.Auction {
	now := time.Now()
	return &models.Auction{
		ID:           id,
		SellerID:     "seller1",
		ProductID:    "product1",
		StartPrice:   dec(50),
		BidIncrement: dec(5),
		StartTime:    now.Add(-2 * time.Hour),
		EndTime:      now.Add(-time.Minute),
		Status:       models.AuctionClosed,
	}
}

func TestOutcome(t *testing.T) {
	t.Run("no bids means unsold", func(t *testing.T) {
		outcome := Outcome(closedAuction("a1"))
		if outcome.Won() || outcome.Reason != models.UnsoldNoBids {
			t.Errorf("Expected unsold/no_bids, got %+v", outcome)
		}
	})

	t.Run("reserve not met means unsold", func(t *testing.T) {
		auction := closedAuction("a1")
		auction.ReservePrice = decimal.NewNullDecimal(dec(200))
		auction.CurrentHighestBid = dec(150)
		auction.CurrentHighestBidderID = "alice"
		outcome := Outcome(auction)
		if outcome.Won() || outcome.Reason != models.UnsoldReserveNotMet {
			t.Errorf("Expected unsold/reserve_not_met, got %+v", outcome)
		}
	})

	t.Run("reserve met means won", func(t *testing.T) {
		auction := closedAuction("a1")
		auction.ReservePrice = decimal.NewNullDecimal(dec(200))
		auction.CurrentHighestBid = dec(200)
		auction.CurrentHighestBidderID = "alice"
		outcome := Outcome(auction)
		if !outcome.Won() || outcome.WinnerID != "alice" || !outcome.Amount.Equal(dec(200)) {
			t.Errorf("Expected alice winning at 200, got %+v", outcome)
		}
	})

	t.Run("no reserve means any bid wins", func(t *testing.T) {
		auction := closedAuction("a1")
		auction.CurrentHighestBid = dec(55)
		auction.CurrentHighestBidderID = "bob"
		outcome := Outcome(auction)
		if !outcome.Won() || outcome.WinnerID != "bob" {
			t.Errorf("Expected bob winning, got %+v", outcome)
		}
	})

	t.Run("buy-it-now overrides the reserve", func(t *testing.T) {
		auction := closedAuction("a1")
		auction.ReservePrice = decimal.NewNullDecimal(dec(500))
		auction.BuyItNowPrice = decimal.NewNullDecimal(dec(400))
		auction.CurrentHighestBid = dec(400)
		auction.CurrentHighestBidderID = "carol"
		outcome := Outcome(auction)
		if !outcome.Won() || outcome.WinnerID != "carol" {
			t.Errorf("Expected buy-it-now sale to win despite reserve, got %+v", outcome)
		}
	})
}

func TestSettleUnsold(t *testing.T) {
	store := &mockStore{}
	publisher := &mockPublisher{}
	trigger := NewTrigger(store, publisher, testLogger)

	if err := trigger.Settle(context.Background(), closedAuction("a1"), false); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	if len(publisher.closed) != 1 {
		t.Fatalf("Expected 1 closed event, got %d", len(publisher.closed))
	}
	if publisher.closed[0].Outcome.Won() {
		t.Error("Expected unsold outcome in the closed event")
	}
	if len(publisher.intents) != 0 {
		t.Errorf("Expected no settlement intents for unsold, got %d", len(publisher.intents))
	}
	// Nothing owed: settled straight away.
	if len(store.settled) != 1 || store.settled[0] != "a1" {
		t.Errorf("Expected auction marked settled, got %+v", store.settled)
	}
}

func TestSettleWonWaitsForAck(t *testing.T) {
	store := &mockStore{}
	publisher := &mockPublisher{}
	trigger := NewTrigger(store, publisher, testLogger)

	auction := closedAuction("a1")
	auction.CurrentHighestBid = dec(120)
	auction.CurrentHighestBidderID = "alice"

	if err := trigger.Settle(context.Background(), auction, false); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	if len(publisher.intents) != 1 {
		t.Fatalf("Expected 1 settlement intent, got %d", len(publisher.intents))
	}
	intent := publisher.intents[0]
	if intent.Order.BuyerID != "alice" || !intent.Order.Amount.Equal(dec(120)) {
		t.Errorf("Unexpected order intent: %+v", intent.Order)
	}
	if intent.Order.Kind != models.OrderIntentAuctionWon {
		t.Errorf("Expected kind %s, got %s", models.OrderIntentAuctionWon, intent.Order.Kind)
	}
	if intent.Attempt != 1 {
		t.Errorf("Expected first attempt, got %d", intent.Attempt)
	}

	// The auction stays closed until the collaborator acknowledges.
	if len(store.settled) != 0 {
		t.Errorf("Expected no settled auctions before the ack, got %+v", store.settled)
	}

	trigger.HandleResult(context.Background(), models.SettlementResult{
		AuctionID: "a1",
		IntentID:  intent.IntentID,
		Success:   true,
		Reference: "pi_123",
	})
	if len(store.settled) != 1 || store.settled[0] != "a1" {
		t.Errorf("Expected auction settled after ack, got %+v", store.settled)
	}
}

func TestHandleResultFailureLeavesClosed(t *testing.T) {
	store := &mockStore{}
	trigger := NewTrigger(store, &mockPublisher{}, testLogger)

	trigger.HandleResult(context.Background(), models.SettlementResult{
		AuctionID: "a1",
		Success:   false,
		Error:     "card declined",
	})
	if len(store.settled) != 0 {
		t.Errorf("Expected failed result to leave the auction closed, got %+v", store.settled)
	}
}

func TestSettlePublishFailure(t *testing.T) {
	store := &mockStore{}
	publisher := &mockPublisher{failClosed: true}
	trigger := NewTrigger(store, publisher, testLogger)

	if err := trigger.Settle(context.Background(), closedAuction("a1"), false); err == nil {
		t.Fatal("Expected error when the closed event cannot be published")
	}
	// Not settled: the reconciler will retry the whole resolution.
	if len(store.settled) != 0 {
		t.Errorf("Expected no settled auctions, got %+v", store.settled)
	}
}

func TestReconcileResendsIntents(t *testing.T) {
	auction := closedAuction("a1")
	auction.CurrentHighestBid = dec(120)
	auction.CurrentHighestBidderID = "alice"

	store := &mockStore{closed: []models.Auction{*auction}}
	publisher := &mockPublisher{}
	trigger := NewTrigger(store, publisher, testLogger)

	if err := trigger.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if err := trigger.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(publisher.intents) != 2 {
		t.Fatalf("Expected 2 resent intents, got %d", len(publisher.intents))
	}
	if publisher.intents[0].Attempt != 1 || publisher.intents[1].Attempt != 2 {
		t.Errorf("Expected increasing attempt numbers, got %d then %d",
			publisher.intents[0].Attempt, publisher.intents[1].Attempt)
	}
}

func TestReconcileBuyNowKind(t *testing.T) {
	auction := closedAuction("a1")
	auction.BuyItNowPrice = decimal.NewNullDecimal(dec(400))
	auction.CurrentHighestBid = dec(400)
	auction.CurrentHighestBidderID = "bob"

	store := &mockStore{closed: []models.Auction{*auction}}
	publisher := &mockPublisher{}
	trigger := NewTrigger(store, publisher, testLogger)

	if err := trigger.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(publisher.intents) != 1 {
		t.Fatalf("Expected 1 intent, got %d", len(publisher.intents))
	}
	if publisher.intents[0].Order.Kind != models.OrderIntentBuyItNow {
		t.Errorf("Expected buy_it_now kind preserved, got %s", publisher.intents[0].Order.Kind)
	}
}
