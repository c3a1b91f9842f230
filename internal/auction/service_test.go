package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-bidding/internal/auction/db"
	"ms-bidding/internal/config"
	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"

	"github.com/shopspring/decimal"
)

// Mock implementations for testing

type mockDB struct {
	mu       sync.Mutex
	auctions map[string]*models.Auction
	bids     map[string][]models.Bid
}

func newMockDB() *mockDB {
	return &mockDB{
		auctions: make(map[string]*models.Auction),
		bids:     make(map[string][]models.Bid),
	}
}

func (m *mockDB) CreateAuction(_ context.Context, auction *models.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	auction.Version = 1
	copied := *auction
	m.auctions[auction.ID] = &copied
	return nil
}

func (m *mockDB) GetAuctionByID(_ context.Context, id string) (*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	auction, ok := m.auctions[id]
	if !ok {
		return nil, db.ErrAuctionNotFound
	}
	copied := *auction
	return &copied, nil
}

func (m *mockDB) UpdateAuctionVersioned(_ context.Context, auction *models.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.auctions[auction.ID]
	if !ok {
		return db.ErrAuctionNotFound
	}
	if stored.Version != auction.Version {
		return db.ErrVersionConflict
	}
	copied := *auction
	copied.Version++
	m.auctions[auction.ID] = &copied
	auction.Version++
	return nil
}

func (m *mockDB) GetBidsByAuction(_ context.Context, auctionID string) ([]models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bids[auctionID], nil
}

func (m *mockDB) ListDueForActivation(_ context.Context, now time.Time) ([]models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Auction
	for _, a := range m.auctions {
		if a.Status == models.AuctionScheduled && !a.StartTime.After(now) {
			due = append(due, *a)
		}
	}
	return due, nil
}

func (m *mockDB) ListEnteringCloseWindow(_ context.Context, now time.Time, window time.Duration) ([]models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entering []models.Auction
	for _, a := range m.auctions {
		if a.Status == models.AuctionActive && a.EndTime.After(now) && !a.EndTime.After(now.Add(window)) {
			entering = append(entering, *a)
		}
	}
	return entering, nil
}

func (m *mockDB) ListDueForClose(_ context.Context, now time.Time) ([]models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Auction
	for _, a := range m.auctions {
		if (a.Status == models.AuctionActive || a.Status == models.AuctionClosing) && !a.EndTime.After(now) {
			due = append(due, *a)
		}
	}
	return due, nil
}

type mockEngine struct {
	mu        sync.Mutex
	closed    []string
	closing   []string
	cancelled []string
}

func (m *mockEngine) PlaceBid(_ context.Context, auctionID, bidderID string, amount decimal.Decimal, _ decimal.NullDecimal) (*models.BidResult, error) {
	return &models.BidResult{Accepted: true, NewHighestBid: amount, NewHighestBidderID: bidderID}, nil
}

func (m *mockEngine) BuyItNow(_ context.Context, auctionID, buyerID string) (*models.OrderIntent, error) {
	return &models.OrderIntent{AuctionID: auctionID, BuyerID: buyerID, Kind: models.OrderIntentBuyItNow}, nil
}

func (m *mockEngine) TryClose(_ context.Context, auctionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, auctionID)
	return true, nil
}

func (m *mockEngine) MarkClosing(_ context.Context, auctionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closing = append(m.closing, auctionID)
	return true, nil
}

func (m *mockEngine) Cancel(_ context.Context, auctionID, _ string, _ bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, auctionID)
	return nil
}

type mockCache struct {
	mu        sync.Mutex
	prices    map[string]cachedPrice
	scheduled map[string]time.Duration
}

type cachedPrice struct {
	amount decimal.Decimal
	bidder string
}

func newMockCache() *mockCache {
	return &mockCache{
		prices:    make(map[string]cachedPrice),
		scheduled: make(map[string]time.Duration),
	}
}

func (m *mockCache) GetPrice(_ context.Context, auctionID string) (decimal.Decimal, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[auctionID]
	if !ok {
		return decimal.Zero, "", false, nil
	}
	return p.amount, p.bidder, true, nil
}

func (m *mockCache) ScheduleClose(_ context.Context, auctionID string, in time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled[auctionID] = in
	return nil
}

var testLogger = logger.NewLogger()

func newTestService() (*Service, *mockDB, *mockEngine, *mockCache) {
	mdb := newMockDB()
	eng := &mockEngine{}
	cache := newMockCache()
	cfg := config.AuctionConfig{AntiSnipeWindow: 2 * time.Minute}
	return NewService(mdb, eng, cache, cfg, testLogger), mdb, eng, cache
}

func validCreateRequest() models.CreateAuctionRequest {
	now := time.Now()
	return models.CreateAuctionRequest{
		ProductID:    "product1",
		StartPrice:   decimal.NewFromInt(50),
		BidIncrement: decimal.NewFromInt(5),
		StartTime:    now.Add(time.Hour),
		EndTime:      now.Add(25 * time.Hour),
	}
}

func TestCreateAuctionScheduled(t *testing.T) {
	svc, mdb, _, cache := newTestService()

	created, err := svc.CreateAuction(context.Background(), "seller1", validCreateRequest())
	if err != nil {
		t.Fatalf("CreateAuction failed: %v", err)
	}
	if created.Status != models.AuctionScheduled {
		t.Errorf("Expected scheduled status for a future start, got %s", created.Status)
	}
	if _, ok := mdb.auctions[created.ID]; !ok {
		t.Error("Expected auction stored")
	}
	// Close trigger only arms on activation.
	if len(cache.scheduled) != 0 {
		t.Errorf("Expected no close trigger yet, got %v", cache.scheduled)
	}
}

func TestCreateAuctionImmediateStart(t *testing.T) {
	svc, _, _, cache := newTestService()

	req := validCreateRequest()
	req.StartTime = time.Now().Add(-time.Minute)

	created, err := svc.CreateAuction(context.Background(), "seller1", req)
	if err != nil {
		t.Fatalf("CreateAuction failed: %v", err)
	}
	if created.Status != models.AuctionActive {
		t.Errorf("Expected active status for a past start, got %s", created.Status)
	}
	if _, ok := cache.scheduled[created.ID]; !ok {
		t.Error("Expected close trigger armed for an immediately active auction")
	}
}

func TestCreateAuctionValidation(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.CreateAuctionRequest)
	}{
		{"missing product", func(r *models.CreateAuctionRequest) { r.ProductID = "" }},
		{"zero start price", func(r *models.CreateAuctionRequest) { r.StartPrice = decimal.Zero }},
		{"zero increment", func(r *models.CreateAuctionRequest) { r.BidIncrement = decimal.Zero }},
		{"end before start", func(r *models.CreateAuctionRequest) { r.EndTime = r.StartTime.Add(-time.Hour) }},
		{"end in the past", func(r *models.CreateAuctionRequest) {
			r.StartTime = time.Now().Add(-2 * time.Hour)
			r.EndTime = time.Now().Add(-time.Hour)
		}},
		{"reserve below start", func(r *models.CreateAuctionRequest) {
			r.ReservePrice = decimal.NewNullDecimal(decimal.NewFromInt(40))
		}},
		{"buy-now at start price", func(r *models.CreateAuctionRequest) {
			r.BuyItNowPrice = decimal.NewNullDecimal(decimal.NewFromInt(50))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			if _, err := svc.CreateAuction(ctx, "seller1", req); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if _, err := svc.CreateAuction(ctx, "", validCreateRequest()); err == nil {
		t.Error("Expected error for missing seller")
	}
}

func TestGetAuctionSnapshotOverlay(t *testing.T) {
	svc, mdb, _, cache := newTestService()
	ctx := context.Background()

	auction := &models.Auction{
		ID:                "a1",
		SellerID:          "seller1",
		ProductID:         "product1",
		StartPrice:        decimal.NewFromInt(50),
		BidIncrement:      decimal.NewFromInt(5),
		CurrentHighestBid: decimal.NewFromInt(60),
		Status:            models.AuctionActive,
		EndTime:           time.Now().Add(time.Hour),
	}
	_ = mdb.CreateAuction(ctx, auction)

	// Snapshot ahead of the row: a bid landed after our row read.
	cache.prices["a1"] = cachedPrice{amount: decimal.NewFromInt(70), bidder: "bob"}

	got, err := svc.GetAuction(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAuction failed: %v", err)
	}
	if !got.CurrentHighestBid.Equal(decimal.NewFromInt(70)) || got.CurrentHighestBidderID != "bob" {
		t.Errorf("Expected snapshot overlay to 70/bob, got %s/%s", got.CurrentHighestBid, got.CurrentHighestBidderID)
	}

	// A stale snapshot never wins.
	cache.prices["a1"] = cachedPrice{amount: decimal.NewFromInt(55), bidder: "old"}
	got, err = svc.GetAuction(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAuction failed: %v", err)
	}
	if !got.CurrentHighestBid.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected row value 60 over stale snapshot, got %s", got.CurrentHighestBid)
	}
}

func TestGetBidsUnknownAuction(t *testing.T) {
	svc, _, _, _ := newTestService()

	if _, err := svc.GetBids(context.Background(), "missing"); !errors.Is(err, db.ErrAuctionNotFound) {
		t.Fatalf("Expected ErrAuctionNotFound, got: %v", err)
	}
}

func TestActivateDue(t *testing.T) {
	svc, mdb, _, cache := newTestService()
	ctx := context.Background()

	due := &models.Auction{
		ID:        "due",
		SellerID:  "seller1",
		ProductID: "product1",
		StartTime: time.Now().Add(-time.Minute),
		EndTime:   time.Now().Add(time.Hour),
		Status:    models.AuctionScheduled,
	}
	notDue := &models.Auction{
		ID:        "later",
		SellerID:  "seller1",
		ProductID: "product1",
		StartTime: time.Now().Add(time.Hour),
		EndTime:   time.Now().Add(2 * time.Hour),
		Status:    models.AuctionScheduled,
	}
	_ = mdb.CreateAuction(ctx, due)
	_ = mdb.CreateAuction(ctx, notDue)

	if err := svc.ActivateDue(ctx); err != nil {
		t.Fatalf("ActivateDue failed: %v", err)
	}

	if mdb.auctions["due"].Status != models.AuctionActive {
		t.Errorf("Expected due auction activated, got %s", mdb.auctions["due"].Status)
	}
	if mdb.auctions["later"].Status != models.AuctionScheduled {
		t.Errorf("Expected later auction untouched, got %s", mdb.auctions["later"].Status)
	}
	if _, ok := cache.scheduled["due"]; !ok {
		t.Error("Expected close trigger armed on activation")
	}
}

func TestSweepDueClose(t *testing.T) {
	svc, mdb, eng, _ := newTestService()
	ctx := context.Background()

	past := &models.Auction{
		ID:        "past",
		SellerID:  "seller1",
		ProductID: "product1",
		StartTime: time.Now().Add(-2 * time.Hour),
		EndTime:   time.Now().Add(-time.Minute),
		Status:    models.AuctionActive,
	}
	running := &models.Auction{
		ID:        "running",
		SellerID:  "seller1",
		ProductID: "product1",
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
		Status:    models.AuctionActive,
	}
	// Inside the anti-snipe window without any bid: the sweep still has
	// to flip it to closing.
	ending := &models.Auction{
		ID:        "ending",
		SellerID:  "seller1",
		ProductID: "product1",
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Minute),
		Status:    models.AuctionActive,
	}
	_ = mdb.CreateAuction(ctx, past)
	_ = mdb.CreateAuction(ctx, running)
	_ = mdb.CreateAuction(ctx, ending)

	if err := svc.SweepDueClose(ctx); err != nil {
		t.Fatalf("SweepDueClose failed: %v", err)
	}
	if len(eng.closed) != 1 || eng.closed[0] != "past" {
		t.Errorf("Expected only the past auction funneled to TryClose, got %v", eng.closed)
	}
	if len(eng.closing) != 1 || eng.closing[0] != "ending" {
		t.Errorf("Expected only the auction inside the window marked closing, got %v", eng.closing)
	}
}

func TestCloseSubscriber(t *testing.T) {
	svc, _, eng, _ := newTestService()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	triggers := make(chan string, 2)
	svc.StartCloseSubscriber(ctx, triggers)

	triggers <- "a1"
	triggers <- "a2"
	close(triggers)

	deadline := time.After(time.Second)
	for {
		eng.mu.Lock()
		n := len(eng.closed)
		eng.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Expected 2 close attempts, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
