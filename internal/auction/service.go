package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-bidding/internal/config"
	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DBLayer interface {
	CreateAuction(ctx context.Context, auction *models.Auction) error
	GetAuctionByID(ctx context.Context, id string) (*models.Auction, error)
	UpdateAuctionVersioned(ctx context.Context, auction *models.Auction) error
	GetBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error)
	ListDueForActivation(ctx context.Context, now time.Time) ([]models.Auction, error)
	ListEnteringCloseWindow(ctx context.Context, now time.Time, window time.Duration) ([]models.Auction, error)
	ListDueForClose(ctx context.Context, now time.Time) ([]models.Auction, error)
}

// BidEngine is the per-auction serialization point for every mutation.
type BidEngine interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, maxProxy decimal.NullDecimal) (*models.BidResult, error)
	BuyItNow(ctx context.Context, auctionID, buyerID string) (*models.OrderIntent, error)
	TryClose(ctx context.Context, auctionID string) (bool, error)
	MarkClosing(ctx context.Context, auctionID string) (bool, error)
	Cancel(ctx context.Context, auctionID, actorID string, isAdmin bool, reason string) error
}

// SnapshotCache serves reads without touching the bidding critical section.
type SnapshotCache interface {
	GetPrice(ctx context.Context, auctionID string) (decimal.Decimal, string, bool, error)
	ScheduleClose(ctx context.Context, auctionID string, in time.Duration) error
}

type Service struct {
	DB     DBLayer
	Engine BidEngine
	Cache  SnapshotCache
	Logger *logger.Logger

	closingWindow time.Duration
	now           func() time.Time
}

func NewService(db DBLayer, eng BidEngine, cache SnapshotCache, cfg config.AuctionConfig, log *logger.Logger) *Service {
	return &Service{
		DB:            db,
		Engine:        eng,
		Cache:         cache,
		Logger:        log,
		closingWindow: cfg.AntiSnipeWindow,
		now:           time.Now,
	}
}

// ---------------- CREATE ----------------

// CreateAuction validates the listing and stores the new aggregate. An
// auction whose start time has already passed goes straight to active
// with its close trigger armed.
func (s *Service) CreateAuction(ctx context.Context, sellerID string, req models.CreateAuctionRequest) (*models.Auction, error) {
	if sellerID == "" {
		return nil, errors.New("seller id is required")
	}
	if req.ProductID == "" {
		return nil, errors.New("product id is required")
	}
	if !req.StartPrice.IsPositive() {
		return nil, errors.New("start price must be positive")
	}
	if !req.BidIncrement.IsPositive() {
		return nil, errors.New("bid increment must be positive")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, errors.New("end time must be after start time")
	}
	now := s.now()
	if !req.EndTime.After(now) {
		return nil, errors.New("end time must be in the future")
	}
	if req.ReservePrice.Valid && req.ReservePrice.Decimal.LessThan(req.StartPrice) {
		return nil, errors.New("reserve price cannot be below start price")
	}
	if req.BuyItNowPrice.Valid && !req.BuyItNowPrice.Decimal.GreaterThan(req.StartPrice) {
		return nil, errors.New("buy it now price must exceed start price")
	}

	auction := &models.Auction{
		ID:            uuid.NewString(),
		SellerID:      sellerID,
		ProductID:     req.ProductID,
		StartPrice:    req.StartPrice,
		ReservePrice:  req.ReservePrice,
		BuyItNowPrice: req.BuyItNowPrice,
		BidIncrement:  req.BidIncrement,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Status:        models.AuctionScheduled,
	}
	if !now.Before(req.StartTime) {
		auction.Status = models.AuctionActive
	}

	if err := s.DB.CreateAuction(ctx, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	s.Logger.LogAuction("CREATE", auction.ID, fmt.Sprintf("seller=%s product=%s start=%s status=%s",
		sellerID, req.ProductID, req.StartPrice.String(), auction.Status))

	if auction.Status == models.AuctionActive {
		if err := s.Cache.ScheduleClose(ctx, auction.ID, auction.EndTime.Sub(now)); err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("failed to arm close trigger for auction %s: %v", auction.ID, err))
		}
	}

	return auction, nil
}

// ---------------- READS ----------------

// GetAuction returns the aggregate, overlaying the redis price snapshot
// when it is ahead of the row we read (a bid may have landed between the
// row read and now; the snapshot is written after the aggregate).
func (s *Service) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	auction, err := s.DB.GetAuctionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	amount, bidderID, ok, err := s.Cache.GetPrice(ctx, id)
	if err != nil {
		s.Logger.Warn("REDIS", fmt.Sprintf("price snapshot read failed for auction %s: %v", id, err))
		return auction, nil
	}
	if ok && amount.GreaterThan(auction.CurrentHighestBid) {
		auction.CurrentHighestBid = amount
		auction.CurrentHighestBidderID = bidderID
	}
	return auction, nil
}

// GetBids returns the full ledger for an auction in placement order.
func (s *Service) GetBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if _, err := s.DB.GetAuctionByID(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.DB.GetBidsByAuction(ctx, auctionID)
}

// ---------------- MUTATIONS (delegated to the engine) ----------------

func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID string, req models.BidRequest) (*models.BidResult, error) {
	return s.Engine.PlaceBid(ctx, auctionID, bidderID, req.Amount, req.MaxProxyAmount)
}

func (s *Service) BuyItNow(ctx context.Context, auctionID, buyerID string) (*models.OrderIntent, error) {
	return s.Engine.BuyItNow(ctx, auctionID, buyerID)
}

func (s *Service) CancelAuction(ctx context.Context, auctionID, actorID string, isAdmin bool, reason string) error {
	return s.Engine.Cancel(ctx, auctionID, actorID, isAdmin, reason)
}
