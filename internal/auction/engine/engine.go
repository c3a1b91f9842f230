package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-bidding/internal/auction/db"
	"ms-bidding/internal/auction/policy"
	"ms-bidding/internal/config"
	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetAuctionByID(ctx context.Context, id string) (*models.Auction, error)
	UpdateAuctionVersioned(ctx context.Context, auction *models.Auction) error
	AppendBid(ctx context.Context, bid *models.Bid) error
}

type EventPublisher interface {
	PublishAuctionExtended(event models.AuctionExtendedEvent) error
	PublishBidOutbid(event models.BidOutbidEvent) error
}

// Settler resolves a freshly closed auction: outcome, closed event,
// settlement intent for the order collaborator.
type Settler interface {
	Settle(ctx context.Context, auction *models.Auction, buyNow bool) error
}

// Snapshot is the redis-backed read cache and close trigger store.
// All calls are best effort from the engine's point of view.
type Snapshot interface {
	SetPrice(ctx context.Context, auctionID string, amount decimal.Decimal, bidderID string) error
	ScheduleClose(ctx context.Context, auctionID string, in time.Duration) error
	ClearClose(ctx context.Context, auctionID string) error
}

// BidStream receives accepted bids for live fan-out to watchers.
type BidStream interface {
	EmitBid(event models.BidAcceptedEvent)
}

// Engine serializes every mutating operation against one auction. All of
// PlaceBid, BuyItNow, TryClose and Cancel funnel through the same keyed
// critical section, so no two of them ever see the same aggregate snapshot.
type Engine struct {
	store    Store
	events   EventPublisher
	settler  Settler
	snapshot Snapshot
	stream   BidStream
	policy   policy.AntiSnipe
	logger   *logger.Logger

	locks       *keyedMutex
	lockTimeout time.Duration
	retries     int
	backoff     time.Duration
	now         func() time.Time
}

func New(store Store, events EventPublisher, settler Settler, snapshot Snapshot, stream BidStream, cfg config.AuctionConfig, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		events:   events,
		settler:  settler,
		snapshot: snapshot,
		stream:   stream,
		policy: policy.AntiSnipe{
			Window:        cfg.AntiSnipeWindow,
			Extension:     cfg.AntiSnipeExtension,
			MaxExtensions: cfg.MaxExtensions,
		},
		logger:      log,
		locks:       newKeyedMutex(),
		lockTimeout: cfg.BidLockTimeout,
		retries:     cfg.ConflictRetries,
		backoff:     cfg.ConflictBackoff,
		now:         time.Now,
	}
}

// WithClock replaces the engine's time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// acquire enters the per-auction critical section, giving up after the
// configured lock timeout. A timeout means the request was never
// processed and is safe to retry.
func (e *Engine) acquire(ctx context.Context, auctionID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	release, err := e.locks.Acquire(lockCtx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("auction %s busy: %w", auctionID, err)
	}
	return release, nil
}

// ---------------- PLACE BID ----------------

// PlaceBid validates and applies one bid attempt. Every attempt lands in
// the ledger, accepted or not. Expected failures come back inside the
// BidResult; only infrastructure problems surface as errors.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, maxProxy decimal.NullDecimal) (*models.BidResult, error) {
	release, err := e.acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	result, after, err := e.placeBid(ctx, auctionID, bidderID, amount, maxProxy)
	release()
	if err != nil {
		return nil, err
	}
	if after != nil {
		after()
	}
	return result, nil
}

// placeBid runs inside the critical section. The side effects of an
// accepted bid come back as a closure the caller runs once the lock is
// released; broker and cache I/O must never stall other bidders on the
// same auction.
func (e *Engine) placeBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, maxProxy decimal.NullDecimal) (*models.BidResult, func(), error) {
	for attempt := 0; ; attempt++ {
		auction, err := e.store.GetAuctionByID(ctx, auctionID)
		if err != nil {
			return nil, nil, err
		}

		placedAt := e.now()

		if reason := e.validateBid(auction, bidderID, amount, placedAt); reason != "" {
			result, err := e.rejectBid(ctx, auction, bidderID, amount, placedAt, reason)
			return result, nil, err
		}

		prevBidderID := auction.CurrentHighestBidderID
		challengerBid, proxyBid := e.applyBid(auction, bidderID, amount, maxProxy, placedAt)

		decision := e.policy.Evaluate(auction, placedAt)
		if decision.Extend {
			auction.EndTime = decision.NewEndTime
			auction.ExtensionCount++
		}
		if auction.Status == models.AuctionActive && e.policy.InClosingWindow(auction, placedAt) {
			auction.Status = models.AuctionClosing
		}

		err = e.store.UpdateAuctionVersioned(ctx, auction)
		if errors.Is(err, db.ErrVersionConflict) {
			if attempt < e.retries {
				e.logger.Warn("BID", fmt.Sprintf("version conflict on auction %s, retrying (attempt %d)", auctionID, attempt+1))
				time.Sleep(e.backoff)
				continue
			}
			return nil, nil, fmt.Errorf("auction %s: retries exhausted: %w", auctionID, err)
		}
		if err != nil {
			return nil, nil, err
		}

		if err := e.store.AppendBid(ctx, challengerBid); err != nil {
			// The aggregate moved but the ledger write failed. This is
			// the one place the two can disagree; surface it loudly and
			// stop processing this auction.
			e.logger.Error("BID", fmt.Sprintf("ledger append failed for auction %s after aggregate update: %v", auctionID, err))
			return nil, nil, err
		}
		if proxyBid != nil {
			if err := e.store.AppendBid(ctx, proxyBid); err != nil {
				e.logger.Error("BID", fmt.Sprintf("proxy ledger append failed for auction %s: %v", auctionID, err))
				return nil, nil, err
			}
		}

		after := func() {
			e.afterAccept(ctx, auction, challengerBid, proxyBid, prevBidderID, decision.Extend)
		}

		result := &models.BidResult{
			Accepted:           true,
			BidID:              challengerBid.ID,
			NewHighestBid:      auction.CurrentHighestBid,
			NewHighestBidderID: auction.CurrentHighestBidderID,
			YouAreHighest:      auction.CurrentHighestBidderID == bidderID,
			MinimumNextBid:     auction.MinimumNextBid(),
			ExtensionCount:     auction.ExtensionCount,
		}
		if decision.Extend {
			end := auction.EndTime
			result.ExtendedUntil = &end
		}
		return result, after, nil
	}
}

func (e *Engine) validateBid(auction *models.Auction, bidderID string, amount decimal.Decimal, placedAt time.Time) string {
	if !auction.IsBiddable() || !placedAt.Before(auction.EndTime) {
		return models.RejectNotBiddable
	}
	if bidderID == auction.SellerID {
		return models.RejectSellerOwnAuction
	}
	if amount.LessThan(auction.MinimumNextBid()) {
		return models.RejectAmountTooLow
	}
	return ""
}

// applyBid mutates the aggregate for an accepted bid and returns the
// ledger rows to append: the challenger's bid and, when the incumbent's
// proxy ceiling covers the challenge, an automatic counter-raise.
func (e *Engine) applyBid(auction *models.Auction, bidderID string, amount decimal.Decimal, maxProxy decimal.NullDecimal, placedAt time.Time) (*models.Bid, *models.Bid) {
	challengerBid := &models.Bid{
		ID:        uuid.NewString(),
		AuctionID: auction.ID,
		BidderID:  bidderID,
		Amount:    amount,
		PlacedAt:  placedAt,
		Accepted:  true,
	}

	incumbent := auction.CurrentHighestBidderID
	ceiling := auction.ProxyCeiling

	if incumbent != "" && incumbent != bidderID && ceiling.Valid && ceiling.Decimal.GreaterThan(amount) {
		// Incumbent's proxy still covers this challenge: counter-raise by
		// one increment over the challenger, capped at the ceiling.
		raise := amount.Add(auction.BidIncrement)
		if raise.GreaterThan(ceiling.Decimal) {
			raise = ceiling.Decimal
		}
		// The counter-raise answers the challenger, so its ledger row
		// sits strictly after the challenger's in time.
		proxyBid := &models.Bid{
			ID:        uuid.NewString(),
			AuctionID: auction.ID,
			BidderID:  incumbent,
			Amount:    raise,
			PlacedAt:  placedAt.Add(time.Nanosecond),
			Accepted:  true,
			IsProxy:   true,
		}
		auction.CurrentHighestBid = raise
		return challengerBid, proxyBid
	}

	auction.CurrentHighestBid = amount
	auction.CurrentHighestBidderID = bidderID
	if maxProxy.Valid && maxProxy.Decimal.GreaterThan(amount) {
		auction.ProxyCeiling = maxProxy
	} else {
		auction.ProxyCeiling = decimal.NullDecimal{}
	}
	return challengerBid, nil
}

func (e *Engine) rejectBid(ctx context.Context, auction *models.Auction, bidderID string, amount decimal.Decimal, placedAt time.Time, reason string) (*models.BidResult, error) {
	bid := &models.Bid{
		ID:           uuid.NewString(),
		AuctionID:    auction.ID,
		BidderID:     bidderID,
		Amount:       amount,
		PlacedAt:     placedAt,
		Accepted:     false,
		RejectReason: reason,
	}
	if err := e.store.AppendBid(ctx, bid); err != nil {
		return nil, err
	}

	e.logger.LogBid("REJECT", auction.ID, fmt.Sprintf("bidder=%s amount=%s reason=%s", bidderID, amount.String(), reason))

	return &models.BidResult{
		Accepted:           false,
		BidID:              bid.ID,
		NewHighestBid:      auction.CurrentHighestBid,
		NewHighestBidderID: auction.CurrentHighestBidderID,
		RejectReason:       reason,
		MinimumNextBid:     auction.MinimumNextBid(),
		ExtensionCount:     auction.ExtensionCount,
	}, nil
}

// afterAccept fans out the side effects of an accepted bid. None of them
// can fail the bid itself; the aggregate and ledger are already durable.
func (e *Engine) afterAccept(ctx context.Context, auction *models.Auction, challengerBid, proxyBid *models.Bid, prevBidderID string, extended bool) {
	e.logger.LogBid("ACCEPT", auction.ID, fmt.Sprintf("bidder=%s amount=%s highest=%s", challengerBid.BidderID, challengerBid.Amount.String(), auction.CurrentHighestBid.String()))

	if e.snapshot != nil {
		if err := e.snapshot.SetPrice(ctx, auction.ID, auction.CurrentHighestBid, auction.CurrentHighestBidderID); err != nil {
			e.logger.Warn("REDIS", fmt.Sprintf("price snapshot update failed for auction %s: %v", auction.ID, err))
		}
		if extended {
			if err := e.snapshot.ScheduleClose(ctx, auction.ID, auction.EndTime.Sub(e.now())); err != nil {
				e.logger.Warn("REDIS", fmt.Sprintf("close reschedule failed for auction %s: %v", auction.ID, err))
			}
		}
	}

	if e.stream != nil {
		e.stream.EmitBid(models.BidAcceptedEvent{
			EventID:   uuid.NewString(),
			AuctionID: auction.ID,
			BidID:     challengerBid.ID,
			BidderID:  challengerBid.BidderID,
			Amount:    challengerBid.Amount,
			Timestamp: challengerBid.PlacedAt,
		})
		if proxyBid != nil {
			e.stream.EmitBid(models.BidAcceptedEvent{
				EventID:   uuid.NewString(),
				AuctionID: auction.ID,
				BidID:     proxyBid.ID,
				BidderID:  proxyBid.BidderID,
				Amount:    proxyBid.Amount,
				IsProxy:   true,
				Timestamp: proxyBid.PlacedAt,
			})
		}
	}

	// Whoever lost the top spot gets told. When the incumbent's proxy
	// defended, that is the challenger who just bid.
	outbidID := prevBidderID
	if proxyBid != nil {
		outbidID = challengerBid.BidderID
	}
	if outbidID != "" && outbidID != auction.CurrentHighestBidderID {
		if err := e.events.PublishBidOutbid(models.BidOutbidEvent{
			AuctionID:        auction.ID,
			PreviousBidderID: outbidID,
			NewHighestBid:    auction.CurrentHighestBid,
			Timestamp:        e.now(),
		}); err != nil {
			e.logger.Error("KAFKA", fmt.Sprintf("outbid publish failed for auction %s: %v", auction.ID, err))
		}
	}

	if extended {
		e.logger.LogAuction("EXTEND", auction.ID, fmt.Sprintf("new end=%s count=%d", auction.EndTime.Format(time.RFC3339), auction.ExtensionCount))
		if err := e.events.PublishAuctionExtended(models.AuctionExtendedEvent{
			AuctionID:      auction.ID,
			NewEndTime:     auction.EndTime,
			ExtensionCount: auction.ExtensionCount,
			Timestamp:      e.now(),
		}); err != nil {
			e.logger.Error("KAFKA", fmt.Sprintf("extended publish failed for auction %s: %v", auction.ID, err))
		}
	}
}

// ---------------- BUY IT NOW ----------------

// BuyItNow atomically closes an active auction at the buy-it-now price.
// It runs in the same critical section as bids, so at most one attempt
// per auction can ever succeed; later attempts see a closed auction.
func (e *Engine) BuyItNow(ctx context.Context, auctionID, buyerID string) (*models.OrderIntent, error) {
	release, err := e.acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	intent, after, err := e.buyItNow(ctx, auctionID, buyerID)
	release()
	if err != nil {
		return nil, err
	}
	if after != nil {
		after()
	}
	return intent, nil
}

// buyItNow runs inside the critical section; snapshot and settlement
// side effects come back as a closure for after release.
func (e *Engine) buyItNow(ctx context.Context, auctionID, buyerID string) (*models.OrderIntent, func(), error) {
	for attempt := 0; ; attempt++ {
		auction, err := e.store.GetAuctionByID(ctx, auctionID)
		if err != nil {
			return nil, nil, err
		}

		now := e.now()

		if typed := e.validateBuyNow(auction, buyerID, now); typed != nil {
			reason := models.RejectAuctionClosed
			var verr *ValidationError
			if errors.As(typed, &verr) {
				reason = verr.Reason
			}
			attemptRow := &models.Bid{
				ID:           uuid.NewString(),
				AuctionID:    auction.ID,
				BidderID:     buyerID,
				Amount:       auction.CurrentHighestBid,
				PlacedAt:     now,
				Accepted:     false,
				RejectReason: reason,
				IsBuyItNow:   true,
			}
			if auction.BuyItNowPrice.Valid {
				attemptRow.Amount = auction.BuyItNowPrice.Decimal
			}
			if err := e.store.AppendBid(ctx, attemptRow); err != nil {
				return nil, nil, err
			}
			return nil, nil, typed
		}

		price := auction.BuyItNowPrice.Decimal
		auction.CurrentHighestBid = price
		auction.CurrentHighestBidderID = buyerID
		auction.ProxyCeiling = decimal.NullDecimal{}
		auction.Status = models.AuctionClosed

		err = e.store.UpdateAuctionVersioned(ctx, auction)
		if errors.Is(err, db.ErrVersionConflict) {
			if attempt < e.retries {
				time.Sleep(e.backoff)
				continue
			}
			return nil, nil, fmt.Errorf("auction %s: retries exhausted: %w", auctionID, err)
		}
		if err != nil {
			return nil, nil, err
		}

		bid := &models.Bid{
			ID:         uuid.NewString(),
			AuctionID:  auction.ID,
			BidderID:   buyerID,
			Amount:     price,
			PlacedAt:   now,
			Accepted:   true,
			IsBuyItNow: true,
		}
		if err := e.store.AppendBid(ctx, bid); err != nil {
			e.logger.Error("BID", fmt.Sprintf("buy-now ledger append failed for auction %s: %v", auctionID, err))
			return nil, nil, err
		}

		e.logger.LogAuction("BUY_NOW", auction.ID, fmt.Sprintf("buyer=%s price=%s", buyerID, price.String()))

		after := func() {
			if e.snapshot != nil {
				_ = e.snapshot.SetPrice(ctx, auction.ID, price, buyerID)
				_ = e.snapshot.ClearClose(ctx, auction.ID)
			}
			if err := e.settler.Settle(ctx, auction, true); err != nil {
				// Settlement delivery is retried by the reconciler; the
				// sale itself already happened.
				e.logger.Error("SETTLEMENT", fmt.Sprintf("settle after buy-now failed for auction %s: %v", auction.ID, err))
			}
		}

		return &models.OrderIntent{
			AuctionID: auction.ID,
			ProductID: auction.ProductID,
			SellerID:  auction.SellerID,
			BuyerID:   buyerID,
			Amount:    price,
			Kind:      models.OrderIntentBuyItNow,
			CreatedAt: now,
		}, after, nil
	}
}

func (e *Engine) validateBuyNow(auction *models.Auction, buyerID string, now time.Time) error {
	if auction.Status != models.AuctionActive || !now.Before(auction.EndTime) {
		return ErrAuctionClosed
	}
	if !auction.BuyItNowPrice.Valid {
		return ErrBuyNowUnavailable
	}
	if buyerID == auction.SellerID {
		return ErrSellerOwnAuction
	}
	if auction.CurrentHighestBid.GreaterThanOrEqual(auction.BuyItNowPrice.Decimal) {
		// Bidding already reached the buy-it-now price; the option is gone.
		return ErrBuyNowUnavailable
	}
	return nil
}

// ---------------- CLOSE ----------------

// TryClose closes the auction if its end time has passed. It is idempotent
// and safe to deliver more than once: already-closed auctions and auctions
// whose end time moved are both no-ops. Returns whether this call closed
// the auction.
func (e *Engine) TryClose(ctx context.Context, auctionID string) (bool, error) {
	release, err := e.acquire(ctx, auctionID)
	if err != nil {
		return false, err
	}
	auction, err := e.tryClose(ctx, auctionID)
	release()
	if err != nil || auction == nil {
		return false, err
	}

	// Settlement I/O happens outside the critical section; the closed
	// status is already durable and the reconciler backstops delivery.
	if e.snapshot != nil {
		_ = e.snapshot.ClearClose(ctx, auction.ID)
	}
	if err := e.settler.Settle(ctx, auction, false); err != nil {
		e.logger.Error("SETTLEMENT", fmt.Sprintf("settle after close failed for auction %s: %v", auction.ID, err))
	}
	return true, nil
}

// tryClose runs inside the critical section and returns the closed
// aggregate, or nil when this call did not close the auction.
func (e *Engine) tryClose(ctx context.Context, auctionID string) (*models.Auction, error) {
	for attempt := 0; ; attempt++ {
		auction, err := e.store.GetAuctionByID(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		if !auction.IsBiddable() {
			return nil, nil
		}
		if e.now().Before(auction.EndTime) {
			// A late bid extended the window; the close trigger will fire
			// again at the new end time.
			return nil, nil
		}

		auction.Status = models.AuctionClosed

		err = e.store.UpdateAuctionVersioned(ctx, auction)
		if errors.Is(err, db.ErrVersionConflict) {
			if attempt < e.retries {
				time.Sleep(e.backoff)
				continue
			}
			return nil, fmt.Errorf("auction %s: retries exhausted: %w", auctionID, err)
		}
		if err != nil {
			return nil, err
		}

		e.logger.LogAuction("CLOSE", auction.ID, fmt.Sprintf("highest=%s bidder=%s", auction.CurrentHighestBid.String(), auction.CurrentHighestBidderID))
		return auction, nil
	}
}

// MarkClosing flips an active auction to closing once it sits inside the
// anti-snipe window. Purely informational for readers; the bidding rules
// do not change. Returns whether this call made the transition.
func (e *Engine) MarkClosing(ctx context.Context, auctionID string) (bool, error) {
	release, err := e.acquire(ctx, auctionID)
	if err != nil {
		return false, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		auction, err := e.store.GetAuctionByID(ctx, auctionID)
		if err != nil {
			return false, err
		}

		if auction.Status != models.AuctionActive || !e.policy.InClosingWindow(auction, e.now()) {
			return false, nil
		}

		auction.Status = models.AuctionClosing

		err = e.store.UpdateAuctionVersioned(ctx, auction)
		if errors.Is(err, db.ErrVersionConflict) {
			if attempt < e.retries {
				time.Sleep(e.backoff)
				continue
			}
			return false, fmt.Errorf("auction %s: retries exhausted: %w", auctionID, err)
		}
		if err != nil {
			return false, err
		}

		e.logger.LogAuction("CLOSING", auction.ID, fmt.Sprintf("ends=%s", auction.EndTime.Format(time.RFC3339)))
		return true, nil
	}
}

// ---------------- CANCEL ----------------

// Cancel withdraws an auction before any bid has been accepted. Sellers
// may cancel their own auctions; admins may cancel any.
func (e *Engine) Cancel(ctx context.Context, auctionID, actorID string, isAdmin bool, reason string) error {
	release, err := e.acquire(ctx, auctionID)
	if err != nil {
		return err
	}
	err = e.cancel(ctx, auctionID, actorID, isAdmin, reason)
	release()
	if err != nil {
		return err
	}
	if e.snapshot != nil {
		_ = e.snapshot.ClearClose(ctx, auctionID)
	}
	return nil
}

func (e *Engine) cancel(ctx context.Context, auctionID, actorID string, isAdmin bool, reason string) error {
	for attempt := 0; ; attempt++ {
		auction, err := e.store.GetAuctionByID(ctx, auctionID)
		if err != nil {
			return err
		}

		if auction.Status != models.AuctionScheduled && auction.Status != models.AuctionActive {
			return ErrAuctionClosed
		}
		if auction.HasBids() {
			return ErrHasBids
		}
		if !isAdmin && actorID != auction.SellerID {
			return ErrNotSeller
		}

		auction.Status = models.AuctionCancelled

		err = e.store.UpdateAuctionVersioned(ctx, auction)
		if errors.Is(err, db.ErrVersionConflict) {
			if attempt < e.retries {
				time.Sleep(e.backoff)
				continue
			}
			return fmt.Errorf("auction %s: retries exhausted: %w", auctionID, err)
		}
		if err != nil {
			return err
		}

		e.logger.LogAuction("CANCEL", auction.ID, fmt.Sprintf("actor=%s reason=%s", actorID, reason))
		return nil
	}
}
