package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "scheduled"
	AuctionActive    AuctionStatus = "active"
	AuctionClosing   AuctionStatus = "closing"
	AuctionClosed    AuctionStatus = "closed"
	AuctionSettled   AuctionStatus = "settled"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Auction is the mutable summary of one item under bid. It is only ever
// written from inside the per-auction critical section; Version guards
// against concurrent writers from other instances.
type Auction struct {
	bun.BaseModel `bun:"table:auctions"`

	ID                     string              `bun:"id,pk" json:"id"`
	SellerID               string              `bun:"seller_id,notnull" json:"seller_id"`
	ProductID              string              `bun:"product_id,notnull" json:"product_id"`
	StartPrice             decimal.Decimal     `bun:"start_price,notnull" json:"start_price"`
	ReservePrice           decimal.NullDecimal `bun:"reserve_price" json:"reserve_price"`
	BuyItNowPrice          decimal.NullDecimal `bun:"buy_it_now_price" json:"buy_it_now_price"`
	BidIncrement           decimal.Decimal     `bun:"bid_increment,notnull" json:"bid_increment"`
	StartTime              time.Time           `bun:"start_time,notnull" json:"start_time"`
	EndTime                time.Time           `bun:"end_time,notnull" json:"end_time"`
	CurrentHighestBid      decimal.Decimal     `bun:"current_highest_bid,notnull" json:"current_highest_bid"`
	CurrentHighestBidderID string              `bun:"current_highest_bidder_id,nullzero" json:"current_highest_bidder_id,omitempty"`
	ProxyCeiling           decimal.NullDecimal `bun:"proxy_ceiling" json:"-"`
	ExtensionCount         int                 `bun:"extension_count,notnull,default:0" json:"extension_count"`
	Status                 AuctionStatus       `bun:"status,notnull" json:"status"`
	Version                int64               `bun:"version,notnull,default:1" json:"version"`
	CreatedAt              time.Time           `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt              time.Time           `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// HasBids reports whether any bid has been accepted. A zero highest bid
// means no bid was ever accepted (start price is always positive).
func (a *Auction) HasBids() bool {
	return !a.CurrentHighestBid.IsZero()
}

// IsBiddable reports whether the auction currently accepts bids.
func (a *Auction) IsBiddable() bool {
	return a.Status == AuctionActive || a.Status == AuctionClosing
}

// MinimumNextBid returns the smallest amount the next bid must exceed:
// the start price for the first bid, current highest plus the increment after.
func (a *Auction) MinimumNextBid() decimal.Decimal {
	if !a.HasBids() {
		return a.StartPrice
	}
	return a.CurrentHighestBid.Add(a.BidIncrement)
}

// ReserveMet reports whether the reserve price (if any) has been reached.
func (a *Auction) ReserveMet() bool {
	if !a.ReservePrice.Valid {
		return true
	}
	return a.CurrentHighestBid.GreaterThanOrEqual(a.ReservePrice.Decimal)
}

type CreateAuctionRequest struct {
	ProductID     string              `json:"product_id"`
	StartPrice    decimal.Decimal     `json:"start_price"`
	ReservePrice  decimal.NullDecimal `json:"reserve_price"`
	BuyItNowPrice decimal.NullDecimal `json:"buy_it_now_price"`
	BidIncrement  decimal.Decimal     `json:"bid_increment"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       time.Time           `json:"end_time"`
}

type CancelAuctionRequest struct {
	Reason string `json:"reason"`
}

// OrderIntent is handed to the order/payment collaborator when an auction
// resolves with a buyer, either through buy-it-now or a winning bid.
type OrderIntent struct {
	AuctionID string          `json:"auction_id"`
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	BuyerID   string          `json:"buyer_id"`
	Amount    decimal.Decimal `json:"amount"`
	Kind      string          `json:"kind"` // "buy_it_now" or "auction_won"
	CreatedAt time.Time       `json:"created_at"`
}

const (
	OrderIntentBuyItNow   = "buy_it_now"
	OrderIntentAuctionWon = "auction_won"
)
