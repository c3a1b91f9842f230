package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Bid is one attempt to raise the price. Rows are append-only: rejected
// attempts are recorded alongside accepted ones and never mutated.
type Bid struct {
	bun.BaseModel `bun:"table:bids"`

	ID           string          `bun:"id,pk" json:"id"`
	AuctionID    string          `bun:"auction_id,notnull" json:"auction_id"`
	BidderID     string          `bun:"bidder_id,notnull" json:"bidder_id"`
	Amount       decimal.Decimal `bun:"amount,notnull" json:"amount"`
	PlacedAt     time.Time       `bun:"placed_at,notnull" json:"placed_at"`
	Accepted     bool            `bun:"accepted,notnull" json:"accepted"`
	RejectReason string          `bun:"reject_reason,nullzero" json:"reject_reason,omitempty"`
	IsBuyItNow   bool            `bun:"is_buy_it_now,notnull,default:false" json:"is_buy_it_now"`
	IsProxy      bool            `bun:"is_proxy,notnull,default:false" json:"is_proxy"`
}

// Reject reasons recorded in the ledger and returned in BidResult.
const (
	RejectAmountTooLow      = "amount_too_low"
	RejectNotBiddable       = "auction_not_biddable"
	RejectSellerOwnAuction  = "seller_own_auction"
	RejectAuctionClosed     = "auction_closed"
	RejectBuyNowUnavailable = "buy_now_unavailable"
)

type BidRequest struct {
	Amount         decimal.Decimal     `json:"amount"`
	MaxProxyAmount decimal.NullDecimal `json:"max_proxy_amount"`
}

// BidResult reports the outcome of a bid attempt. Expected validation
// failures land here as RejectReason rather than as errors.
type BidResult struct {
	Accepted           bool            `json:"accepted"`
	BidID              string          `json:"bid_id,omitempty"`
	NewHighestBid      decimal.Decimal `json:"new_highest_bid"`
	NewHighestBidderID string          `json:"new_highest_bidder_id,omitempty"`
	YouAreHighest      bool            `json:"you_are_highest"`
	RejectReason       string          `json:"reject_reason,omitempty"`
	MinimumNextBid     decimal.Decimal `json:"minimum_next_bid"`
	ExtendedUntil      *time.Time      `json:"extended_until,omitempty"`
	ExtensionCount     int             `json:"extension_count"`
}
