package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome kinds reported when an auction closes.
const (
	OutcomeWon    = "won"
	OutcomeUnsold = "unsold"
)

// Unsold reasons.
const (
	UnsoldNoBids        = "no_bids"
	UnsoldReserveNotMet = "reserve_not_met"
)

// AuctionOutcome is the final resolution of one auction, computed exactly
// once when the auction closes.
type AuctionOutcome struct {
	Kind     string          `json:"kind"`
	WinnerID string          `json:"winner_id,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason,omitempty"`
}

func (o AuctionOutcome) Won() bool { return o.Kind == OutcomeWon }

// AuctionExtendedEvent is published when anti-sniping pushes the end time.
type AuctionExtendedEvent struct {
	AuctionID      string    `json:"auction_id"`
	NewEndTime     time.Time `json:"new_end_time"`
	ExtensionCount int       `json:"extension_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// AuctionClosedEvent is published once per auction when it closes; the
// order/payment collaborator consumes it to create an order, the
// notification collaborator to inform seller and bidders.
type AuctionClosedEvent struct {
	AuctionID string         `json:"auction_id"`
	Outcome   AuctionOutcome `json:"outcome"`
	Timestamp time.Time      `json:"timestamp"`
}

// BidOutbidEvent is published when an accepted bid displaces the previous
// highest bidder.
type BidOutbidEvent struct {
	AuctionID        string          `json:"auction_id"`
	PreviousBidderID string          `json:"previous_bidder_id"`
	NewHighestBid    decimal.Decimal `json:"new_highest_bid"`
	Timestamp        time.Time       `json:"timestamp"`
}

// BidAcceptedEvent feeds the live bid stream for one auction.
type BidAcceptedEvent struct {
	EventID   string          `json:"event_id"`
	AuctionID string          `json:"auction_id"`
	BidID     string          `json:"bid_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	IsProxy   bool            `json:"is_proxy"`
	Timestamp time.Time       `json:"timestamp"`
}

// SettlementIntent is delivered to the order/payment collaborator for a
// won auction. The auction stays closed until the collaborator acknowledges.
type SettlementIntent struct {
	IntentID  string      `json:"intent_id"`
	AuctionID string      `json:"auction_id"`
	Order     OrderIntent `json:"order"`
	Attempt   int         `json:"attempt"`
	Timestamp time.Time   `json:"timestamp"`
}

// SettlementResult is the collaborator's acknowledgement. Success moves the
// auction to settled; failure leaves it closed for the reconciler to retry.
type SettlementResult struct {
	AuctionID string    `json:"auction_id"`
	IntentID  string    `json:"intent_id"`
	Success   bool      `json:"success"`
	Reference string    `json:"reference,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
