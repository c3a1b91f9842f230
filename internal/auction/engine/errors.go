package engine

import "fmt"

// StateError marks an operation that is invalid for the auction's current
// status. It is reported to the caller and never retried.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid auction state: %s", e.Reason)
}

// ValidationError marks a request that fails the bidding rules outright.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

var (
	ErrAuctionClosed     = &StateError{Reason: "auction_closed"}
	ErrNotActive         = &StateError{Reason: "auction_not_active"}
	ErrHasBids           = &StateError{Reason: "auction_has_bids"}
	ErrBuyNowUnavailable = &ValidationError{Reason: "buy_now_unavailable"}
	ErrSellerOwnAuction  = &ValidationError{Reason: "seller_own_auction"}
	ErrNotSeller         = &ValidationError{Reason: "actor_not_seller"}
)
