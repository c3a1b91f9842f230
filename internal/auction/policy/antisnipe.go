package policy

import (
	"time"

	"ms-bidding/internal/models"
)

// AntiSnipe decides whether a late bid pushes the auction end time out.
// It is a pure function of auction state and the bid timestamp.
type AntiSnipe struct {
	// Window is the trailing stretch before the end time in which a bid
	// counts as late.
	Window time.Duration
	// Extension is how long past the late bid's timestamp the new end
	// time lands.
	Extension time.Duration
	// MaxExtensions caps how many times one auction can be extended.
	// Late bids past the cap are still accepted, they just stop moving
	// the end time.
	MaxExtensions int
}

// ExtensionDecision is the outcome of evaluating one bid against the policy.
type ExtensionDecision struct {
	Extend     bool
	NewEndTime time.Time
}

// Evaluate checks whether a bid placed at bidPlacedAt extends the auction.
func (p AntiSnipe) Evaluate(auction *models.Auction, bidPlacedAt time.Time) ExtensionDecision {
	if p.Window <= 0 || p.Extension <= 0 {
		return ExtensionDecision{}
	}
	if auction.ExtensionCount >= p.MaxExtensions {
		return ExtensionDecision{}
	}
	if bidPlacedAt.Before(auction.EndTime.Add(-p.Window)) {
		return ExtensionDecision{}
	}
	newEnd := bidPlacedAt.Add(p.Extension)
	if !newEnd.After(auction.EndTime) {
		// The bid landed early enough in the window that the push would
		// not move the end time at all.
		return ExtensionDecision{}
	}
	return ExtensionDecision{
		Extend:     true,
		NewEndTime: newEnd,
	}
}

// InClosingWindow reports whether now falls inside the anti-snipe window,
// which is when an active auction is flagged as closing.
func (p AntiSnipe) InClosingWindow(auction *models.Auction, now time.Time) bool {
	if p.Window <= 0 {
		return false
	}
	return !now.Before(auction.EndTime.Add(-p.Window)) && now.Before(auction.EndTime)
}
