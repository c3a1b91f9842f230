package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-bidding/internal/auction/db"
	"ms-bidding/internal/models"
)

// ActivateDue flips scheduled auctions whose start time has passed to
// active and arms their close triggers. Version conflicts are skipped;
// the next sweep sees the row again if it still matters.
func (s *Service) ActivateDue(ctx context.Context) error {
	now := s.now()
	due, err := s.DB.ListDueForActivation(ctx, now)
	if err != nil {
		return fmt.Errorf("list due for activation: %w", err)
	}

	for i := range due {
		auction := &due[i]
		auction.Status = models.AuctionActive

		err := s.DB.UpdateAuctionVersioned(ctx, auction)
		if errors.Is(err, db.ErrVersionConflict) {
			continue
		}
		if err != nil {
			s.Logger.Error("AUCTION", fmt.Sprintf("failed to activate auction %s: %v", auction.ID, err))
			continue
		}

		s.Logger.LogAuction("ACTIVATE", auction.ID, fmt.Sprintf("ends=%s", auction.EndTime.Format(time.RFC3339)))

		if err := s.Cache.ScheduleClose(ctx, auction.ID, auction.EndTime.Sub(now)); err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("failed to arm close trigger for auction %s: %v", auction.ID, err))
		}
	}
	return nil
}

// SweepDueClose flips active auctions inside the anti-snipe window to
// closing, then funnels every auction past its end time into TryClose.
// This is the durable at-least-once path; the redis expiry subscriber is
// just the low-latency one. TryClose being idempotent makes the overlap
// harmless.
func (s *Service) SweepDueClose(ctx context.Context) error {
	now := s.now()

	if s.closingWindow > 0 {
		entering, err := s.DB.ListEnteringCloseWindow(ctx, now, s.closingWindow)
		if err != nil {
			return fmt.Errorf("list entering close window: %w", err)
		}
		for i := range entering {
			if _, err := s.Engine.MarkClosing(ctx, entering[i].ID); err != nil {
				s.Logger.Error("AUCTION", fmt.Sprintf("closing mark failed for auction %s: %v", entering[i].ID, err))
			}
		}
	}

	due, err := s.DB.ListDueForClose(ctx, now)
	if err != nil {
		return fmt.Errorf("list due for close: %w", err)
	}

	for i := range due {
		if _, err := s.Engine.TryClose(ctx, due[i].ID); err != nil {
			s.Logger.Error("AUCTION", fmt.Sprintf("close sweep failed for auction %s: %v", due[i].ID, err))
		}
	}
	return nil
}

// StartLifecycle runs the activation and close sweeps on their intervals
// until ctx is done.
func (s *Service) StartLifecycle(ctx context.Context, activateEvery, closeEvery time.Duration) {
	go func() {
		ticker := time.NewTicker(activateEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.ActivateDue(ctx); err != nil {
					s.Logger.Error("AUCTION", fmt.Sprintf("activation sweep failed: %v", err))
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(closeEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.SweepDueClose(ctx); err != nil {
					s.Logger.Error("AUCTION", fmt.Sprintf("close sweep failed: %v", err))
				}
			}
		}
	}()
}

// StartCloseSubscriber consumes auction IDs from the redis expiry channel
// and tries to close each one as its trigger fires.
func (s *Service) StartCloseSubscriber(ctx context.Context, triggers <-chan string) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case auctionID, ok := <-triggers:
				if !ok {
					return
				}
				closed, err := s.Engine.TryClose(ctx, auctionID)
				if err != nil {
					s.Logger.Error("AUCTION", fmt.Sprintf("close trigger failed for auction %s: %v", auctionID, err))
					continue
				}
				if closed {
					s.Logger.LogAuction("CLOSE_TRIGGER", auctionID, "closed on redis expiry trigger")
				}
			}
		}
	}()
}
