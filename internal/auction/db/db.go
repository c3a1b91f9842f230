package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-bidding/internal/models"

	"github.com/uptrace/bun"
)

var (
	// ErrAuctionNotFound is returned when no auction row matches the ID.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrVersionConflict is returned when a versioned update matched zero
	// rows: another writer moved the aggregate first.
	ErrVersionConflict = errors.New("auction version conflict")
)

type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// ---------------- AUCTION AGGREGATE ----------------

// CreateAuction → insert a new auction aggregate at version 1
func (d *DB) CreateAuction(ctx context.Context, auction *models.Auction) error {
	auction.Version = 1
	auction.CreatedAt = time.Now()
	_, err := d.Bun.NewInsert().Model(auction).Exec(ctx)
	return err
}

// GetAuctionByID → fetch one auction by its ID
func (d *DB) GetAuctionByID(ctx context.Context, id string) (*models.Auction, error) {
	var auction models.Auction
	err := d.Bun.NewSelect().
		Model(&auction).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

// UpdateAuctionVersioned writes the aggregate back guarded by the version
// it was read at. Zero rows affected means another writer got there first
// and the caller must re-read and retry. On success the in-memory version
// is advanced to match the row.
func (d *DB) UpdateAuctionVersioned(ctx context.Context, auction *models.Auction) error {
	auction.UpdatedAt = time.Now()
	res, err := d.Bun.NewUpdate().
		Model(auction).
		Column("current_highest_bid", "current_highest_bidder_id", "proxy_ceiling",
			"end_time", "extension_count", "status", "updated_at").
		Set("version = version + 1").
		Where("id = ?", auction.ID).
		Where("version = ?", auction.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	auction.Version++
	return nil
}

// ---------------- BID LEDGER ----------------

// AppendBid → append one bid attempt to the ledger. Rows are never updated.
func (d *DB) AppendBid(ctx context.Context, bid *models.Bid) error {
	_, err := d.Bun.NewInsert().Model(bid).Exec(ctx)
	if err != nil {
		return fmt.Errorf("append bid %s: %w", bid.ID, err)
	}
	return nil
}

// GetBidsByAuction → the full ledger for one auction in placement order
func (d *DB) GetBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	var bids []models.Bid
	err := d.Bun.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		Order("placed_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bids, nil
}

// GetAcceptedBidsByAuction → only the bids that moved the price
func (d *DB) GetAcceptedBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	var bids []models.Bid
	err := d.Bun.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		Where("accepted = ?", true).
		Order("placed_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bids, nil
}

// ---------------- LIFECYCLE QUERIES ----------------

// ListDueForActivation → scheduled auctions whose start time has passed
func (d *DB) ListDueForActivation(ctx context.Context, now time.Time) ([]models.Auction, error) {
	var auctions []models.Auction
	err := d.Bun.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionScheduled).
		Where("start_time <= ?", now).
		Order("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return auctions, nil
}

// ListEnteringCloseWindow → active auctions already inside the closing
// window but not yet past their end time. The sweep flips these to the
// closing status.
func (d *DB) ListEnteringCloseWindow(ctx context.Context, now time.Time, window time.Duration) ([]models.Auction, error) {
	var auctions []models.Auction
	err := d.Bun.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionActive).
		Where("end_time > ?", now).
		Where("end_time <= ?", now.Add(window)).
		Order("end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return auctions, nil
}

// ListDueForClose → biddable auctions whose end time has passed. The same
// auction may show up in successive sweeps until TryClose lands; closure
// is idempotent so that is harmless.
func (d *DB) ListDueForClose(ctx context.Context, now time.Time) ([]models.Auction, error) {
	var auctions []models.Auction
	err := d.Bun.NewSelect().
		Model(&auctions).
		Where("status IN (?)", bun.In([]models.AuctionStatus{models.AuctionActive, models.AuctionClosing})).
		Where("end_time <= ?", now).
		Order("end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return auctions, nil
}

// ListClosedUnsettled → closed auctions that still owe the order
// collaborator a settlement intent. Feeds the reconciler.
func (d *DB) ListClosedUnsettled(ctx context.Context) ([]models.Auction, error) {
	var auctions []models.Auction
	err := d.Bun.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionClosed).
		Order("end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return auctions, nil
}

// MarkSettled moves a closed auction to settled. Guarded on the closed
// status so a duplicate acknowledgement is a no-op.
func (d *DB) MarkSettled(ctx context.Context, auctionID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionSettled).
		Set("updated_at = ?", time.Now()).
		Set("version = version + 1").
		Where("id = ?", auctionID).
		Where("status = ?", models.AuctionClosed).
		Exec(ctx)
	return err
}
