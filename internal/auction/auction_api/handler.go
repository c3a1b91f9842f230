package auction_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-bidding/internal/auction"
	"ms-bidding/internal/auction/db"
	"ms-bidding/internal/auction/engine"
	"ms-bidding/internal/auth"
	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"
	"ms-bidding/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *auction.Service
	Logger  *logger.Logger
}

func NewHandler(service *auction.Service, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  log,
	}
}

// Routes mounts the auction surface on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.CreateAuction)
	r.Get("/{auctionId}", h.GetAuction)
	r.Delete("/{auctionId}", h.CancelAuction)
	r.Post("/{auctionId}/bids", h.PlaceBid)
	r.Get("/{auctionId}/bids", h.GetBids)
	r.Post("/{auctionId}/buy-now", h.BuyItNow)
}

func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateAuction: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.Service.CreateAuction(r.Context(), sellerID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateAuction: %v", err))
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Could not create auction", err.Error()))
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateAuction: created auction %s for seller %s", created.ID, sellerID))
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("Auction created", created))
}

func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionId")

	auctionData, err := h.Service.GetAuction(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, db.ErrAuctionNotFound) {
			http.Error(w, "Auction not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetAuction: %v", err))
		http.Error(w, "Could not load auction", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, auctionData)
}

func (h *Handler) GetBids(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionId")

	bids, err := h.Service.GetBids(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, db.ErrAuctionNotFound) {
			http.Error(w, "Auction not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetBids: %v", err))
		http.Error(w, "Could not load bids", http.StatusInternalServerError)
		return
	}

	if bids == nil {
		bids = []models.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionId")

	bidderID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("PlaceBid: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Service.PlaceBid(r.Context(), auctionID, bidderID, req)
	if err != nil {
		if errors.Is(err, db.ErrAuctionNotFound) {
			http.Error(w, "Auction not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// The bid never entered the critical section; safe to retry.
			http.Error(w, "Auction busy, retry", http.StatusServiceUnavailable)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("PlaceBid: %v", err))
		http.Error(w, "Could not place bid", http.StatusInternalServerError)
		return
	}

	if !result.Accepted {
		writeJSON(w, http.StatusConflict, utils.RejectedResponse("Bid rejected: "+result.RejectReason, result))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Bid accepted", result))
}

func (h *Handler) BuyItNow(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionId")

	buyerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	intent, err := h.Service.BuyItNow(r.Context(), auctionID, buyerID)
	if err != nil {
		if errors.Is(err, db.ErrAuctionNotFound) {
			http.Error(w, "Auction not found", http.StatusNotFound)
			return
		}
		var stateErr *engine.StateError
		var valErr *engine.ValidationError
		if errors.As(err, &stateErr) || errors.As(err, &valErr) {
			writeJSON(w, http.StatusConflict, utils.ErrorResponse("Buy it now unavailable", err.Error()))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("BuyItNow: %v", err))
		http.Error(w, "Could not complete purchase", http.StatusInternalServerError)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("BuyItNow: auction %s bought by %s", auctionID, buyerID))
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Purchase accepted", intent))
}

func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionId")

	actorID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	isAdmin := auth.IsAdminFromContext(r.Context())

	var req models.CancelAuctionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	err := h.Service.CancelAuction(r.Context(), auctionID, actorID, isAdmin, req.Reason)
	if err != nil {
		if errors.Is(err, db.ErrAuctionNotFound) {
			http.Error(w, "Auction not found", http.StatusNotFound)
			return
		}
		var stateErr *engine.StateError
		var valErr *engine.ValidationError
		if errors.As(err, &stateErr) {
			writeJSON(w, http.StatusConflict, utils.ErrorResponse("Could not cancel auction", err.Error()))
			return
		}
		if errors.As(err, &valErr) {
			writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Could not cancel auction", err.Error()))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("CancelAuction: %v", err))
		http.Error(w, "Could not cancel auction", http.StatusInternalServerError)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CancelAuction: auction %s cancelled by %s", auctionID, actorID))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
