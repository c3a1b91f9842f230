package auction_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-bidding/internal/auth"
	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"
	"ms-bidding/internal/sse"

	"github.com/go-chi/chi/v5"
)

// SSEHandler streams accepted-bid events to watchers of a live auction.
type SSEHandler struct {
	Logger       *logger.Logger
	EventEmitter *sse.BidEventEmitter
}

func NewSSEHandler(log *logger.Logger, emitter *sse.BidEventEmitter) *SSEHandler {
	return &SSEHandler{
		Logger:       log,
		EventEmitter: emitter,
	}
}

// HandleLiveBids streams bid events for a specific auction until the
// client disconnects.
func (h *SSEHandler) HandleLiveBids(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionId")
	if auctionID == "" {
		http.Error(w, "Auction ID is required", http.StatusBadRequest)
		return
	}

	h.setupSSEHeaders(w)

	ctx := r.Context()
	eventChan := h.EventEmitter.Subscribe(ctx, auctionID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"auctionId\":\"%s\"}\n\n", auctionID)
	w.(http.Flusher).Flush()

	// The stream is public; the watcher identity is only for the logs.
	watcher := "anonymous"
	if token, err := auth.ExtractTokenFromRequest(r); err == nil {
		if userID, err := auth.ExtractUserIDFromJWT(token); err == nil {
			watcher = userID
		}
	}
	h.Logger.Info("SSE", fmt.Sprintf("Client %s connected to live bids for auction: %s", watcher, auctionID))

	for {
		select {
		case bid, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for auction: %s", auctionID))
				return
			}

			jsonData, err := json.Marshal(bid)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize bid event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: bid\ndata: %s\n\n", jsonData)
			w.(http.Flusher).Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from live bids for auction: %s", auctionID))
			return
		}
	}
}

// EmitBidEvent broadcasts an accepted bid to all subscribed watchers.
func (h *SSEHandler) EmitBidEvent(event models.BidAcceptedEvent) {
	h.EventEmitter.EmitBid(event)
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
