package sse

import (
	"context"
	"sync"

	"ms-bidding/internal/models"
)

// BidEventEmitter manages SSE connections and fan-out of accepted bids
// to everyone watching an auction.
type BidEventEmitter struct {
	// Auction channel clients map - key: auctionID, value: slice of client channels
	auctionClients map[string][]chan models.BidAcceptedEvent
	clientMutex    sync.RWMutex
}

// NewBidEventEmitter creates a new SSE event emitter for bid events
func NewBidEventEmitter() *BidEventEmitter {
	return &BidEventEmitter{
		auctionClients: make(map[string][]chan models.BidAcceptedEvent),
	}
}

// Subscribe adds a client to one auction's bid stream
func (e *BidEventEmitter) Subscribe(ctx context.Context, auctionID string) chan models.BidAcceptedEvent {
	clientChan := make(chan models.BidAcceptedEvent, 10)

	e.clientMutex.Lock()
	if e.auctionClients[auctionID] == nil {
		e.auctionClients[auctionID] = []chan models.BidAcceptedEvent{}
	}
	e.auctionClients[auctionID] = append(e.auctionClients[auctionID], clientChan)
	e.clientMutex.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeClient(auctionID, clientChan)
	}()

	return clientChan
}

// EmitBid broadcasts an accepted bid to all subscribed clients
func (e *BidEventEmitter) EmitBid(event models.BidAcceptedEvent) {
	e.clientMutex.RLock()
	clients := e.auctionClients[event.AuctionID]
	e.clientMutex.RUnlock()

	for _, clientChan := range clients {
		// Non-blocking send to avoid slowing down the emitter if a
		// client is slow
		select {
		case clientChan <- event:
		default:
		}
	}
}

func (e *BidEventEmitter) removeClient(auctionID string, clientChan chan models.BidAcceptedEvent) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	clients := e.auctionClients[auctionID]
	for i, ch := range clients {
		if ch == clientChan {
			e.auctionClients[auctionID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.auctionClients[auctionID]) == 0 {
		delete(e.auctionClients, auctionID)
	}
}
