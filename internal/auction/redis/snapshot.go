package redis

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	pricePrefix = "auction_price:"
	closePrefix = "auction_close:"
)

// Redis keeps the read-side price snapshot for lock-free auction reads
// and the close-trigger keys whose expiry drives time-based closure.
type Redis struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		Client: client,
		Logger: log.Default(),
	}
}

// SetPrice caches the current highest bid for an auction. Readers hit
// this instead of the aggregate store, so GetAuction never contends with
// the bidding critical section.
func (r *Redis) SetPrice(ctx context.Context, auctionID string, amount decimal.Decimal, bidderID string) error {
	key := pricePrefix + auctionID
	return r.Client.HSet(ctx, key, "amount", amount.String(), "bidder", bidderID).Err()
}

// GetPrice returns the cached highest bid. The second return is false on
// a cache miss; callers fall back to the aggregate store.
func (r *Redis) GetPrice(ctx context.Context, auctionID string) (decimal.Decimal, string, bool, error) {
	key := pricePrefix + auctionID
	fields, err := r.Client.HGetAll(ctx, key).Result()
	if err != nil {
		return decimal.Zero, "", false, err
	}
	if len(fields) == 0 {
		return decimal.Zero, "", false, nil
	}
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return decimal.Zero, "", false, err
	}
	return amount, fields["bidder"], true, nil
}

// ClearPrice drops the snapshot for a finished auction.
func (r *Redis) ClearPrice(ctx context.Context, auctionID string) error {
	return r.Client.Del(ctx, pricePrefix+auctionID).Err()
}

// ScheduleClose arms the close trigger: a key whose TTL runs out at the
// auction end time. The keyspace expiry notification wakes the closer.
// Anti-snipe extensions simply rewrite the key with a longer TTL.
func (r *Redis) ScheduleClose(ctx context.Context, auctionID string, in time.Duration) error {
	if in < time.Second {
		in = time.Second
	}
	return r.Client.Set(ctx, closePrefix+auctionID, auctionID, in).Err()
}

// ClearClose disarms the trigger, e.g. after the auction closed through
// buy-it-now or was cancelled.
func (r *Redis) ClearClose(ctx context.Context, auctionID string) error {
	return r.Client.Del(ctx, closePrefix+auctionID).Err()
}

// SubscribeCloseEvents watches redis key expiry notifications and emits
// the auction ID whenever a close trigger fires. Delivery is best effort;
// the DB sweep backstops missed notifications.
func (r *Redis) SubscribeCloseEvents(ctx context.Context) <-chan string {
	val, err := r.Client.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		r.Logger.Printf("REDIS: failed to get keyspace config: %v", err)
	} else if len(val) >= 2 {
		setting, _ := val[1].(string)
		if !strings.Contains(setting, "x") || !strings.Contains(setting, "E") {
			r.Logger.Println("REDIS: keyspace notifications not configured for expiry events!")
		}
	}

	pubsub := r.Client.PSubscribe(ctx, "__keyevent@0__:expired")
	out := make(chan string)

	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				if strings.HasPrefix(msg.Payload, closePrefix) {
					out <- strings.TrimPrefix(msg.Payload, closePrefix)
				}
			}
		}
	}()

	return out
}
