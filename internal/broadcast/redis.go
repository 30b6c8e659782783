package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// RedisHub relays events through Redis pub/sub so viewers connected to any
// instance see every seat change. Subscriptions stay local; Run forwards
// what arrives from Redis into the local hub.
type RedisHub struct {
	Client *redis.Client
	Local  *MemoryHub
	Prefix string
}

func NewRedisHub(client *redis.Client, local *MemoryHub) *RedisHub {
	return &RedisHub{Client: client, Local: local, Prefix: "seats:trip:"}
}

func (h *RedisHub) Subscribe(tripID int64) <-chan Event {
	return h.Local.Subscribe(tripID)
}

func (h *RedisHub) Unsubscribe(tripID int64, ch <-chan Event) {
	h.Local.Unsubscribe(tripID, ch)
}

// Publish falls back to local delivery when Redis is unreachable.
func (h *RedisHub) Publish(tripID int64, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[BROADCAST] marshal event trip=%d: %v", tripID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.Client.Publish(ctx, h.channel(tripID), payload).Err(); err != nil {
		log.Printf("[BROADCAST] redis publish trip=%d failed, delivering locally: %v", tripID, err)
		h.Local.Publish(tripID, ev)
	}
}

func (h *RedisHub) channel(tripID int64) string {
	return h.Prefix + strconv.FormatInt(tripID, 10)
}

// Run blocks until ctx is done or the subscription ends.
func (h *RedisHub) Run(ctx context.Context) error {
	ps := h.Client.PSubscribe(ctx, h.Prefix+"*")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[BROADCAST] bad payload on %s: %v", msg.Channel, err)
				continue
			}
			h.Local.Publish(ev.TripID, ev)
		}
	}
}
