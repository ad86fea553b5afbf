package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "job_progress:"

func channelFor(jobID uuid.UUID) string {
	return channelPrefix + jobID.String()
}

// Bus publishes progress events on Redis so a worker process and an
// API process, each with their own in-memory Hub, stay in sync. It is
// deliberately a separate dependency from the asynq queue's own Redis
// connection even though both point at the same instance — losing a
// progress event is tolerable (clients fall back to polling the job's
// REST resource), so a plain pub/sub channel is preferable to standing
// up a durable broker just for this.
type Bus struct {
	client *redis.Client
	hub    *Hub
}

func NewBus(addr string, hub *Hub) *Bus {
	return &Bus{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		hub:    hub,
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return b.client.Publish(ctx, channelFor(e.JobID), data).Err()
}

// Listen subscribes to every job_progress:* channel and forwards
// decoded events into the local Hub until ctx is cancelled. Run it
// once per process that serves WebSocket clients.
func (b *Bus) Listen(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				log.Printf("progress: malformed event on %s: %v", msg.Channel, err)
				continue
			}
			b.hub.Publish(e)
		}
	}
}

func (b *Bus) Close() error {
	return b.client.Close()
}
