package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tavernfall/loreweave-backend/internal/platform/envutil"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
)

// Bus publishes note lifecycle transitions over Redis pub/sub so
// presentation layers can subscribe out of process. Without REDIS_ADDR every
// publish is a no-op; the pipeline never depends on delivery.
type Bus struct {
	rdb *redis.Client
	log *logger.Logger
}

type NoteEvent struct {
	NoteID string `json:"noteId"`
	Kind   string `json:"kind"` // "processing", "qdrant_sync", "graph_sync"
	Status string `json:"status"`
	At     string `json:"at"`
}

func NewBusFromEnv(baseLog *logger.Logger) *Bus {
	b := &Bus{log: baseLog.With("component", "EventBus")}
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		b.log.Info("REDIS_ADDR unset, note events disabled")
		return b
	}
	b.rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})
	return b
}

func channelFor(campaignID uuid.UUID) string {
	return "loreweave:campaign:" + campaignID.String() + ":notes"
}

func (b *Bus) PublishNoteEvent(ctx context.Context, campaignID, noteID uuid.UUID, kind, status string) {
	if b == nil || b.rdb == nil {
		return
	}
	payload, err := json.Marshal(NoteEvent{
		NoteID: noteID.String(),
		Kind:   kind,
		Status: status,
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, channelFor(campaignID), payload).Err(); err != nil {
		b.log.Warn("note event publish failed", "campaign_id", campaignID, "error", err)
	}
}

// Subscribe returns a channel of raw event payloads for one campaign. The
// caller cancels ctx to stop. Returns nil when the bus is disabled.
func (b *Bus) Subscribe(ctx context.Context, campaignID uuid.UUID) <-chan []byte {
	if b == nil || b.rdb == nil {
		return nil
	}
	sub := b.rdb.Subscribe(ctx, channelFor(campaignID))
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// Slow consumer; drop rather than block the bus.
				}
			}
		}
	}()
	return out
}

func (b *Bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
