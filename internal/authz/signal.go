package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel is the pub/sub channel carrying invalidation
// events between processes.
const DefaultInvalidationChannel = "authz:invalidations"

// Event is an invalidation signal. Exactly one form is populated: a targeted
// (user, dealer) pair, or a role ID that fans out to every assigned user.
type Event struct {
	ID       string    `json:"id"`
	RoleID   int64     `json:"role_id,omitempty"`
	UserID   int64     `json:"user_id,omitempty"`
	DealerID int64     `json:"dealer_id,omitempty"`
	At       time.Time `json:"at"`
}

// RoleEvent builds a role-scoped invalidation.
func RoleEvent(roleID int64) Event {
	return Event{ID: uuid.NewString(), RoleID: roleID, At: time.Now().UTC()}
}

// UserEvent builds a targeted (user, dealer) invalidation.
func UserEvent(userID, dealerID int64) Event {
	return Event{ID: uuid.NewString(), UserID: userID, DealerID: dealerID, At: time.Now().UTC()}
}

// Bus distributes invalidation events. Publish applies the event to the local
// cache before broadcasting, so the writer's own process observes the
// invalidation synchronously regardless of broker latency; other processes
// pick it up from the subscription.
type Bus struct {
	cache   *Cache
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBus constructs a Bus. rdb may be nil for single-process deployments.
func NewBus(cache *Cache, rdb *redis.Client, channel string, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{cache: cache, rdb: rdb, channel: channel, logger: logger}
}

// Publish applies the event locally and broadcasts it. Management writers
// must call this before reporting a configuration write as successful.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if err := b.apply(ctx, event); err != nil {
		return err
	}
	if b.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("authz: encode invalidation: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("authz: publish invalidation: %w", err)
	}
	return nil
}

func (b *Bus) apply(ctx context.Context, event Event) error {
	if event.RoleID != 0 {
		return b.cache.InvalidateRole(ctx, event.RoleID)
	}
	b.cache.Invalidate(ctx, event.UserID, event.DealerID)
	return nil
}

// Subscribe consumes remote invalidation events until the context is
// cancelled. Intended to run in its own goroutine per process.
func (b *Bus) Subscribe(ctx context.Context) {
	if b.rdb == nil {
		return
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.Warn("authz invalidation unsubscribe", slog.Any("error", err))
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error("authz invalidation decode", slog.Any("error", err))
				continue
			}
			if err := b.apply(ctx, event); err != nil {
				b.logger.Error("authz invalidation apply",
					slog.String("event_id", event.ID),
					slog.Int64("role_id", event.RoleID),
					slog.Any("error", err))
			}
		}
	}
}
