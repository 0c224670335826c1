package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record marks an event id as fully applied to the projection store. Its
// presence is the dedupe signal; its absence only means this consumer has
// not finished applying the event, not that no other instance is mid-apply.
type Record struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RedisLedger stores dedupe records under a TTL so Redis purges markers
// once the bus's redelivery window has safely passed.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb, prefix: "dedupe:"}
}

// Get returns the record for an event id, or nil when none exists.
func (l *RedisLedger) Get(ctx context.Context, eventID string) (*Record, error) {
	raw, err := l.rdb.Get(ctx, l.prefix+eventID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put writes the record with the given TTL. Rewriting an existing id is an
// overwrite of the same marker, not an error.
func (l *RedisLedger) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.rdb.Set(ctx, l.prefix+rec.EventID, raw, ttl).Err()
}
