package healthlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"auction-batch/internal/models"
)

// RedisLog keeps one Redis list per run date; RPUSH is atomic per record.
type RedisLog struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewRedisLog builds a log; a zero retention keeps lists forever.
func NewRedisLog(client *redis.Client, retention time.Duration) *RedisLog {
	return &RedisLog{
		client:    client,
		keyPrefix: "batch:health:",
		retention: retention,
	}
}

// Close releases the underlying client.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

func (l *RedisLog) key(runDate string) string {
	return l.keyPrefix + runDate
}

func (l *RedisLog) Append(ctx context.Context, rec models.HealthRecord) error {
	if rec.RunDate == "" {
		return errors.New("health record has no run_date")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal health record: %w", err)
	}
	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, l.key(rec.RunDate), b)
	if l.retention > 0 {
		pipe.Expire(ctx, l.key(rec.RunDate), l.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append health record: %w", err)
	}
	return nil
}

func (l *RedisLog) Records(ctx context.Context, runDate string) ([]models.HealthRecord, error) {
	raw, err := l.client.LRange(ctx, l.key(runDate), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read health log: %w", err)
	}
	out := make([]models.HealthRecord, 0, len(raw))
	for i, s := range raw {
		var rec models.HealthRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return out, fmt.Errorf("decode health record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
