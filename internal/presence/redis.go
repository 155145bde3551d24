package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Directory shares presence records between API instances. Each instance
// still sweeps its own connections; the directory answers List for all of them.
type Directory interface {
	Put(ctx context.Context, rec Record) error
	Remove(ctx context.Context, documentID, userID string) error
	List(ctx context.Context, documentID string) ([]Record, error)
}

// RedisDirectory keeps one key per record, expiring after ttl without a
// heartbeat, plus a member set per document to enumerate them.
type RedisDirectory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisDirectory(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisDirectory{client: client, prefix: "presence:", ttl: ttl, logger: logger}
}

func (d *RedisDirectory) membersKey(documentID string) string {
	return d.prefix + documentID
}

func (d *RedisDirectory) recordKey(documentID, userID string) string {
	return d.prefix + documentID + ":" + userID
}

func (d *RedisDirectory) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, d.recordKey(rec.DocumentID, rec.UserID), data, d.ttl)
	pipe.SAdd(ctx, d.membersKey(rec.DocumentID), rec.UserID)
	pipe.Expire(ctx, d.membersKey(rec.DocumentID), 2*d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put presence: %w", err)
	}
	return nil
}

func (d *RedisDirectory) Remove(ctx context.Context, documentID, userID string) error {
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, d.recordKey(documentID, userID))
	pipe.SRem(ctx, d.membersKey(documentID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

// List returns live records ordered like Tracker.List. Members whose record
// key has expired are pruned from the set.
func (d *RedisDirectory) List(ctx context.Context, documentID string) ([]Record, error) {
	members, err := d.client.SMembers(ctx, d.membersKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	out := make([]Record, 0, len(members))
	if len(members) == 0 {
		return out, nil
	}
	keys := make([]string, len(members))
	for i, userID := range members {
		keys[i] = d.recordKey(documentID, userID)
	}
	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence: %w", err)
	}

	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, members[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			d.logger.Warn("drop malformed presence", "document_id", documentID, "user_id", members[i], "error", err)
			continue
		}
		out = append(out, rec)
	}
	if len(expired) > 0 {
		if err := d.client.SRem(ctx, d.membersKey(documentID), expired...).Err(); err != nil {
			d.logger.Warn("prune presence", "document_id", documentID, "error", err)
		}
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(recs []Record) {
	slices.SortFunc(recs, func(a, b Record) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
}
