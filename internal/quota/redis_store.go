package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding quota state.
const DefaultRedisKey = "tracker:quota"

const (
	fieldDailyUsed   = "daily_used"
	fieldHourlyUsed  = "hourly_used"
	fieldDailyStart  = "daily_start"
	fieldHourlyStart = "hourly_start"
)

// RedisStore keeps quota state in a single Redis hash.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore wraps client. An empty key uses DefaultRedisKey.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// NewRedisStoreFromURL parses a redis:// URL and returns a store plus the
// client, which the caller must close.
func NewRedisStoreFromURL(url, key string) (*RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisStore(client, key), client, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (State, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return State{}, false, fmt.Errorf("load quota state: %w", err)
	}
	if len(fields) == 0 {
		return State{}, false, nil
	}
	st, err := stateFromFields(fields)
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, st State) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, stateToFields(st))
	// Nothing older than a day is meaningful.
	pipe.Expire(ctx, s.key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	return nil
}

func stateToFields(st State) map[string]any {
	return map[string]any{
		fieldDailyUsed:   st.DailyUsed,
		fieldHourlyUsed:  st.HourlyUsed,
		fieldDailyStart:  st.DailyStart.UTC().Format(time.RFC3339Nano),
		fieldHourlyStart: st.HourlyStart.UTC().Format(time.RFC3339Nano),
	}
}

func stateFromFields(fields map[string]string) (State, error) {
	var (
		st  State
		err error
	)
	if st.DailyUsed, err = strconv.Atoi(fields[fieldDailyUsed]); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", fieldDailyUsed, err)
	}
	if st.HourlyUsed, err = strconv.Atoi(fields[fieldHourlyUsed]); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", fieldHourlyUsed, err)
	}
	if st.DailyStart, err = time.Parse(time.RFC3339Nano, fields[fieldDailyStart]); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", fieldDailyStart, err)
	}
	if st.HourlyStart, err = time.Parse(time.RFC3339Nano, fields[fieldHourlyStart]); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", fieldHourlyStart, err)
	}
	return st, nil
}
