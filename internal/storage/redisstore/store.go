package redisstore

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/driftq/driftq/internal/storage"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Store is a storage.Store backed by Redis.
//
// Sorted-set scores are Redis doubles; indexes above 2^53 lose precision.
// Journals this large are out of reach long before that bound matters.
type Store struct {
	rdb  redis.UniversalClient
	owns bool
}

var _ storage.Store = (*Store)(nil)

// Open connects to Redis with the given options.
func Open(opts Options) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Store{rdb: rdb, owns: true}
}

// NewWithClient wraps an existing client. Close leaves the client open.
func NewWithClient(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Close releases the connection when the store owns it.
func (s *Store) Close() error {
	if !s.owns {
		return nil
	}
	return s.rdb.Close()
}

func scoreArg(v uint64) string { return strconv.FormatUint(v, 10) }

func (s *Store) RangeByScore(ctx context.Context, key string, lo, hi uint64) ([][]byte, error) {
	if hi < lo {
		return nil, nil
	}
	vals, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: scoreArg(lo),
		Max: scoreArg(hi),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *Store) Card(ctx context.Context, key string) (uint64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *Store) Add(ctx context.Context, key string, score uint64, value []byte) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: value}).Err()
}

func (s *Store) Remove(ctx context.Context, key string, score uint64, value []byte) error {
	return s.rdb.ZRem(ctx, key, value).Err()
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a Redis pub/sub subscription. Messages are pumped onto
// the returned subscription's channel until Close is called.
func (s *Store) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	// Force the subscription onto the wire before the caller's first read.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &subscription{ps: ps, ch: make(chan storage.Message, 128)}
	go sub.pump()
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	ch   chan storage.Message
	once sync.Once
}

func (s *subscription) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		// A full queue means the reader already has wakeups pending; the
		// engine collapses notifications, so dropping here is safe.
		select {
		case s.ch <- storage.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		default:
		}
	}
}

func (s *subscription) Messages() <-chan storage.Message { return s.ch }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
