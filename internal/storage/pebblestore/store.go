package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/cockroachdb/pebble"

	"github.com/driftq/driftq/internal/storage"
)

// Options configures the embedded store.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// SyncWrites requests a WAL fsync on each write.
	SyncWrites bool
	// PebbleOptions allows advanced tuning. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// Store is an embedded storage.Store backed by Pebble.
type Store struct {
	db       *pebble.DB
	writeOpt *pebble.WriteOptions
	bus      *bus
}

var _ storage.Store = (*Store)(nil)

// Open creates or opens the embedded store at opts.DataDir.
func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblestore: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	wo := pebble.NoSync
	if opts.SyncWrites {
		wo = pebble.Sync
	}
	return &Store{db: db, writeOpt: wo, bus: newBus()}, nil
}

// Close closes the notifier and the underlying database.
func (s *Store) Close() error {
	s.bus.close()
	return s.db.Close()
}

var (
	setPrefix = []byte("z/")
	sep       = byte('/')
)

func entryPrefix(set string) []byte {
	k := make([]byte, 0, len(setPrefix)+len(set)+1)
	k = append(k, setPrefix...)
	k = append(k, set...)
	k = append(k, sep)
	return k
}

func entryKey(set string, score uint64, member []byte) []byte {
	k := entryPrefix(set)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], score)
	k = append(k, b[:]...)
	k = append(k, sep)
	return append(k, member...)
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) RangeByScore(ctx context.Context, key string, lo, hi uint64) ([][]byte, error) {
	if hi < lo {
		return nil, nil
	}
	prefix := entryPrefix(key)
	lower := entryKey(key, lo, nil)
	var upper []byte
	if hi < math.MaxUint64 {
		upper = entryKey(key, hi+1, nil)
	} else {
		upper = prefixEnd(prefix)
	}
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, append([]byte(nil), it.Value()...))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Card(ctx context.Context, key string) (uint64, error) {
	prefix := entryPrefix(key)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()
	var n uint64
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Add(ctx context.Context, key string, score uint64, value []byte) error {
	return s.db.Set(entryKey(key, score, value), value, s.writeOpt)
}

func (s *Store) Remove(ctx context.Context, key string, score uint64, value []byte) error {
	return s.db.Delete(entryKey(key, score, value), s.writeOpt)
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	s.bus.publish(channel, payload)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	return s.bus.subscribe(channel)
}
