package query

import (
	"context"
	"fmt"
	"math"

	"github.com/driftq/driftq/internal/journal"
	"github.com/driftq/driftq/internal/storage"
	"github.com/driftq/driftq/pkg/log"
)

// NoOffset starts a by-tag query from the beginning of the tag sequence.
const NoOffset uint64 = 0

// Options tunes a single query.
type Options struct {
	// Max overrides the engine-wide page size for this query.
	Max int
	// Filter is an optional CEL expression evaluated per envelope;
	// envelopes it rejects are dropped after the cursor has advanced past
	// them. See celfilter.go for the available variables.
	Filter string
}

// Queries exposes the four read operations of the journal. One Queries
// value serves any number of concurrent streams; each stream owns its own
// cursor and, for live variants, its own subscription.
type Queries struct {
	store storage.Store
	keys  journal.Keyspace
	log   log.Logger
	max   uint64
}

// New builds the query engine. max is the range-read page size and the
// soft buffer bound per query.
func New(store storage.Store, keys journal.Keyspace, logger log.Logger, max int) (*Queries, error) {
	if max < 1 {
		return nil, fmt.Errorf("query: max must be positive, got %d", max)
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Queries{
		store: store,
		keys:  keys,
		log:   logger.With(log.Component("query")),
		max:   uint64(max),
	}, nil
}

// CurrentEventsByPersistenceID returns the finite stream of events for
// persistenceID with from <= sequenceNr <= to, as of the moment the store
// is exhausted. Both bounds are inclusive.
func (q *Queries) CurrentEventsByPersistenceID(ctx context.Context, persistenceID string, from, to uint64, opts Options) (*Stream, error) {
	return q.open(ctx, q.byID(persistenceID, to), from, to, false, opts)
}

// EventsByPersistenceID is the live variant of
// CurrentEventsByPersistenceID: it follows the journal's tail, resuming on
// change notifications, until the stream is closed.
func (q *Queries) EventsByPersistenceID(ctx context.Context, persistenceID string, from, to uint64, opts Options) (*Stream, error) {
	return q.open(ctx, q.byID(persistenceID, to), from, to, true, opts)
}

// CurrentEventsByTag returns the finite stream of events tagged with tag,
// starting at the inclusive tag-local offset.
func (q *Queries) CurrentEventsByTag(ctx context.Context, tag string, offset uint64, opts Options) (*Stream, error) {
	return q.open(ctx, q.byTag(tag), offset, math.MaxUint64, false, opts)
}

// EventsByTag is the live variant of CurrentEventsByTag.
func (q *Queries) EventsByTag(ctx context.Context, tag string, offset uint64, opts Options) (*Stream, error) {
	return q.open(ctx, q.byTag(tag), offset, math.MaxUint64, true, opts)
}

func (q *Queries) byID(persistenceID string, to uint64) driver {
	return &byIDDriver{store: q.store, keys: q.keys, pid: persistenceID, to: to}
}

func (q *Queries) byTag(tag string) driver {
	return &byTagDriver{store: q.store, keys: q.keys, tag: tag}
}

func (q *Queries) open(ctx context.Context, drv driver, from, to uint64, live bool, opts Options) (*Stream, error) {
	max := q.max
	if opts.Max > 0 {
		max = uint64(opts.Max)
	}
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	// A statically empty interval can never emit, live or not.
	if to == 0 || from > to {
		return completedStream(ErrDone), nil
	}
	// Sequence numbers start at 1: a by-id cursor at 0 would spend its
	// first page on a score that never holds a record.
	if _, ok := drv.(*byIDDriver); ok && from == 0 {
		from = 1
	}
	src := newSource(q.store, drv, q.log, filter, from, to, max, live)
	cctx, cancel := context.WithCancel(ctx)
	go src.run(cctx)
	return &Stream{cancel: cancel, src: src}, nil
}
