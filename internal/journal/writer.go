package journal

import (
	"context"
	"strconv"
	"sync"

	"github.com/driftq/driftq/internal/storage"
	"github.com/driftq/driftq/pkg/log"
)

// Writer appends events to the journal and publishes change notifications.
// It assumes it is the only writer for the persistence identifiers it
// touches; sequence numbers and tag indexes are allocated locally after an
// initial load from the store.
type Writer struct {
	store storage.Store
	keys  Keyspace
	log   log.Logger

	mu      sync.Mutex
	lastSeq map[string]uint64 // persistenceID -> last assigned sequenceNr
	nextTag map[string]uint64 // tag -> next tag-local index
}

// NewWriter returns a Writer over the given store and keyspace.
func NewWriter(store storage.Store, keys Keyspace, logger log.Logger) *Writer {
	if logger == nil {
		logger = log.Discard()
	}
	return &Writer{
		store:   store,
		keys:    keys,
		log:     logger.With(log.Component("writer")),
		lastSeq: map[string]uint64{},
		nextTag: map[string]uint64{},
	}
}

// Append persists one event for persistenceID, indexes it under the given
// tags, and publishes per-identifier and per-tag notifications. It returns
// the assigned sequence number.
func (w *Writer) Append(ctx context.Context, persistenceID string, payload []byte, tags ...string) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq, err := w.nextSeqLocked(ctx, persistenceID)
	if err != nil {
		return 0, err
	}
	rec := Record{
		PersistenceID: persistenceID,
		SequenceNr:    seq,
		Payload:       payload,
		Tags:          tags,
	}
	b, err := EncodeRecord(rec)
	if err != nil {
		return 0, err
	}
	if err := w.store.Add(ctx, w.keys.EventsKey(persistenceID), seq, b); err != nil {
		return 0, err
	}
	w.lastSeq[persistenceID] = seq

	for _, tag := range tags {
		idx, err := w.nextTagIndexLocked(ctx, tag)
		if err != nil {
			return 0, err
		}
		ref := EncodeRef(Ref{SequenceNr: seq, PersistenceID: persistenceID})
		if err := w.store.Add(ctx, w.keys.TagKey(tag), idx, ref); err != nil {
			return 0, err
		}
		w.nextTag[tag] = idx + 1
		if err := w.store.Publish(ctx, w.keys.TagChannel(tag), []byte(strconv.FormatUint(idx, 10))); err != nil {
			w.log.Warn("publish tag notification failed", log.Str("tag", tag), log.Err(err))
		}
	}

	if err := w.store.Publish(ctx, w.keys.IDChannel(persistenceID), []byte(strconv.FormatUint(seq, 10))); err != nil {
		w.log.Warn("publish id notification failed", log.Str("persistence_id", persistenceID), log.Err(err))
	}
	return seq, nil
}

// Delete marks every record with sequenceNr <= toSeq as deleted. The
// records stay in the store so readers can advance past them; they are
// never emitted again.
func (w *Writer) Delete(ctx context.Context, persistenceID string, toSeq uint64) error {
	key := w.keys.EventsKey(persistenceID)
	vals, err := w.store.RangeByScore(ctx, key, 0, toSeq)
	if err != nil {
		return err
	}
	for _, v := range vals {
		rec, err := DecodeRecord(v)
		if err != nil {
			return err
		}
		if rec.Deleted {
			continue
		}
		rec.Deleted = true
		nb, err := EncodeRecord(rec)
		if err != nil {
			return err
		}
		if err := w.store.Remove(ctx, key, rec.SequenceNr, v); err != nil {
			return err
		}
		if err := w.store.Add(ctx, key, rec.SequenceNr, nb); err != nil {
			return err
		}
	}
	return nil
}

// HighestSequenceNr returns the last assigned sequence number for
// persistenceID, consulting the store when the writer has not seen it yet.
func (w *Writer) HighestSequenceNr(ctx context.Context, persistenceID string) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq, ok := w.lastSeq[persistenceID]; ok {
		return seq, nil
	}
	n, err := w.store.Card(ctx, w.keys.EventsKey(persistenceID))
	if err != nil {
		return 0, err
	}
	w.lastSeq[persistenceID] = n
	return n, nil
}

func (w *Writer) nextSeqLocked(ctx context.Context, persistenceID string) (uint64, error) {
	if seq, ok := w.lastSeq[persistenceID]; ok {
		return seq + 1, nil
	}
	n, err := w.store.Card(ctx, w.keys.EventsKey(persistenceID))
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (w *Writer) nextTagIndexLocked(ctx context.Context, tag string) (uint64, error) {
	if idx, ok := w.nextTag[tag]; ok {
		return idx, nil
	}
	n, err := w.store.Card(ctx, w.keys.TagKey(tag))
	if err != nil {
		return 0, err
	}
	return n, nil
}
