package query

import (
	"context"
	"fmt"

	"github.com/driftq/driftq/internal/journal"
	"github.com/driftq/driftq/internal/storage"
)

// byIDDriver reads full records from the per-identifier sorted set. The
// envelope offset is the record's sequence number.
type byIDDriver struct {
	store storage.Store
	keys  journal.Keyspace
	pid   string
	to    uint64
}

func (d *byIDDriver) channel() string { return d.keys.IDChannel(d.pid) }

func (d *byIDDriver) fetchPage(ctx context.Context, lo, hi uint64) ([]journal.Envelope, int, uint64, error) {
	key := d.keys.EventsKey(d.pid)
	vals, err := d.store.RangeByScore(ctx, key, lo, hi)
	if err != nil {
		return nil, 0, lo, fmt.Errorf("query: range read %s [%d,%d]: %w", key, lo, hi, err)
	}
	next := lo
	envs := make([]journal.Envelope, 0, len(vals))
	for _, v := range vals {
		rec, err := journal.DecodeRecord(v)
		if err != nil {
			return nil, 0, lo, err
		}
		if rec.SequenceNr >= next {
			next = rec.SequenceNr + 1
		}
		if rec.Deleted || rec.SequenceNr < lo || rec.SequenceNr > d.to {
			continue
		}
		envs = append(envs, journal.Envelope{
			Offset:        rec.SequenceNr,
			PersistenceID: rec.PersistenceID,
			SequenceNr:    rec.SequenceNr,
			Payload:       rec.Payload,
		})
	}
	return envs, len(vals), next, nil
}
