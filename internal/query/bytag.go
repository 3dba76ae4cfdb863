package query

import (
	"context"
	"fmt"

	"github.com/driftq/driftq/internal/journal"
	"github.com/driftq/driftq/internal/storage"
)

// byTagDriver reads event references from the per-tag sorted set and
// resolves each through a point read against the referenced identifier's
// set. The envelope offset is the tag-local index; indexes are assigned
// consecutively by the writer, so the i-th value of a page starting at lo
// sits at index lo+i.
type byTagDriver struct {
	store storage.Store
	keys  journal.Keyspace
	tag   string
}

func (d *byTagDriver) channel() string { return d.keys.TagChannel(d.tag) }

func (d *byTagDriver) fetchPage(ctx context.Context, lo, hi uint64) ([]journal.Envelope, int, uint64, error) {
	key := d.keys.TagKey(d.tag)
	vals, err := d.store.RangeByScore(ctx, key, lo, hi)
	if err != nil {
		return nil, 0, lo, fmt.Errorf("query: range read %s [%d,%d]: %w", key, lo, hi, err)
	}
	envs := make([]journal.Envelope, 0, len(vals))
	for i, v := range vals {
		ref, err := journal.DecodeRef(v)
		if err != nil {
			return nil, 0, lo, err
		}
		rec, ok, err := d.resolve(ctx, ref)
		if err != nil {
			return nil, 0, lo, err
		}
		if !ok || rec.Deleted {
			continue
		}
		envs = append(envs, journal.Envelope{
			Offset:        lo + uint64(i),
			PersistenceID: ref.PersistenceID,
			SequenceNr:    ref.SequenceNr,
			Payload:       rec.Payload,
		})
	}
	return envs, len(vals), lo + uint64(len(vals)), nil
}

// resolve fetches the record a reference points at. A missing record is
// skipped, not fatal: the per-identifier set is the source of truth and a
// reference may outlive a trimmed journal.
func (d *byTagDriver) resolve(ctx context.Context, ref journal.Ref) (journal.Record, bool, error) {
	key := d.keys.EventsKey(ref.PersistenceID)
	vals, err := d.store.RangeByScore(ctx, key, ref.SequenceNr, ref.SequenceNr)
	if err != nil {
		return journal.Record{}, false, fmt.Errorf("query: point read %s[%d]: %w", key, ref.SequenceNr, err)
	}
	if len(vals) == 0 {
		return journal.Record{}, false, nil
	}
	rec, err := journal.DecodeRecord(vals[0])
	if err != nil {
		return journal.Record{}, false, err
	}
	return rec, true, nil
}
