package journal

import (
	"context"
	"testing"

	"github.com/driftq/driftq/internal/storage/pebblestore"
	"github.com/driftq/driftq/pkg/log"
)

func newTestWriter(t *testing.T) (*Writer, *pebblestore.Store, Keyspace) {
	t.Helper()
	store, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	keys := Keyspace{Prefix: "driftq"}
	return NewWriter(store, keys, log.Discard()), store, keys
}

func TestAppendAssignsSequenceNumbers(t *testing.T) {
	w, store, keys := newTestWriter(t)
	ctx := context.Background()

	for i, want := range []uint64{1, 2, 3} {
		seq, err := w.Append(ctx, "a", []byte{byte(i)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if seq != want {
			t.Fatalf("want seq %d, got %d", want, seq)
		}
	}

	vals, err := store.RangeByScore(ctx, keys.EventsKey("a"), 0, 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("want 3 stored records, got %d", len(vals))
	}
	rec, err := DecodeRecord(vals[2])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.SequenceNr != 3 || rec.PersistenceID != "a" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestAppendIndexesTags(t *testing.T) {
	w, store, keys := newTestWriter(t)
	ctx := context.Background()

	if _, err := w.Append(ctx, "a", []byte("one"), "green"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := w.Append(ctx, "b", []byte("two"), "green", "blue"); err != nil {
		t.Fatalf("append: %v", err)
	}

	vals, err := store.RangeByScore(ctx, keys.TagKey("green"), 0, 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("want 2 green refs, got %d", len(vals))
	}
	ref, err := DecodeRef(vals[0])
	if err != nil {
		t.Fatalf("decode ref: %v", err)
	}
	if ref.PersistenceID != "a" || ref.SequenceNr != 1 {
		t.Fatalf("unexpected first ref: %+v", ref)
	}
	ref, err = DecodeRef(vals[1])
	if err != nil {
		t.Fatalf("decode ref: %v", err)
	}
	if ref.PersistenceID != "b" || ref.SequenceNr != 1 {
		t.Fatalf("unexpected second ref: %+v", ref)
	}
}

func TestAppendPublishesNotifications(t *testing.T) {
	w, store, keys := newTestWriter(t)
	ctx := context.Background()

	idSub, err := store.Subscribe(ctx, keys.IDChannel("a"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = idSub.Close() }()
	tagSub, err := store.Subscribe(ctx, keys.TagChannel("green"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = tagSub.Close() }()

	if _, err := w.Append(ctx, "a", []byte("one"), "green"); err != nil {
		t.Fatalf("append: %v", err)
	}

	m := <-idSub.Messages()
	if n, err := ParseNotification(m.Payload); err != nil || n != 1 {
		t.Fatalf("want id notification 1, got %q (%v)", m.Payload, err)
	}
	m = <-tagSub.Messages()
	if n, err := ParseNotification(m.Payload); err != nil || n != 0 {
		t.Fatalf("want tag notification 0, got %q (%v)", m.Payload, err)
	}
}

func TestDeleteMarksRecords(t *testing.T) {
	w, store, keys := newTestWriter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := w.Append(ctx, "h", []byte{byte(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Delete(ctx, "h", 2); err != nil {
		t.Fatalf("delete: %v", err)
	}

	vals, err := store.RangeByScore(ctx, keys.EventsKey("h"), 0, 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("deletion must keep records in place, got %d", len(vals))
	}
	for i, v := range vals {
		rec, err := DecodeRecord(v)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		wantDeleted := rec.SequenceNr <= 2
		if rec.Deleted != wantDeleted {
			t.Fatalf("record %d: want deleted=%v, got %+v", i, wantDeleted, rec)
		}
	}

	// Appends after a delete keep counting from the existing tail.
	seq, err := w.Append(ctx, "h", []byte("later"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 4 {
		t.Fatalf("want seq 4 after delete, got %d", seq)
	}
}
