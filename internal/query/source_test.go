package query

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftq/driftq/internal/journal"
	"github.com/driftq/driftq/internal/storage"
	"github.com/driftq/driftq/pkg/log"
)

// fakeStore scripts RangeByScore responses and hands the test direct
// control over the notification channel, so notification/query races can
// be forced deterministically.
type fakeStore struct {
	mu    sync.Mutex
	pages [][][]byte      // successive range-read responses
	gates []chan struct{} // optional per-call gates, released by the test
	calls int

	inflight    int32
	maxInflight int32

	msgs       chan storage.Message
	subChannel string
}

func newFakeStore(msgs chan storage.Message) *fakeStore {
	return &fakeStore{msgs: msgs}
}

func (f *fakeStore) RangeByScore(ctx context.Context, key string, lo, hi uint64) ([][]byte, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInflight)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxInflight, prev, cur) {
			break
		}
	}

	f.mu.Lock()
	i := f.calls
	f.calls++
	var page [][]byte
	if i < len(f.pages) {
		page = f.pages[i]
	}
	var gate chan struct{}
	if i < len(f.gates) {
		gate = f.gates[i]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return page, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) Card(ctx context.Context, key string) (uint64, error) { return 0, nil }
func (f *fakeStore) Add(ctx context.Context, key string, score uint64, value []byte) error {
	return nil
}
func (f *fakeStore) Remove(ctx context.Context, key string, score uint64, value []byte) error {
	return nil
}
func (f *fakeStore) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (f *fakeStore) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	f.mu.Lock()
	f.subChannel = channel
	f.mu.Unlock()
	return &fakeSubscription{ch: f.msgs}, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeSubscription struct {
	ch   chan storage.Message
	once sync.Once
}

func (s *fakeSubscription) Messages() <-chan storage.Message { return s.ch }
func (s *fakeSubscription) Close() error                     { return nil }

func encodeTestRecord(t *testing.T, pid string, seq uint64, payload string) []byte {
	t.Helper()
	b, err := journal.EncodeRecord(journal.Record{PersistenceID: pid, SequenceNr: seq, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	return b
}

// TestNotificationDuringQueryForcesRequery drives the race the
// notified-when-querying state exists for: a notification lands while a
// read is in flight, the read comes back empty, and the machine must
// issue one more read instead of parking.
func TestNotificationDuringQueryForcesRequery(t *testing.T) {
	msgs := make(chan storage.Message) // unbuffered: sends rendezvous with the run loop
	fs := newFakeStore(msgs)
	gate := make(chan struct{})
	fs.pages = [][][]byte{
		nil, // first read: empty, held open by the gate
		{encodeTestRecord(t, "r", 1, "r-1")},
	}
	fs.gates = []chan struct{}{gate}

	q, err := New(fs, testKeys, log.Discard(), 10)
	if err != nil {
		t.Fatalf("new queries: %v", err)
	}
	st, err := q.EventsByPersistenceID(context.Background(), "r", 1, math.MaxUint64, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recvDone := make(chan journal.Envelope, 1)
	go func() {
		env, err := st.Recv(ctx)
		if err != nil {
			t.Errorf("recv: %v", err)
			close(recvDone)
			return
		}
		recvDone <- env
	}()

	// Wait until the first read is in flight so the machine is in the
	// querying state, then deliver the notification. The unbuffered send
	// returns only once the run loop has taken it, so it is recorded
	// before the empty result lands.
	for fs.callCount() == 0 {
		if ctx.Err() != nil {
			t.Fatalf("first range read never started")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case msgs <- storage.Message{Channel: testKeys.IDChannel("r"), Payload: []byte("1")}:
	case <-ctx.Done():
		t.Fatalf("run loop never consumed the notification")
	}
	close(gate)

	env, ok := <-recvDone
	if !ok {
		t.Fatalf("recv failed")
	}
	if env.SequenceNr != 1 || string(env.Payload) != "r-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if got := fs.callCount(); got != 2 {
		t.Fatalf("want exactly 2 range reads (empty + forced requery), got %d", got)
	}
}

func TestAtMostOneRangeReadInFlight(t *testing.T) {
	fs := newFakeStore(make(chan storage.Message))
	fs.pages = [][][]byte{
		{encodeTestRecord(t, "s", 1, "s-1")},
		{encodeTestRecord(t, "s", 2, "s-2")},
		nil,
	}

	q, err := New(fs, testKeys, log.Discard(), 1)
	if err != nil {
		t.Fatalf("new queries: %v", err)
	}
	st, err := q.CurrentEventsByPersistenceID(context.Background(), "s", 1, math.MaxUint64, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	envs := collect(t, st)
	wantPayloads(t, envs, "s-1", "s-2")
	if max := atomic.LoadInt32(&fs.maxInflight); max != 1 {
		t.Fatalf("want at most 1 in-flight range read, saw %d", max)
	}
}

func TestLiveSubscribesToTheRightChannel(t *testing.T) {
	fs := newFakeStore(make(chan storage.Message))
	q, err := New(fs, testKeys, log.Discard(), 10)
	if err != nil {
		t.Fatalf("new queries: %v", err)
	}
	st, err := q.EventsByTag(context.Background(), "teal", NoOffset, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		fs.mu.Lock()
		ch := fs.subChannel
		fs.mu.Unlock()
		if ch != "" {
			if want := testKeys.TagChannel("teal"); ch != want {
				t.Fatalf("want subscription on %q, got %q", want, ch)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no subscription opened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCurrentQueryDoesNotSubscribe(t *testing.T) {
	fs := newFakeStore(make(chan storage.Message))
	q, err := New(fs, testKeys, log.Discard(), 10)
	if err != nil {
		t.Fatalf("new queries: %v", err)
	}
	st, err := q.CurrentEventsByPersistenceID(context.Background(), "t", 1, math.MaxUint64, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if envs := collect(t, st); len(envs) != 0 {
		t.Fatalf("want empty stream, got %d envelopes", len(envs))
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.subChannel != "" {
		t.Fatalf("current query opened a subscription on %q", fs.subChannel)
	}
}

func TestStoreErrorFailsStream(t *testing.T) {
	fs := &erroringStore{}
	q, err := New(fs, testKeys, log.Discard(), 10)
	if err != nil {
		t.Fatalf("new queries: %v", err)
	}
	st, err := q.CurrentEventsByPersistenceID(context.Background(), "u", 1, math.MaxUint64, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = st.Recv(ctx)
	if err == nil || errors.Is(err, ErrDone) {
		t.Fatalf("want store error, got %v", err)
	}
}

type erroringStore struct{}

var errStoreDown = errors.New("store down")

func (e *erroringStore) RangeByScore(ctx context.Context, key string, lo, hi uint64) ([][]byte, error) {
	return nil, errStoreDown
}
func (e *erroringStore) Card(ctx context.Context, key string) (uint64, error) { return 0, nil }
func (e *erroringStore) Add(ctx context.Context, key string, score uint64, value []byte) error {
	return nil
}
func (e *erroringStore) Remove(ctx context.Context, key string, score uint64, value []byte) error {
	return nil
}
func (e *erroringStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}
func (e *erroringStore) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	return &fakeSubscription{ch: make(chan storage.Message)}, nil
}
func (e *erroringStore) Close() error { return nil }
