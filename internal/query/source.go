package query

import (
	"context"
	"fmt"

	"github.com/driftq/driftq/internal/journal"
	"github.com/driftq/driftq/internal/storage"
	"github.com/driftq/driftq/pkg/log"
)

type state int

const (
	stateIdle state = iota
	stateQuerying
	stateNotifiedWhenQuerying
	stateWaitingForNotification
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateQuerying:
		return "querying"
	case stateNotifiedWhenQuerying:
		return "notified-when-querying"
	case stateWaitingForNotification:
		return "waiting-for-notification"
	default:
		return "unknown"
	}
}

// driver specializes the source state machine for one query family.
type driver interface {
	// fetchPage reads the closed score interval [lo, hi], decodes the raw
	// values, and drops deleted or out-of-range records. raw is the number
	// of values examined including dropped ones; next is the cursor
	// position after the page, one past the last examined index (== lo
	// when raw is zero).
	fetchPage(ctx context.Context, lo, hi uint64) (envelopes []journal.Envelope, raw int, next uint64, err error)
	// channel names the notification channel used by live queries.
	channel() string
}

type pageResult struct {
	envelopes []journal.Envelope
	raw       int
	next      uint64
	err       error
}

// source is the per-query state machine. The run goroutine owns st, cur,
// and buf, and sets err before closing done; demand, query results, and
// notifications reach it as messages, so no locking is needed.
type source struct {
	store  storage.Store
	drv    driver
	log    log.Logger
	filter *celFilter

	live bool
	max  uint64
	to   uint64

	st  state
	cur uint64
	buf []journal.Envelope

	pull    chan struct{}
	out     chan journal.Envelope
	results chan pageResult
	done    chan struct{}
	err     error
}

func newSource(store storage.Store, drv driver, logger log.Logger, filter *celFilter, from, to, max uint64, live bool) *source {
	return &source{
		store:   store,
		drv:     drv,
		log:     logger,
		filter:  filter,
		live:    live,
		max:     max,
		to:      to,
		cur:     from,
		pull:    make(chan struct{}),
		// One delivery slot: a Recv that times out after its demand was
		// accepted leaves the envelope here for the next Recv.
		out:     make(chan journal.Envelope, 1),
		results: make(chan pageResult, 1),
		done:    make(chan struct{}),
	}
}

// run drives the state machine until completion, failure, or cancellation.
func (s *source) run(ctx context.Context) {
	defer close(s.done)

	var notif <-chan storage.Message
	if s.live {
		sub, err := s.store.Subscribe(ctx, s.drv.channel())
		if err != nil {
			s.err = fmt.Errorf("query: subscribe %s: %w", s.drv.channel(), err)
			return
		}
		defer func() { _ = sub.Close() }()
		notif = sub.Messages()
	}

	for {
		switch s.st {
		case stateIdle:
			select {
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			case m, ok := <-notif:
				if !ok {
					notif = nil
					continue
				}
				s.onNotification(ctx, m)
			case <-s.pull:
				if !s.onPull(ctx) {
					return
				}
			}
		case stateQuerying, stateNotifiedWhenQuerying:
			select {
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			case m, ok := <-notif:
				if !ok {
					notif = nil
					continue
				}
				s.onNotification(ctx, m)
			case res := <-s.results:
				if !s.onResult(ctx, res) {
					return
				}
			}
		case stateWaitingForNotification:
			select {
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			case m, ok := <-notif:
				if !ok {
					// Subscription lost. Liveness is gone but the stream
					// is not failed; only cancellation ends it now.
					notif = nil
					continue
				}
				s.onNotification(ctx, m)
			}
		default:
			s.err = fmt.Errorf("%w: run loop in state %v", ErrProtocol, s.st)
			return
		}
	}
}

// onPull handles one unit of downstream demand in the idle state. It
// returns false when the run loop should exit.
func (s *source) onPull(ctx context.Context) bool {
	if len(s.buf) > 0 {
		return s.deliver(ctx)
	}
	if !s.live && s.cur > s.to {
		s.err = ErrDone
		return false
	}
	s.startQuery(ctx)
	return true
}

// startQuery issues the next range read. At most one read is ever in
// flight: this is only called from states without one.
func (s *source) startQuery(ctx context.Context) {
	lo := s.cur
	s.st = stateQuerying

	hi, ok := pageBounds(lo, s.to, s.max)
	if !ok {
		// Statically empty interval; skip the store.
		go func() {
			select {
			case s.results <- pageResult{next: lo}:
			case <-ctx.Done():
			}
		}()
		return
	}
	go func() {
		envs, raw, next, err := s.drv.fetchPage(ctx, lo, hi)
		select {
		case s.results <- pageResult{envelopes: envs, raw: raw, next: next, err: err}:
		case <-ctx.Done():
		}
	}()
}

// pageBounds computes the inclusive upper bound of one page. ok is false
// when the interval is empty.
func pageBounds(lo, to, max uint64) (uint64, bool) {
	if lo > to {
		return 0, false
	}
	if to-lo >= max {
		return lo + max - 1, true
	}
	return to, true
}

// onResult applies a finished range read.
func (s *source) onResult(ctx context.Context, res pageResult) bool {
	if res.err != nil {
		s.err = res.err
		return false
	}
	wasNotified := s.st == stateNotifiedWhenQuerying

	if res.next < s.cur {
		s.err = fmt.Errorf("%w: cursor would rewind from %d to %d", ErrProtocol, s.cur, res.next)
		return false
	}
	s.cur = res.next

	envs := res.envelopes
	if s.filter != nil {
		envs = s.filter.apply(envs)
	}
	if len(envs) > 0 {
		s.buf = append(s.buf, envs...)
		return s.deliver(ctx)
	}

	if res.raw > 0 {
		// The page existed but every record was dropped; resume from the
		// advanced cursor without delivering.
		if !s.live && s.cur > s.to {
			s.err = ErrDone
			return false
		}
		s.startQuery(ctx)
		return true
	}

	// Empty page.
	if wasNotified {
		// The notification promised more than this read saw.
		s.startQuery(ctx)
		return true
	}
	if !s.live {
		s.err = ErrDone
		return false
	}
	s.st = stateWaitingForNotification
	return true
}

// deliver pushes the buffer head to the waiting Recv and settles the
// post-delivery state.
func (s *source) deliver(ctx context.Context) bool {
	env := s.buf[0]
	s.buf = s.buf[1:]
	select {
	case s.out <- env:
	case <-ctx.Done():
		s.err = ctx.Err()
		return false
	}
	if !s.live && len(s.buf) == 0 && s.cur > s.to {
		s.err = ErrDone
		return false
	}
	s.st = stateIdle
	return true
}

// onNotification records a change notification according to the current
// state. The payload's value is not used beyond validation: the machine
// re-queries and filters, so duplicates and reordering are harmless.
func (s *source) onNotification(ctx context.Context, m storage.Message) {
	if _, err := journal.ParseNotification(m.Payload); err != nil {
		s.log.Warn("dropping malformed notification", log.Str("channel", m.Channel), log.Err(err))
		return
	}
	switch s.st {
	case stateQuerying:
		s.st = stateNotifiedWhenQuerying
	case stateNotifiedWhenQuerying:
		// Multiple notifications during one read collapse into a single
		// requery obligation.
	case stateWaitingForNotification:
		s.startQuery(ctx)
	case stateIdle:
		// The next pull issues a read anyway.
	}
}
