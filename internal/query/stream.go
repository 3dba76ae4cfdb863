package query

import (
	"context"
	"errors"

	"github.com/driftq/driftq/internal/journal"
)

// ErrDone is returned by Recv when a stream has cleanly completed.
var ErrDone = errors.New("query: stream completed")

// ErrProtocol reports an impossible state machine transition. Seeing it
// means a bug in the engine, not in the caller.
var ErrProtocol = errors.New("query: protocol violation")

// Stream is a demand-driven sequence of envelopes produced by one query.
// Recv pulls the next envelope; each call is one unit of downstream
// demand. A Stream is not safe for concurrent Recv calls.
type Stream struct {
	cancel context.CancelFunc
	src    *source
}

// Recv returns the next envelope. It blocks until an envelope is
// available, the stream completes (ErrDone), the stream fails (the fatal
// error), or ctx is done. A ctx expiry only abandons the wait: the stream
// stays open and the next Recv picks up where this one left off.
func (s *Stream) Recv(ctx context.Context) (journal.Envelope, error) {
	// An earlier Recv may have timed out after its demand was served.
	select {
	case env := <-s.src.out:
		return env, nil
	default:
	}
	select {
	case env := <-s.src.out:
		return env, nil
	case <-s.src.done:
		return s.drainOrErr()
	case <-ctx.Done():
		return journal.Envelope{}, ctx.Err()
	case s.src.pull <- struct{}{}:
	}
	select {
	case env := <-s.src.out:
		return env, nil
	case <-s.src.done:
		return s.drainOrErr()
	case <-ctx.Done():
		return journal.Envelope{}, ctx.Err()
	}
}

// drainOrErr prefers a delivered-but-unclaimed envelope over the terminal
// error: completion may race the delivery it just made.
func (s *Stream) drainOrErr() (journal.Envelope, error) {
	select {
	case env := <-s.src.out:
		return env, nil
	default:
		return journal.Envelope{}, s.src.err
	}
}

// Close cancels the stream, releases its subscription if any, and discards
// any in-flight read. It is safe to call more than once.
func (s *Stream) Close() error {
	s.cancel()
	<-s.src.done
	return nil
}

// completedStream returns a stream that is already done with the given
// terminal error.
func completedStream(err error) *Stream {
	done := make(chan struct{})
	close(done)
	return &Stream{
		cancel: func() {},
		src:    &source{done: done, err: err},
	}
}
