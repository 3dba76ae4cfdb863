// Package query implements the read-side query engine over the event
// journal: events by persistence identifier and events by tag, each in a
// current (finite snapshot) and live (follow-the-tail) variant.
//
// Every query is backed by a single-goroutine source state machine that
// interleaves downstream demand, paged range reads against the store, and
// pub/sub change notifications. The machine is in one of four states:
//
//	idle                     no read in flight, demand served from buffer
//	querying                 one range read in flight
//	notifiedWhenQuerying     a notification arrived during the in-flight
//	                         read; its result may be stale, so one more
//	                         read is owed even if it comes back empty
//	waitingForNotification   live query exhausted the store and parked
//
// The machine emits exactly one envelope per Recv, keeps at most one range
// read in flight, and never rewinds its cursor. Current queries complete
// on exhaustion; live queries park and resume on notifications until the
// stream is closed.
//
//	q, _ := query.New(store, keys, logger, 500)
//	st, _ := q.CurrentEventsByTag(ctx, "green", query.NoOffset, query.Options{})
//	defer st.Close()
//	for {
//	    env, err := st.Recv(ctx)
//	    if errors.Is(err, query.ErrDone) {
//	        break
//	    }
//	    ...
//	}
package query
