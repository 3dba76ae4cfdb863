package httpserver

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/driftq/driftq/internal/query"
	"github.com/driftq/driftq/pkg/log"
)

type envelopeJSON struct {
	Offset        uint64 `json:"offset"`
	PersistenceID string `json:"persistenceId"`
	SequenceNr    uint64 `json:"sequenceNr"`
	Payload       []byte `json:"payload"`
}

func (s *Server) handleQueryByID(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("id")
	qs := r.URL.Query()
	from, err := parseUintParam(qs.Get("from"), 0)
	if err != nil {
		http.Error(w, "bad from", http.StatusBadRequest)
		return
	}
	to, err := parseUintParam(qs.Get("to"), math.MaxUint64)
	if err != nil {
		http.Error(w, "bad to", http.StatusBadRequest)
		return
	}
	opts, err := parseOptions(qs.Get("max"), qs.Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var st *query.Stream
	if qs.Get("live") == "true" {
		st, err = s.queries.EventsByPersistenceID(r.Context(), pid, from, to, opts)
	} else {
		st, err = s.queries.CurrentEventsByPersistenceID(r.Context(), pid, from, to, opts)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.streamSSE(w, r, st)
}

func (s *Server) handleQueryByTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	qs := r.URL.Query()
	offset, err := parseUintParam(qs.Get("offset"), query.NoOffset)
	if err != nil {
		http.Error(w, "bad offset", http.StatusBadRequest)
		return
	}
	opts, err := parseOptions(qs.Get("max"), qs.Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var st *query.Stream
	if qs.Get("live") == "true" {
		st, err = s.queries.EventsByTag(r.Context(), tag, offset, opts)
	} else {
		st, err = s.queries.CurrentEventsByTag(r.Context(), tag, offset, opts)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.streamSSE(w, r, st)
}

// streamSSE pumps a stream to the client as Server-Sent Events. Each
// envelope is one "data:" frame; completion is signalled with a
// "complete" event, a fatal stream error with an "error" event.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, st *query.Stream) {
	defer func() { _ = st.Close() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for {
		env, err := st.Recv(r.Context())
		if err != nil {
			if errors.Is(err, query.ErrDone) {
				_, _ = w.Write([]byte("event: complete\ndata: {}\n\n"))
			} else if r.Context().Err() == nil {
				s.log.Error("query stream failed", log.Err(err))
				_, _ = w.Write([]byte("event: error\ndata: " + strconv.Quote(err.Error()) + "\n\n"))
			}
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		b, err := json.Marshal(envelopeJSON{
			Offset:        env.Offset,
			PersistenceID: env.PersistenceID,
			SequenceNr:    env.SequenceNr,
			Payload:       env.Payload,
		})
		if err != nil {
			return
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := w.Write(b); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type appendRequest struct {
	PersistenceID string   `json:"persistenceId"`
	Payload       string   `json:"payload"`
	Tags          []string `json:"tags"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PersistenceID == "" {
		http.Error(w, "persistenceId is required", http.StatusBadRequest)
		return
	}
	seq, err := s.writer.Append(r.Context(), req.PersistenceID, []byte(req.Payload), req.Tags...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]uint64{"sequenceNr": seq})
}

type deleteRequest struct {
	PersistenceID string `json:"persistenceId"`
	ToSequenceNr  uint64 `json:"toSequenceNr"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PersistenceID == "" {
		http.Error(w, "persistenceId is required", http.StatusBadRequest)
		return
	}
	if err := s.writer.Delete(r.Context(), req.PersistenceID, req.ToSequenceNr); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUintParam(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseOptions(maxParam, filter string) (query.Options, error) {
	opts := query.Options{Filter: filter}
	if maxParam != "" {
		n, err := strconv.Atoi(maxParam)
		if err != nil || n < 1 {
			return opts, errors.New("bad max")
		}
		opts.Max = n
	}
	return opts, nil
}
