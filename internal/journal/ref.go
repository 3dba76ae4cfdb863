package journal

import (
	"bytes"
	"fmt"
	"strconv"
)

// Ref points from a per-tag entry to the event it references.
type Ref struct {
	SequenceNr    uint64
	PersistenceID string
}

// EncodeRef renders a reference in its wire form "<seqNr>:<persistenceId>".
func EncodeRef(r Ref) []byte {
	b := strconv.AppendUint(nil, r.SequenceNr, 10)
	b = append(b, ':')
	return append(b, r.PersistenceID...)
}

// DecodeRef parses the wire form of a tag reference. Any other shape is a
// fatal decode error.
func DecodeRef(b []byte) (Ref, error) {
	i := bytes.IndexByte(b, ':')
	if i <= 0 || i == len(b)-1 {
		return Ref{}, fmt.Errorf("journal: decode ref %q: want \"<seqNr>:<persistenceId>\"", b)
	}
	seq, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("journal: decode ref %q: %w", b, err)
	}
	return Ref{SequenceNr: seq, PersistenceID: string(b[i+1:])}, nil
}

// ParseNotification parses a pub/sub payload carrying the latest sequence
// number or tag index as ASCII decimal. Callers treat a failure as a
// warning, not a stream error.
func ParseNotification(b []byte) (uint64, error) {
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: parse notification %q: %w", b, err)
	}
	return n, nil
}
