package journal

import (
	"encoding/json"
	"fmt"
)

// Record is a single persisted event as produced by the write side.
type Record struct {
	PersistenceID string   `json:"persistenceId"`
	SequenceNr    uint64   `json:"sequenceNr"`
	Payload       []byte   `json:"payload"`
	Deleted       bool     `json:"deleted,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Envelope is the element emitted downstream by a query. Offset is the
// sequence number for by-id queries and the tag-local index for by-tag
// queries; within one query it is strictly increasing.
type Envelope struct {
	Offset        uint64
	PersistenceID string
	SequenceNr    uint64
	Payload       []byte
}

// EncodeRecord serializes a record for storage.
func EncodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses a stored record. Any failure is fatal to the stream
// reading it.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("journal: decode record: %w", err)
	}
	if r.PersistenceID == "" {
		return Record{}, fmt.Errorf("journal: decode record: missing persistenceId")
	}
	return r, nil
}
