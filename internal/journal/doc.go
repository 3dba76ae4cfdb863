// Package journal defines the event journal data model and its store
// layout: persistent records, event envelopes, per-tag event references,
// and the key/channel naming shared by the writer and the query engine.
//
// Store layout (all keys under a configurable prefix):
//   - {prefix}:events:{persistenceId}   sorted set, score = sequenceNr,
//     member = JSON-encoded record
//   - {prefix}:tags:{tag}               sorted set, score = tag-local index
//     starting at 0, member = "<seqNr>:<persistenceId>"
//   - {prefix}:notify:id:{persistenceId}  channel, payload = ASCII decimal
//     sequence number of the latest write
//   - {prefix}:notify:tag:{tag}           channel, payload = ASCII decimal
//     tag-local index of the latest write
package journal
