// Package pebblestore implements the storage.Store interface on an
// embedded Pebble database, emulating sorted sets with score-suffixed keys
// and pub/sub with an in-process notifier bus.
//
// Keyspace (byte-wise, lexicographically sortable):
//   - z/{set}/{score_be8}/{member}
//
// The big-endian score keeps range scans in ascending score order. The
// notifier delivers published messages to every open subscription on the
// channel; delivery is in-process only, so this backend is suited to
// single-binary dev mode and tests rather than multi-process deployments.
package pebblestore
