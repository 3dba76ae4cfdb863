// Package storage defines the store gateway consumed by the journal and
// query engine: paged range reads over sorted sets and publish/subscribe
// notifications.
//
// Two implementations exist: redisstore (the production backend, backed by
// Redis sorted sets and pub/sub) and pebblestore (an embedded backend used
// by tests and single-binary dev mode).
package storage
