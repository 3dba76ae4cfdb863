// Package redisstore implements the storage.Store interface on Redis:
// sorted sets for range reads (ZRANGEBYSCORE over closed score intervals)
// and Redis pub/sub for change notifications.
package redisstore
