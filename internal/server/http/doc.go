// Package httpserver exposes the query engine over HTTP. Query endpoints
// stream envelopes as Server-Sent Events until the query completes or the
// client disconnects; append/delete endpoints drive the write side for
// development and testing.
package httpserver
