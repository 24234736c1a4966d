// Package signaling is the WebSocket front end of the relay. Each accepted
// socket is registered with the relay service; text frames are routed to it,
// and whatever the service sends is written back by a single writer goroutine
// per socket so frames leave in the order they were queued.
package signaling
