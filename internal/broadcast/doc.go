// Package broadcast fans realtime poll events out to every connected client.
//
// The Registry tracks live channels under one mutex and hands out insertion
// ordered snapshots. The Broadcaster encodes an event once and sends the
// payload to each channel of a snapshot on its own goroutine; a channel whose
// send fails is evicted without affecting the others.
package broadcast
