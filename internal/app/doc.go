// Package app provides the application service layer.
//
// Every poll mutation runs through the same pipeline: validate, mutate the
// store, re-read the canonical poll, build the event and broadcast it. The
// re-read and the broadcast for one poll are serialized by a per-poll lock so
// clients observe that poll's events in commit order.
package app
