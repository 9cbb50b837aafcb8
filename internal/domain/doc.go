// Package domain defines the polling model, the realtime event payloads and
// the store contract. No implementation code, just types and interfaces
// shared by the app layer and the adapters.
package domain
