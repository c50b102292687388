// Package documents keeps uploaded clinical documents in memory, runs the
// extraction pipeline on them and publishes lifecycle events to NATS.
package documents
