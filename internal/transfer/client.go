// package transfer defines the abstract port to the network transfer backend
// and the circuit breaker that guards it.
//
// The concrete backend (the slskd daemon adapter) lives in internal/services;
// the orchestration core only ever sees this interface, wrapped in a breaker
// so an unresponsive daemon can never hang the core.
package transfer

import "context"

// Source identifies a remote file on a peer.
type Source struct {
	Username string
	Path     string
}

// ProgressFunc receives transfer progress callbacks.
type ProgressFunc func(bytesTransferred int64, rateKbps float64)

// Client is the transfer backend port.
type Client interface {
	// StartTransfer downloads source into destination, invoking progress
	// (when non-nil) as bytes arrive. Blocks until the transfer finishes,
	// fails or ctx is cancelled.
	StartTransfer(ctx context.Context, source Source, destination string, progress ProgressFunc) error

	// CancelTransfer aborts an in-flight transfer for source.
	CancelTransfer(ctx context.Context, source Source) error

	// Ping verifies the backend is reachable and authenticated.
	Ping(ctx context.Context) error
}
