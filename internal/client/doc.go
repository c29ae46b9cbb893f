// Package client owns the requesting side of the fabric.
//
// Ownership boundary:
// - request handles and their lifecycle
// - the pending-request registry with reply correlation
// - the facade: send, send-with-handle, fire-and-forget, spec auto-fetch
package client
