// Package transport owns the Unix SOCK_DGRAM plumbing.
//
// Ownership boundary:
// - bind with stale-socket cleanup and 0600 permissions
// - datagram send with bounded EAGAIN/ENOBUFS retry
// - ephemeral reply sockets
package transport
