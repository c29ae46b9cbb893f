// Package manifest owns the server-published API description and argument
// validation against it.
//
// Ownership boundary:
// - typed Manifest model and JSON/YAML parsing
// - load-time validation, including the reserved built-in command names
// - per-request argument validation and response validation
package manifest
