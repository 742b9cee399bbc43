// Package tools provides reusable runtime helpers shared by control-plane modules.
//
// Ownership boundary:
// - command execution helpers
//
// - host/runtime utility primitives
package tools
