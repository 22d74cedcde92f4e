// Package shutdown centralizes OS signal handling into a single
// coordinator: no worker installs its own signal.Notify (spec.md §4.9 /
// §9).
package shutdown
