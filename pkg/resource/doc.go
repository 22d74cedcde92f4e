// Package resource samples host CPU and RAM utilization and derives the
// agent-wide throttle level consumed by the bring-up and metrics layers.
package resource
