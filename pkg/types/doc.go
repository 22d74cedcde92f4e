// Package types defines the shared enums and small value types used
// across the agent's components: bring-up phases, throttle levels,
// worker names, and probe/worker status snapshots.
package types
