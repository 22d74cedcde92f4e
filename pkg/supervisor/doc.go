// Package supervisor owns the lifecycle of the three steady-state
// workers: spawn, liveness-check by heartbeat staleness, exponential
// back-off restart, and a periodic status log.
package supervisor
