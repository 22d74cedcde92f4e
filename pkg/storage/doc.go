// Package storage persists durable history across process restarts in a
// single bbolt file: rendered-config change captures and worker-restart
// events. Everything else the agent tracks lives only in shared state
// and is discarded at process exit.
package storage
