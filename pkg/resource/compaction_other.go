//go:build !linux

package resource

// requestMemoryCompaction is a no-op on non-Linux hosts; the agent's
// target deployment is Linux edge hosts (spec.md §1).
func requestMemoryCompaction() error {
	return nil
}
