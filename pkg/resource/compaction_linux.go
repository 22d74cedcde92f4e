//go:build linux

package resource

import "os"

// requestMemoryCompaction writes to the kernel's global compaction
// trigger. This requires root and is a best-effort hint: a permission
// error or missing file is not treated as a worker failure.
func requestMemoryCompaction() error {
	return os.WriteFile("/proc/sys/vm/compact_memory", []byte("1"), 0o200)
}
