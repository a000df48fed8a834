package app

import (
	"path/filepath"
	"syscall"
)

// diskUsage reports the filesystem holding the journal file, or nil when
// the journal is in memory or the stat fails.
func diskUsage(journalPath string) map[string]any {
	if journalPath == "" {
		return nil
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(filepath.Dir(journalPath), &stat); err != nil {
		return nil
	}
	total := stat.Blocks * uint64(stat.Bsize)
	avail := stat.Bavail * uint64(stat.Bsize)
	return map[string]any{
		"total_bytes":     total,
		"available_bytes": avail,
	}
}
