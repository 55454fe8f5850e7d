package app

import "syscall"

// DiskUsage describes the filesystem holding the navigation file cache.
type DiskUsage struct {
	TotalBytes     uint64 `json:"total_bytes"`
	UsedBytes      uint64 `json:"used_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
}

// diskUsage returns usage for the filesystem containing path, or nil when it
// cannot be determined (for instance before the cache directory exists).
func diskUsage(path string) *DiskUsage {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil
	}
	total := stat.Blocks * uint64(stat.Bsize)
	avail := stat.Bavail * uint64(stat.Bsize)
	return &DiskUsage{
		TotalBytes:     total,
		UsedBytes:      total - stat.Bfree*uint64(stat.Bsize),
		AvailableBytes: avail,
	}
}
