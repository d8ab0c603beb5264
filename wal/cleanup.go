package wal

import (
	"fmt"
	"os"
	"sort"
	"time"
)

// Cleanup removes rotated journal files beyond config.KeepRotated,
// newest first retained. The active file always survives.
func Cleanup(dir string, config Config) error {
	if config.KeepRotated <= 0 {
		return nil
	}
	return pruneRotated(dir, config.FilePrefix, config.KeepRotated+1)
}

// CleanupStats tracks cleanup operation results
type CleanupStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

// CleanupWithStats removes old files and returns statistics
func CleanupWithStats(dir string, config Config) (CleanupStats, error) {
	stats := CleanupStats{}
	if config.KeepRotated <= 0 {
		return stats, nil
	}

	files := surplusFiles(dir, config.FilePrefix, config.KeepRotated+1)
	if len(files) == 0 {
		return stats, nil
	}

	stats.FilesRemoved = len(files)
	stats.BytesFreed = calculateTotalSize(files)
	stats.OldestRemoved, stats.NewestRemoved = findTimeRange(files)

	err := removeFiles(files)
	return stats, err
}

// pruneRotated removes the oldest files so at most keep remain.
func pruneRotated(dir, prefix string, keep int) error {
	return removeFiles(surplusFiles(dir, prefix, keep))
}

// surplusFiles returns the oldest files beyond the keep budget.
// Timestamped names sort lexically, so sorting gives age order.
func surplusFiles(dir, prefix string, keep int) []string {
	files := listFiles(dir, prefix)
	if len(files) <= keep {
		return nil
	}
	sort.Strings(files)
	return files[:len(files)-keep]
}

// removeFiles deletes all files in the list
func removeFiles(files []string) error {
	for _, file := range files {
		if err := removeFile(file); err != nil {
			return err
		}
	}
	return nil
}

// removeFile deletes a single file
func removeFile(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// calculateTotalSize sums file sizes
func calculateTotalSize(files []string) int64 {
	var total int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err == nil {
			total += info.Size()
		}
	}
	return total
}

// findTimeRange returns oldest and newest file modification times
func findTimeRange(files []string) (oldest, newest time.Time) {
	for i, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}

		modTime := info.ModTime()
		if i == 0 {
			oldest = modTime
			newest = modTime
			continue
		}

		if modTime.Before(oldest) {
			oldest = modTime
		}
		if modTime.After(newest) {
			newest = modTime
		}
	}

	return oldest, newest
}
