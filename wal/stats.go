package wal

// Stats represents journal statistics
type Stats struct {
	TotalFiles      int
	TotalSizeBytes  int64
	CurrentFileSize int64
	LastSequence    int64
}

// GetStats returns current journal statistics
func (w *WAL) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := w.listWALFiles()
	stats := Stats{
		TotalFiles:      len(files),
		TotalSizeBytes:  calculateTotalSize(files),
		CurrentFileSize: w.size,
		LastSequence:    w.sequence,
	}
	return stats
}

// DirSize reports the on-disk footprint of a journal directory.
func DirSize(dir, prefix string) int64 {
	return calculateTotalSize(listFiles(dir, prefix))
}
