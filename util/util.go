package util

// ChunkSlice splits items into batches of at most batchSize elements.
func ChunkSlice[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		batchSize = len(items)
	}
	batches := make([][]T, 0)
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
