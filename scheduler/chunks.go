package scheduler

// NumChunks returns how many chunks cover totalScenarios at the given chunk
// size, i.e. the ceiling of their quotient. Non-positive inputs yield zero.
func NumChunks(totalScenarios, chunkSize int) int {
	if totalScenarios <= 0 || chunkSize <= 0 {
		return 0
	}
	return (totalScenarios + chunkSize - 1) / chunkSize
}

// ChunkRange returns the inclusive scenario ID range [first, last] covered
// by a 1-based chunk index. The final chunk may be short.
func ChunkRange(chunkIndex, totalScenarios, chunkSize int) (first, last int) {
	first = (chunkIndex-1)*chunkSize + 1
	last = chunkIndex * chunkSize
	if last > totalScenarios {
		last = totalScenarios
	}
	return first, last
}
