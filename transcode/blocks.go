package transcode

// Blocks splits pcm into consecutive blocks of size samples. The final block
// is zero-padded so every block has the same length.
func Blocks(pcm []float32, size int) [][]float32 {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}

	blocks := make([][]float32, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end <= len(pcm) {
			blocks = append(blocks, pcm[start:end:end])
			continue
		}
		last := make([]float32, size)
		copy(last, pcm[start:])
		blocks = append(blocks, last)
	}
	return blocks
}
