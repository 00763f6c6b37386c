package udp

// ChunkCount returns the number of data datagrams needed to carry n bytes in
// chunks of at most size bytes: ceil(n / size). The terminator is not counted.
func ChunkCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	count := n / size
	if n%size > 0 {
		count++
	}
	return count
}

// Chunks splits payload into consecutive sub-slices of at most size bytes.
// The returned slices alias payload. An empty payload yields no chunks.
func Chunks(payload []byte, size int) [][]byte {
	count := ChunkCount(len(payload), size)
	if count == 0 {
		return nil
	}

	chunks := make([][]byte, 0, count)
	for len(payload) > 0 {
		n := min(size, len(payload))
		chunks = append(chunks, payload[:n:n])
		payload = payload[n:]
	}
	return chunks
}
