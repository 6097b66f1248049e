package connection

// Split cuts message into consecutive pieces of at most size bytes.
// Boundaries fall on bytes, not runes; concatenating the result yields message.
func Split(message string, size int) []string {
	if size <= 0 || len(message) <= size {
		return []string{message}
	}

	chunks := make([]string, 0, (len(message)+size-1)/size)
	for start := 0; start < len(message); start += size {
		end := min(start+size, len(message))
		chunks = append(chunks, message[start:end])
	}
	return chunks
}
