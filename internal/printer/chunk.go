package printer

// DefaultChunkSize is the largest single GATT write most printers accept.
const DefaultChunkSize = 512

// Chunk splits buf into consecutive pieces of at most size bytes. The pieces
// alias buf and are capped so appending to one cannot overwrite the next.
func Chunk(buf []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(buf) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(buf)+size-1)/size)
	for start := 0; start < len(buf); start += size {
		end := min(start+size, len(buf))
		out = append(out, buf[start:end:end])
	}
	return out
}
