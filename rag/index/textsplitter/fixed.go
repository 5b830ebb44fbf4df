package textsplitter

// Fixed cuts text into windows of ChunkSize characters where consecutive
// windows share ChunkOverlap characters.
type Fixed struct {
	ChunkSize    int
	ChunkOverlap int
}

var _ TextSplitter = Fixed{}

func NewFixed(opts ...Option) Fixed {
	options := DefaultOptions()
	for _, o := range opts {
		o(&options)
	}
	return Fixed{
		ChunkSize:    options.ChunkSize,
		ChunkOverlap: options.ChunkOverlap,
	}
}

func (s Fixed) SplitText(text string) ([]string, error) {
	return window([]rune(text), s.ChunkSize, s.ChunkOverlap, func(r []rune) string {
		return string(r)
	}), nil
}

// window slides over items, the next start is the previous end minus overlap.
func window[T any](items []T, size, overlap int, render func([]T) string) []string {
	if size <= 0 {
		size = _defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	chunks := make([]string, 0, len(items)/size+1)
	for start := 0; start < len(items); {
		end := min(start+size, len(items))
		chunks = append(chunks, render(items[start:end]))
		if end == len(items) {
			break
		}
		start = end - overlap
	}
	return chunks
}
