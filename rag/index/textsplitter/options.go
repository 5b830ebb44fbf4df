package textsplitter

const (
	_defaultChunkSize       = 1200
	_defaultChunkOverlap    = 100
	_defaultMaxHeadingLevel = 4
)

// Options configures every splitter. Sizes are in runes, or in tokens
// when EncodingName is set.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// EncodingName is a tiktoken encoding such as cl100k_base
	EncodingName string
	// MaxHeadingLevel is the deepest markdown heading that opens a section
	MaxHeadingLevel int
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:       _defaultChunkSize,
		ChunkOverlap:    _defaultChunkOverlap,
		MaxHeadingLevel: _defaultMaxHeadingLevel,
	}
}

type Option func(*Options)

func WithChunkSize(chunkSize int) Option {
	return func(o *Options) {
		o.ChunkSize = chunkSize
	}
}

func WithChunkOverlap(chunkOverlap int) Option {
	return func(o *Options) {
		o.ChunkOverlap = chunkOverlap
	}
}

func WithEncodingName(encodingName string) Option {
	return func(o *Options) {
		o.EncodingName = encodingName
	}
}

func WithMaxHeadingLevel(level int) Option {
	return func(o *Options) {
		o.MaxHeadingLevel = level
	}
}
