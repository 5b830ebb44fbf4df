package text

type Options struct {
	FoldCase bool
}

type Option func(*Options)

// WithFoldCase matches keywords case-insensitively.
func WithFoldCase() Option {
	return func(o *Options) {
		o.FoldCase = true
	}
}
