package embedding

type Options struct {
	Model     string
	BatchSize int
	// Rate caps provider calls per second, 0 disables limiting
	Rate float64
	// Dim seeds a known dimension and skips the lazy probe
	Dim int
}

type Option func(*Options)

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithBatchSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.BatchSize = size
		}
	}
}

func WithRate(rate float64) Option {
	return func(o *Options) {
		o.Rate = rate
	}
}

func WithDim(dim int) Option {
	return func(o *Options) {
		o.Dim = dim
	}
}
