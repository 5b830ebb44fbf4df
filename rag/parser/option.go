package parser

type Options struct {
	OCR        OCR
	OCREnabled bool
	// Source is written into the metadata preamble
	Source  string
	Readers map[string]Reader
}

type Option func(*Options)

func WithOCR(ocr OCR) Option {
	return func(o *Options) {
		o.OCR = ocr
		o.OCREnabled = ocr != nil
	}
}

func WithOCREnabled(enabled bool) Option {
	return func(o *Options) {
		o.OCREnabled = enabled
	}
}

func WithSource(source string) Option {
	return func(o *Options) {
		o.Source = source
	}
}

// WithReader registers or overrides the reader for an extension like ".rtf".
func WithReader(ext string, r Reader) Option {
	return func(o *Options) {
		if o.Readers == nil {
			o.Readers = make(map[string]Reader)
		}
		o.Readers[ext] = r
	}
}
