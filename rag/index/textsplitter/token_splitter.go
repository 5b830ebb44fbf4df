package textsplitter

import (
	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
)

// TokenSplitter is a text splitter that will split texts by tokens.
type TokenSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	EncodingName string
}

func NewTokenSplitter(opts ...Option) TokenSplitter {
	options := DefaultOptions()
	for _, o := range opts {
		o(&options)
	}
	if options.EncodingName == "" {
		options.EncodingName = rag.DefaultTokenEncoding
	}

	return TokenSplitter{
		ChunkSize:    options.ChunkSize,
		ChunkOverlap: options.ChunkOverlap,
		EncodingName: options.EncodingName,
	}
}

// SplitText splits a text into multiple text.
func (s TokenSplitter) SplitText(text string) ([]string, error) {
	if s.EncodingName == "" {
		return nil, errors.New("tiktoken encoding name cannot be blank")
	}
	tk, err := tiktoken.GetEncoding(s.EncodingName)
	if err != nil {
		return nil, errors.Wrap(err, "tiktoken.GetEncoding")
	}
	inputIds := tk.Encode(text, nil, nil)
	return window(inputIds, s.ChunkSize, s.ChunkOverlap, func(ids []int) string {
		return tk.Decode(ids)
	}), nil
}
