package engine

import (
	"github.com/bigf625oot/Tiga-sub000/llm"
	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/rag/index"
)

type Option func(e *Engine)

// WithLLM replaces the OpenAI-compatible chat client built from config.
func WithLLM(l llm.LLM) Option {
	return func(e *Engine) {
		e.llm = l
	}
}

func WithEmbedClient(c rag.EmbedClient) Option {
	return func(e *Engine) {
		e.embedClient = c
	}
}

func WithDocuments(d rag.DocumentStore) Option {
	return func(e *Engine) {
		e.docs = d
	}
}

func WithMessages(m rag.MessageStore) Option {
	return func(e *Engine) {
		e.messages = m
	}
}

func WithBlobs(b rag.BlobStore) Option {
	return func(e *Engine) {
		e.blobs = b
	}
}

func WithParser(p index.TextParser) Option {
	return func(e *Engine) {
		e.parser = p
	}
}
