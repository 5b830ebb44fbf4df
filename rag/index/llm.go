package index

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bigf625oot/Tiga-sub000/llm"
	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/bigf625oot/Tiga-sub000/utils/ratelimit"
	"go.uber.org/zap"
)

// cachedModel rate limits calls and caches non-empty generations on disk,
// keyed by the md5 of the concatenated messages.
type cachedModel struct {
	llm      llm.LLM
	limiter  *ratelimit.Limiter
	cacheDir string
	logger   *zap.Logger
}

func newCachedModel(l llm.LLM, rate float64, cacheDir string, logger *zap.Logger) *cachedModel {
	if rate <= 0 {
		rate = DefaultExtractRate
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			logger.Warn("llm cache disabled", zap.Error(err))
			cacheDir = ""
		}
	}
	return &cachedModel{
		llm:      l,
		limiter:  ratelimit.New(rate, 0),
		cacheDir: cacheDir,
		logger:   logger,
	}
}

func (m *cachedModel) Call(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (*llm.Generation, error) {
	var cachePath string
	if m.cacheDir != "" {
		cachePath = filepath.Join(m.cacheDir, generateCacheKey(messages))
		if cached, err := readFromCache(cachePath); err == nil && cached.Content != "" {
			return cached, nil
		}
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := m.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, rag.NewError(rag.ErrLLMUnavailable, err, "extract call")
	}
	if result.Content == "" {
		return nil, rag.NewError(rag.ErrLLMUnavailable, nil, "empty extraction response")
	}

	if cachePath != "" {
		if err := writeToCache(cachePath, result); err != nil {
			m.logger.Warn("write llm cache failed", zap.Error(err))
		}
	}
	return result, nil
}

func generateCacheKey(messages []llm.Message) string {
	h := md5.New()
	for _, message := range messages {
		h.Write([]byte(message.Content))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func readFromCache(cacheFilePath string) (*llm.Generation, error) {
	data, err := os.ReadFile(cacheFilePath)
	if err != nil {
		return nil, err
	}
	var result llm.Generation
	if err = json.Unmarshal(data, &result); err != nil {
		_ = os.Remove(cacheFilePath)
		return nil, err
	}
	return &result, nil
}

func writeToCache(cacheFilePath string, result *llm.Generation) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return os.WriteFile(cacheFilePath, data, 0o644)
}
