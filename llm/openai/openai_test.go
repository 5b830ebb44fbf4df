package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bigf625oot/Tiga-sub000/llm"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float32       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

func sseChunk(reasoning, content, finish string) string {
	delta := map[string]any{}
	if reasoning != "" {
		delta["reasoning_content"] = reasoning
	}
	if content != "" {
		delta["content"] = content
	}
	choice := map[string]any{"index": 0, "delta": delta}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"model":   "test",
		"choices": []any{choice},
	})
	return "data: " + string(b) + "\n\n"
}

// newServer speaks just enough of the OpenAI wire format for the client.
func newServer(t *testing.T, chunks []string, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			if got != nil {
				_ = json.Unmarshal(body, got)
			}
			w.Header().Set("Content-Type", "text/event-stream")
			for _, c := range chunks {
				_, _ = io.WriteString(w, c)
			}
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.Unmarshal(body, &req)
			data := make([]map[string]any, 0, len(req.Input))
			// reversed on purpose, the client must reorder by index
			for i := len(req.Input) - 1; i >= 0; i-- {
				data = append(data, map[string]any{
					"object":    "embedding",
					"index":     i,
					"embedding": []float32{float32(i), float32(len(req.Input[i]))},
				})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "emb"})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(t *testing.T, url string, opts ...Option) *LLM {
	t.Helper()
	client, err := New(append([]Option{WithToken("test"), WithBaseURL(url + "/v1")}, opts...)...)
	require.NoError(t, err)
	return client
}

func TestNew_MissingToken(t *testing.T) {
	t.Parallel()

	_, err := New()
	assert.Error(t, err)
}

func TestGenerateContent_Streaming(t *testing.T) {
	t.Parallel()

	var req chatRequest
	srv := newServer(t, []string{
		sseChunk("", "Alice ", ""),
		sseChunk("", "在 2024 年", ""),
		sseChunk("", "加入 [1]", "stop"),
	}, &req)
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithModel("gpt-4o-mini"))
	var streamed []string
	gen, err := client.GenerateContent(context.Background(),
		llm.PrepareMessages(client.Model(), "system prompt", "question"),
		llm.WithTemperature(0.2),
		llm.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			streamed = append(streamed, string(chunk))
			return nil
		}))
	require.NoError(t, err)
	assert.Equal(t, "Alice 在 2024 年加入 [1]", gen.Content)
	assert.Equal(t, []string{"Alice ", "在 2024 年", "加入 [1]"}, streamed)
	assert.Equal(t, "stop", gen.StopReason)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.True(t, req.Stream)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
}

func TestGenerateContent_ReasoningChannel(t *testing.T) {
	t.Parallel()

	var req chatRequest
	srv := newServer(t, []string{
		sseChunk("先想一想", "", ""),
		sseChunk("", "答案", "stop"),
	}, &req)
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithModel("deepseek-reasoner"))
	var reasoning strings.Builder
	gen, err := client.GenerateContent(context.Background(),
		llm.PrepareMessages(client.Model(), "system prompt", "question"),
		llm.WithReasoningStreamingFunc(func(_ context.Context, chunk []byte) error {
			reasoning.Write(chunk)
			return nil
		}))
	require.NoError(t, err)
	assert.Equal(t, "先想一想", gen.ReasoningContent)
	assert.Equal(t, "先想一想", reasoning.String())
	assert.Equal(t, "答案", gen.Content)

	require.Len(t, req.Messages, 1)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "system prompt")
	assert.Zero(t, req.Temperature)
}

func TestGenerateContent_StreamAbort(t *testing.T) {
	t.Parallel()

	srv := newServer(t, []string{sseChunk("", "a", ""), sseChunk("", "b", "")}, nil)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	var calls atomic.Int32
	stop := fmt.Errorf("client gone")
	gen, err := client.Generate(context.Background(), "q",
		llm.WithStreamingFunc(func(_ context.Context, _ []byte) error {
			calls.Add(1)
			return stop
		}))
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "a", gen.Content)
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	srv := newServer(t, nil, nil)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	vecs, err := client.Embed(context.Background(), "", []string{"a", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 3}}, vecs)

	empty, err := client.Embed(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
