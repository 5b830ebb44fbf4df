package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bigf625oot/Tiga-sub000/llm"
	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	sentinels = []string{"[no-context]", "Authentication", "认证失败", "Sorry"}

	errSentinel   = errors.New("answer hit a sentinel")
	errEmpty      = errors.New("empty answer")
	errNoEvidence = errors.New("no evidence retrieved")
)

func hasSentinel(s string) bool {
	for _, x := range sentinels {
		if strings.Contains(s, x) {
			return true
		}
	}
	return false
}

type StreamerOption func(s *Streamer)

// WithMessages persists both turns of every call.
func WithMessages(m rag.MessageStore) StreamerOption {
	return func(s *Streamer) {
		s.messages = m
	}
}

// WithDocuments validates doc scope and resolves source titles.
func WithDocuments(d rag.DocumentStore) StreamerOption {
	return func(s *Streamer) {
		s.docs = d
	}
}

// WithStats supplies the markers of every processed document.
func WithStats(fn func(ctx context.Context) ([]string, error)) StreamerOption {
	return func(s *Streamer) {
		s.stats = fn
	}
}

func WithTemplate(tpl string) StreamerOption {
	return func(s *Streamer) {
		if tpl != "" {
			s.template = tpl
		}
	}
}

func WithSourcesHeader(header string) StreamerOption {
	return func(s *Streamer) {
		if header != "" {
			s.header = header
		}
	}
}

func WithLimits(l PromptLimits) StreamerOption {
	return func(s *Streamer) {
		s.limits = l
	}
}

// WithTemperature sets the sampling temperature of answer generation.
func WithTemperature(t float32) StreamerOption {
	return func(s *Streamer) {
		s.temperature = t
	}
}

func WithClock(now func() time.Time) StreamerOption {
	return func(s *Streamer) {
		s.now = now
	}
}

// Streamer answers one question as a newline-delimited stream: a think
// block, the answer body, then the sources block.
type Streamer struct {
	planner     *Planner
	llm         llm.LLM
	messages    rag.MessageStore
	docs        rag.DocumentStore
	stats       func(ctx context.Context) ([]string, error)
	template    string
	header      string
	limits      PromptLimits
	temperature float32
	now         func() time.Time
	logger      *zap.Logger
}

func NewStreamer(planner *Planner, l llm.LLM, opts ...StreamerOption) *Streamer {
	s := &Streamer{
		planner:  planner,
		llm:      l,
		template: DefaultSystemPrompt,
		header:   SourcesHeader,
		now:      time.Now,
		logger:   logger.Named("qa"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer is Stream without a consumer.
func (s *Streamer) Answer(ctx context.Context, req *Request) (*Answer, error) {
	return s.Stream(ctx, req, nil)
}

// attempt is the outcome of one generation.
type attempt struct {
	text    string
	sources []*rag.Source
	// emitted is set once any answer line reached the consumer
	emitted bool
	err     error
}

// Stream runs the whole QA flow. emit receives every segment in order,
// an emit error is treated as a client disconnect. The answer so far is
// persisted even when the stream is cancelled.
func (s *Streamer) Stream(ctx context.Context, req *Request, emit func(string) error) (*Answer, error) {
	if emit == nil {
		emit = func(string) error { return nil }
	}
	r := *req
	req = &r
	start := time.Now()
	log := s.logger.With(zap.Int64("doc_id", req.DocId), zap.String("scope", string(req.Scope)),
		zap.String("session_id", req.SessionId))

	var emitErr error
	out := func(seg string) error {
		if emitErr != nil {
			return emitErr
		}
		if err := ctx.Err(); err != nil {
			emitErr = err
			return err
		}
		if err := emit(seg); err != nil {
			emitErr = err
			return err
		}
		return nil
	}
	line := func(l string) {
		_ = out(l + "\n")
	}

	_ = out("<think>\n")
	line("正在初始化检索环境...")
	s.persist(ctx, &rag.ChatMessage{SessionId: req.SessionId, Role: string(llm.RoleUser), Content: req.Query}, log)

	if err := s.checkScope(ctx, req); err != nil {
		line(fmt.Sprintf("检索范围无效，改为全局检索: %v", err))
		log.Warn("invalid scope", zap.Error(err))
	}
	line(fmt.Sprintf("环境初始化完成 (%.3fs)", time.Since(start).Seconds()))
	target := "Global"
	if req.Filtered() {
		target = fmt.Sprint(req.DocId)
	}
	line(fmt.Sprintf("正在执行混合检索 (Scope: %s, DocID: %s)...", req.Scope, target))

	ret, err := s.planner.Retrieve(ctx, req, req.mode(), line)
	if err != nil {
		line(fmt.Sprintf("检索过程警告: %v", err))
		log.Warn("retrieve failed", zap.Error(err))
		ret = &Retrieval{}
	}
	line("正在调用大模型生成回答...")
	_ = out("</think>\n")
	if emitErr != nil {
		return s.cancelled(ctx, req, "", log)
	}

	answer := &Answer{}
	a := s.generate(ctx, req, ret, out)
	if !a.emitted && a.err != nil && ctx.Err() == nil && emitErr == nil {
		answer.Reason = "混合模式生成失败"
		if errors.Is(a.err, errSentinel) {
			answer.Reason = "触发敏感词屏蔽"
		}
		log.Info("hybrid answer unusable, retry in local mode", zap.Error(a.err))
		local, lerr := s.planner.Retrieve(ctx, req, ModeLocal, nil)
		if lerr != nil {
			local = &Retrieval{}
		}
		a = s.generate(ctx, req, local, out)
	}
	if ctx.Err() != nil || emitErr != nil {
		return s.cancelled(ctx, req, a.text, log)
	}
	if a.emitted {
		if a.err != nil {
			log.Warn("answer stream broke, keep partial answer", zap.Error(a.err))
		}
		answer.Text, answer.Sources = a.text, a.sources
	} else {
		if a.err != nil && answer.Reason == "" {
			answer.Reason = "本地模式生成无效"
		}
		answer.Text, answer.Sources = s.rawFallback(ret)
		if answer.Text == NoAnswer {
			answer.Reason = "向量检索无结果"
		} else {
			answer.Reason = "向量补救成功"
		}
		_ = out(answer.Text + "\n")
	}

	if lines := RenderSources(s.header, answer.Sources); len(lines) > 0 {
		_ = out("\n" + strings.Join(lines, "\n") + "\n")
	}
	if emitErr != nil {
		return s.cancelled(ctx, req, answer.Text, log)
	}
	s.persist(ctx, &rag.ChatMessage{
		SessionId: req.SessionId,
		Role:      string(llm.RoleAssistant),
		Content:   answer.Text,
		Sources:   answer.Sources,
	}, log)
	log.Info("qa done", zap.Int("answer_len", len(answer.Text)), zap.Int("sources", len(answer.Sources)),
		zap.String("reason", answer.Reason), zap.Duration("cost", time.Since(start)))
	return answer, nil
}

// checkScope downgrades an unusable doc scope to global.
func (s *Streamer) checkScope(ctx context.Context, req *Request) error {
	switch req.Scope {
	case ScopeGlobal:
		return nil
	case ScopeDoc, "":
		if req.DocId <= 0 {
			explicit := req.Scope == ScopeDoc
			req.Scope = ScopeGlobal
			if !explicit {
				return nil
			}
			return rag.NewError(rag.ErrInvalidScope, nil, "doc scope without doc id")
		}
		req.Scope = ScopeDoc
		if s.docs == nil {
			return nil
		}
		if _, err := s.docs.Get(ctx, req.DocId); err != nil {
			req.Scope = ScopeGlobal
			return rag.Errorf(rag.ErrInvalidScope, err, "unknown document %d", req.DocId)
		}
		return nil
	default:
		scope := req.Scope
		req.Scope = ScopeGlobal
		return rag.Errorf(rag.ErrInvalidScope, nil, "unknown scope %q", scope)
	}
}

func (s *Streamer) titleOf(ctx context.Context) func(int64) string {
	if s.docs == nil {
		return nil
	}
	return func(id int64) string {
		doc, err := s.docs.Get(ctx, id)
		if err != nil {
			return ""
		}
		return doc.Filename
	}
}

func (s *Streamer) system(ctx context.Context, req *Request, block string) string {
	var stats string
	if s.stats != nil {
		markers, err := s.stats(ctx)
		if err != nil {
			s.logger.Warn("load doc stats failed", zap.Error(err))
		}
		stats = DocStats(markers)
	}
	system := RenderPrompt(s.template, s.now(), stats, block, req.History, s.limits)
	if !strings.Contains(s.template, "{knowledge}") {
		system += "\n" + ContextHeader + "\n" + stats + block
	}
	if req.Filtered() {
		system += DocOnlyNotice(req.DocId)
	}
	return system
}

// generate runs one model call over ret. The answer is normalized line by
// line while it streams. The first answer line is held until it is known
// not to be a sentinel reply, so a rejected attempt emits nothing.
func (s *Streamer) generate(ctx context.Context, req *Request, ret *Retrieval, out func(string) error) *attempt {
	if len(ret.Chunks) == 0 {
		return &attempt{err: errNoEvidence}
	}
	block := ret.Render()
	if req.Filtered() {
		block = FilterContext(block, req.DocId)
	}
	parsed := ParseSources(block, s.titleOf(ctx))
	valid := make(map[int]bool, len(parsed))
	for _, p := range parsed {
		if p.CitationIndex > 0 {
			valid[p.CitationIndex] = true
		}
	}
	if len(valid) == 0 {
		return &attempt{err: errNoEvidence}
	}

	a := &attempt{}
	thinking := false
	closeThink := func() error {
		if !thinking {
			return nil
		}
		thinking = false
		return out("\n</think>\n")
	}
	first := true
	norm := newNormalizer(valid, func(l string) error {
		if first {
			first = false
			if hasSentinel(l) {
				return errSentinel
			}
		}
		if err := closeThink(); err != nil {
			return err
		}
		a.emitted = true
		return out(l)
	})

	streamed := false
	messages := llm.PrepareMessages(s.llm.Model(), s.system(ctx, req, block), ShapeQuery(req.Query))
	gen, err := s.llm.GenerateContent(ctx, messages,
		llm.WithTemperature(s.temperature),
		llm.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			streamed = true
			return norm.Write(string(chunk))
		}),
		llm.WithReasoningStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if !thinking {
				thinking = true
				if err := out("<think>\n"); err != nil {
					return err
				}
			}
			return out(string(chunk))
		}),
	)
	if err == nil && !streamed && gen != nil {
		err = norm.Write(gen.Content)
	}
	if err == nil {
		err = norm.Close()
	}
	if cerr := closeThink(); err == nil {
		err = cerr
	}
	a.text = norm.Text()
	switch {
	case errors.Is(err, errSentinel):
		a.err = errSentinel
	case err != nil:
		a.err = rag.NewError(rag.ErrLLMUnavailable, err, "generate answer")
	case a.text == "":
		a.err = errEmpty
	case hasSentinel(a.text) && !a.emitted:
		a.err = errSentinel
	}
	// a broken stream keeps the sources its emitted lines cite
	if a.err == nil || a.emitted {
		a.sources = CitedSources(parsed, a.text)
	}
	return a
}

// rawFallback answers with the retrieved chunks themselves.
func (s *Streamer) rawFallback(ret *Retrieval) (string, []*rag.Source) {
	var previews []string
	var sources []*rag.Source
	for _, c := range ret.Chunks {
		p := strings.TrimSpace(body(c.Content))
		if p == "" {
			continue
		}
		if r := []rune(p); len(r) > 200 {
			p = string(r[:200])
		}
		previews = append(previews, p)
		src := &rag.Source{Title: rag.StripMarker(c.FilePath), Content: p}
		if ids := rag.MarkerIds(c.FilePath); len(ids) > 0 {
			src.DocId = ids[0]
		}
		sources = append(sources, src)
		if len(previews) == 3 {
			break
		}
	}
	if len(previews) == 0 {
		return NoAnswer, nil
	}
	seen := make(map[string]bool)
	uniq := sources[:0]
	for _, src := range sources {
		if !seen[src.Title] {
			seen[src.Title] = true
			uniq = append(uniq, src)
		}
	}
	return RawChunkHeader + "\n\n" + strings.Join(previews, "\n\n"), uniq
}

func (s *Streamer) cancelled(ctx context.Context, req *Request, partial string, log *zap.Logger) (*Answer, error) {
	s.persist(context.WithoutCancel(ctx), &rag.ChatMessage{
		SessionId: req.SessionId,
		Role:      string(llm.RoleAssistant),
		Content:   partial,
	}, log)
	cause := ctx.Err()
	if cause == nil {
		cause = errors.New("consumer stopped reading")
	}
	log.Info("qa stream cancelled", zap.Int("partial_len", len(partial)))
	return &Answer{Text: partial}, rag.NewError(rag.ErrCancelledStream, cause, "qa stream")
}

func (s *Streamer) persist(ctx context.Context, msg *rag.ChatMessage, log *zap.Logger) {
	if s.messages == nil {
		return
	}
	msg.CreatedAt = s.now().Unix()
	if err := s.messages.Append(context.WithoutCancel(ctx), msg); err != nil {
		log.Error("persist chat message failed", zap.String("role", msg.Role), zap.Error(err))
	}
}
