package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/barekit/ragchat/pkg/embedding"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/lock"
	"github.com/barekit/ragchat/pkg/prompt"
	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxMessageLength = 10000
	DefaultRequestTimeout   = 60 * time.Second
)

// TextEmbedder embeds a single message. *embedding.Service implements it.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TokenCounter estimates the number of tokens in text.
type TokenCounter func(text string) int

// Orchestrator runs chat turns: it persists the user message, enriches the
// prompt with similar messages from other sessions, calls the model and
// persists the reply.
type Orchestrator struct {
	store     store.Store
	embedder  TextEmbedder
	engine    retrieval.Engine
	provider  llm.Provider
	indexer   retrieval.Indexer
	locker    lock.Locker
	assembler *prompt.Assembler

	topK             int
	maxMessageLength int
	requestTimeout   time.Duration
	countTokens      TokenCounter
	logger           *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithIndexer registers an index that must see every stored embedding.
func WithIndexer(indexer retrieval.Indexer) Option {
	return func(o *Orchestrator) {
		o.indexer = indexer
	}
}

// WithLocker serializes turns per session.
func WithLocker(locker lock.Locker) Option {
	return func(o *Orchestrator) {
		o.locker = locker
	}
}

// WithAssembler replaces the default prompt assembler.
func WithAssembler(a *prompt.Assembler) Option {
	return func(o *Orchestrator) {
		o.assembler = a
	}
}

// WithTopK sets how many past messages are retrieved.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithMaxMessageLength sets the longest accepted message, in runes.
func WithMaxMessageLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxMessageLength = n
		}
	}
}

// WithRequestTimeout bounds a whole turn. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.requestTimeout = d
	}
}

// WithTokenCounter sets the function used to fill Message.TokenCount.
func WithTokenCounter(fn TokenCounter) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.countTokens = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator.
func New(s store.Store, embedder TextEmbedder, engine retrieval.Engine, provider llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:            s,
		embedder:         embedder,
		engine:           engine,
		provider:         provider,
		assembler:        prompt.NewAssembler(""),
		topK:             retrieval.DefaultTopK,
		maxMessageLength: DefaultMaxMessageLength,
		requestTimeout:   DefaultRequestTimeout,
		countTokens:      ApproxTokens,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ApproxTokens estimates roughly four characters per token.
func ApproxTokens(text string) int {
	n := (utf8.RuneCountInString(text) + 3) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// TurnResult is the outcome of a turn that reached the model successfully.
type TurnResult struct {
	Session          *store.Session
	UserMessage      *store.Message
	AssistantMessage *store.Message
	Prompt           *prompt.Prompt

	UserEmbedding      Outcome[*store.MessageEmbedding]
	Retrieval          Outcome[[]retrieval.Hit]
	AssistantEmbedding Outcome[*store.MessageEmbedding]
	Naming             Outcome[string]

	// PersistErr is set when the reply was produced but could not be stored.
	// AssistantMessage then has a zero ID.
	PersistErr error

	Trace []State
}

// Context returns the retrieved messages used in the prompt.
func (r *TurnResult) Context() []retrieval.Hit {
	return r.Retrieval.Value
}

// Warnings describes the degraded steps of the turn.
func (r *TurnResult) Warnings() []string {
	var out []string
	if r.UserEmbedding.Err != nil {
		out = append(out, "your message was saved but is not searchable")
	}
	if r.Retrieval.Err != nil {
		out = append(out, "past conversations were unavailable for this reply")
	}
	if r.PersistErr != nil {
		out = append(out, "the reply could not be saved")
	}
	if r.AssistantEmbedding.Err != nil {
		out = append(out, "the reply was saved but is not searchable")
	}
	if r.Naming.Err != nil {
		out = append(out, "the conversation could not be renamed")
	}
	return out
}

func (o *Orchestrator) enter(res *TurnResult, state State) {
	res.Trace = append(res.Trace, state)
	attrs := []any{"state", state}
	if res.Session != nil {
		attrs = append(attrs, "session_id", res.Session.ID)
	}
	o.logger.Debug("turn state", attrs...)
}

// Turn processes one user message. An empty sessionID targets the most
// recent session, creating one when none exists.
//
// Mandatory failures are returned as *ValidationError, *PersistenceError,
// *llm.CompletionError or *TimeoutError. Best-effort failures are recorded
// on the result.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, content string) (*TurnResult, error) {
	res := &TurnResult{}
	o.enter(res, StateReceived)

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &ValidationError{Reason: "message must not be empty"}
	}
	if n := utf8.RuneCountInString(content); n > o.maxMessageLength {
		return nil, &ValidationError{Reason: fmt.Sprintf("message is %d characters, the limit is %d", n, o.maxMessageLength)}
	}

	if o.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.requestTimeout)
		defer cancel()
	}
	start := time.Now()

	o.enter(res, StatePersistUser)
	sess, err := o.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, o.mandatoryFailure(ctx, StatePersistUser, "resolve session", err)
	}
	res.Session = sess

	if o.locker != nil {
		unlock, err := o.locker.Lock(ctx, sess.ID)
		if err != nil {
			return nil, o.mandatoryFailure(ctx, StatePersistUser, "lock session", err)
		}
		defer unlock()
	}

	userMsg := &store.Message{
		SessionID:  sess.ID,
		Role:       store.RoleUser,
		Content:    content,
		TokenCount: o.tokens(content),
	}
	if err := o.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, o.mandatoryFailure(ctx, StatePersistUser, "create user message", err)
	}
	res.UserMessage = userMsg

	o.enter(res, StateEmbedUser)
	queryVec, userEmb := o.embedMessage(ctx, userMsg)
	res.UserEmbedding = userEmb

	o.enter(res, StateRetrieveContext)
	history, hits, retrErr, err := o.gatherContext(ctx, sess.ID, userMsg.ID, queryVec)
	if err != nil {
		return nil, o.mandatoryFailure(ctx, StateRetrieveContext, "list messages", err)
	}
	if retrErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{State: StateRetrieveContext, Err: retrErr}
		}
		o.logger.Warn("retrieval unavailable, continuing without past context", "session_id", sess.ID, "error", retrErr)
		res.Retrieval = failed[[]retrieval.Hit](retrErr)
	} else {
		res.Retrieval = succeeded(hits)
	}

	o.enter(res, StateAssemblePrompt)
	res.Prompt = o.assembler.Assemble(history, res.Retrieval.Value, content)

	o.enter(res, StateCallModel)
	reply, err := o.provider.Chat(ctx, res.Prompt.Messages)
	if err == nil && strings.TrimSpace(reply.Content) == "" {
		err = &llm.CompletionError{Category: llm.CategoryServer, Err: errors.New("empty reply")}
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			o.logger.Error("model call timed out", "session_id", sess.ID, "error", err)
			return nil, &TimeoutError{State: StateCallModel, Err: err}
		}
		var ce *llm.CompletionError
		if !errors.As(err, &ce) {
			ce = llm.Classify(err, 0)
		}
		o.logger.Error("model call failed", "session_id", sess.ID, "category", ce.Category, "error", err)
		return nil, ce
	}

	o.enter(res, StatePersistAssistant)
	elapsed := time.Since(start)
	asstMsg := &store.Message{
		SessionID:      sess.ID,
		Role:           store.RoleAssistant,
		Content:        reply.Content,
		TokenCount:     o.tokens(reply.Content),
		ProcessingTime: &elapsed,
	}
	if err := o.store.CreateMessage(ctx, asstMsg); err != nil {
		o.logger.Error("failed to store reply", "session_id", sess.ID, "error", err)
		asstMsg.ID = 0
		if asstMsg.Timestamp.IsZero() {
			asstMsg.Timestamp = time.Now().UTC()
		}
		res.AssistantMessage = asstMsg
		res.PersistErr = &PersistenceError{Op: "create assistant message", Err: err}
		res.AssistantEmbedding = skipped[*store.MessageEmbedding]()
		res.Naming = skipped[string]()
		o.enter(res, StateComplete)
		return res, nil
	}
	res.AssistantMessage = asstMsg

	o.enter(res, StateEmbedAssistant)
	_, res.AssistantEmbedding = o.embedMessage(ctx, asstMsg)

	res.Naming = o.autoName(ctx, sess, history, content)

	o.enter(res, StateComplete)
	o.logger.Info("turn complete",
		"session_id", sess.ID,
		"context", len(res.Retrieval.Value),
		"history", len(history),
		"duration", elapsed,
	)
	return res, nil
}

func (o *Orchestrator) resolveSession(ctx context.Context, sessionID string) (*store.Session, error) {
	if sessionID == "" {
		return o.store.EnsureDefaultSession(ctx)
	}
	return o.store.GetSession(ctx, sessionID)
}

func (o *Orchestrator) tokens(text string) *int {
	n := o.countTokens(text)
	return &n
}

// mandatoryFailure converts err into the error returned for a failed
// mandatory step.
func (o *Orchestrator) mandatoryFailure(ctx context.Context, state State, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.logger.Error("turn timed out", "state", state, "op", op, "error", err)
		return &TimeoutError{State: state, Err: err}
	}
	o.logger.Error("turn failed", "state", state, "op", op, "error", err)
	return &PersistenceError{Op: op, Err: err}
}

// embedMessage embeds msg and stores the vector. The vector is returned even
// when storing it failed so it can still serve as a query.
func (o *Orchestrator) embedMessage(ctx context.Context, msg *store.Message) ([]float32, Outcome[*store.MessageEmbedding]) {
	vec, err := o.embedder.Embed(ctx, msg.Content)
	if err != nil {
		if !errors.Is(err, embedding.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", embedding.ErrUnavailable, err)
		}
		o.logger.Warn("failed to embed message", "message_id", msg.ID, "error", err)
		return nil, failed[*store.MessageEmbedding](err)
	}

	emb := &store.MessageEmbedding{
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		Content:   msg.Content,
		Role:      msg.Role,
		Embedding: vec,
	}
	if err := o.store.CreateEmbedding(ctx, emb); err != nil {
		o.logger.Warn("failed to store embedding", "message_id", msg.ID, "error", err)
		return vec, failed[*store.MessageEmbedding](&PersistenceError{Op: "create embedding", Err: err})
	}

	if o.indexer != nil {
		if err := o.indexer.Index(ctx, emb); err != nil {
			o.logger.Warn("failed to index embedding", "message_id", msg.ID, "error", err)
			return vec, Outcome[*store.MessageEmbedding]{Value: emb, Err: fmt.Errorf("index embedding: %w", err)}
		}
	}
	return vec, succeeded(emb)
}

// gatherContext reads the session history and searches other sessions
// concurrently. A history failure is returned as err; a search failure as
// retrErr.
func (o *Orchestrator) gatherContext(ctx context.Context, sessionID string, currentID int64, query []float32) (history []*store.Message, hits []retrieval.Hit, retrErr, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		msgs, err := o.store.ListMessages(gctx, sessionID)
		if err != nil {
			return err
		}
		history = make([]*store.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.ID != currentID {
				history = append(history, m)
			}
		}
		return nil
	})

	g.Go(func() error {
		if query == nil {
			retrErr = fmt.Errorf("%w: no query vector", embedding.ErrUnavailable)
			return nil
		}
		found, err := o.engine.Search(gctx, query, sessionID, o.topK)
		if err == nil && o.indexer != nil {
			found, err = o.dropOrphans(gctx, found)
		}
		if err != nil {
			retrErr = fmt.Errorf("%w: %w", embedding.ErrUnavailable, err)
			return nil
		}
		hits = found
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return history, hits, retrErr, nil
}

// dropOrphans removes hits of sessions the store no longer has. An engine
// with its own index lags behind a delete whose index drop failed.
func (o *Orchestrator) dropOrphans(ctx context.Context, hits []retrieval.Hit) ([]retrieval.Hit, error) {
	live := make(map[string]bool)
	kept := hits[:0]
	for _, h := range hits {
		ok, seen := live[h.SessionID]
		if !seen {
			_, err := o.store.GetSession(ctx, h.SessionID)
			switch {
			case err == nil:
				ok = true
			case errors.Is(err, store.ErrNotFound):
				o.logger.Warn("dropping hit of deleted session", "session_id", h.SessionID, "message_id", h.MessageID)
			default:
				return nil, err
			}
			live[h.SessionID] = ok
		}
		if ok {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// autoName renames a session still carrying a placeholder name after its
// first exchange. prior is the history before the current user message.
func (o *Orchestrator) autoName(ctx context.Context, sess *store.Session, prior []*store.Message, userMessage string) Outcome[string] {
	if !store.IsDefaultName(sess.Name) {
		return skipped[string]()
	}
	for _, m := range prior {
		if m.Role == store.RoleAssistant {
			return skipped[string]()
		}
	}

	name := DeriveName(userMessage)
	if err := o.store.UpdateSessionName(ctx, sess.ID, name); err != nil {
		o.logger.Warn("failed to rename session", "session_id", sess.ID, "error", err)
		return failed[string](&PersistenceError{Op: "rename session", Err: err})
	}
	sess.Name = name
	o.logger.Info("session renamed", "session_id", sess.ID, "name", name)
	return succeeded(name)
}
