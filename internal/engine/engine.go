package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// LLM produces a completion for a single prompt.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Retriever returns up to k passages relevant to query for a tenant.
// An empty slice means nothing matched; an error means the knowledge
// service could not be reached.
type Retriever interface {
	Retrieve(ctx context.Context, query, tenantID string, k int) ([]protocol.Passage, error)
}

// StateStore persists conversation state keyed by thread id. Load returns
// a fresh default state for threads it has never seen.
type StateStore interface {
	Load(ctx context.Context, threadID string) (protocol.ConversationState, error)
	Save(ctx context.Context, threadID string, st protocol.ConversationState) error
}

// Handoff carries everything the ticketing system needs to open a ticket.
type Handoff struct {
	ThreadID  string
	TenantID  string
	IssueText string
	BotAnswer string
	UserName  string
	UserEmail string
}

// TicketHandoff opens a support ticket and returns its id.
type TicketHandoff interface {
	CreateTicket(ctx context.Context, h Handoff) (string, error)
}

const (
	defaultTopK              = 3
	defaultClassifyTimeout   = 10 * time.Second
	defaultRetrieveTimeout   = 10 * time.Second
	defaultSynthesizeTimeout = 30 * time.Second
)

// Options tune engine behavior. Zero values select defaults.
type Options struct {
	// GreetingPrecheck short-circuits classification for greeting-shaped
	// messages without an LLM call.
	GreetingPrecheck bool

	// TopK is the number of passages requested per retrieval.
	TopK int

	ClassifyTimeout   time.Duration
	RetrieveTimeout   time.Duration
	SynthesizeTimeout time.Duration
}

// Engine runs one conversation turn at a time per thread: classify the
// message, check the learned policy window, route to a node, and persist
// the resulting state before any side effects become visible.
type Engine struct {
	llm        LLM
	retriever  Retriever
	store      StateStore
	tickets    TicketHandoff
	classifier *Classifier
	logger     *slog.Logger

	topK              int
	retrieveTimeout   time.Duration
	synthesizeTimeout time.Duration

	locks *threadLocks
}

// New builds an engine. All four collaborators are required.
func New(llm LLM, retriever Retriever, store StateStore, tickets TicketHandoff, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = defaultClassifyTimeout
	}
	if opts.RetrieveTimeout <= 0 {
		opts.RetrieveTimeout = defaultRetrieveTimeout
	}
	if opts.SynthesizeTimeout <= 0 {
		opts.SynthesizeTimeout = defaultSynthesizeTimeout
	}
	return &Engine{
		llm:       llm,
		retriever: retriever,
		store:     store,
		tickets:   tickets,
		classifier: &Classifier{
			LLM:              llm,
			Logger:           logger,
			GreetingPrecheck: opts.GreetingPrecheck,
			Timeout:          opts.ClassifyTimeout,
		},
		logger:            logger,
		topK:              opts.TopK,
		retrieveTimeout:   opts.RetrieveTimeout,
		synthesizeTimeout: opts.SynthesizeTimeout,
		locks:             newThreadLocks(),
	}
}

// ProcessTurn handles one user message on a thread. Turns on the same
// thread are serialized; turns on different threads run concurrently.
// An empty ThreadID starts a new thread.
func (e *Engine) ProcessTurn(ctx context.Context, req protocol.TurnRequest) (*protocol.TurnResponse, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	unlock := e.locks.lock(threadID)
	defer unlock()

	st, err := e.store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("engine: load state: %w", err)
	}
	if st.TenantID == "" {
		st.TenantID = req.TenantID
	}
	preEscalated := st.Escalated

	cls := e.classifier.Classify(ctx, st, req.Message)
	if cls.IssueText != "" {
		st.PendingIssueText = cls.IssueText
	}

	breach := IsBreach(st, req.Message)
	node := Route(st, cls.Intent, breach)
	e.logger.Debug("turn routed",
		"thread", threadID, "tenant", st.TenantID,
		"intent", cls.Intent, "breach", breach, "node", node)

	next, answer, err := e.dispatch(ctx, node, st, req.Message)
	if err != nil {
		// Nothing is persisted on a handler failure; the thread replays
		// the turn from its prior state.
		e.logger.Error("turn handler failed", "thread", threadID, "node", node, "error", err)
		return &protocol.TurnResponse{
			ThreadID:  threadID,
			Answer:    answerGenericApology,
			Escalated: preEscalated,
		}, nil
	}

	next.ThreadID = threadID
	next.LastQuery = req.Message
	next.LastAnswer = answer

	if node == NodeEscalate {
		return e.commitEscalation(ctx, threadID, next, answer)
	}

	if err := e.store.Save(ctx, threadID, next); err != nil {
		return nil, fmt.Errorf("engine: save state: %w", err)
	}
	return &protocol.TurnResponse{
		ThreadID:  threadID,
		Answer:    answer,
		Escalated: next.Escalated,
	}, nil
}

func (e *Engine) dispatch(ctx context.Context, node Node, st protocol.ConversationState, query string) (protocol.ConversationState, string, error) {
	switch node {
	case NodeSmallTalk:
		return e.handleSmallTalk(ctx, st, query)
	case NodeKnowledgeAnswer:
		return e.handleKnowledgeAnswer(ctx, st, query)
	case NodeAskIdentity:
		return e.handleAskIdentity(ctx, st, query)
	case NodeCollectIdentity:
		return e.handleCollectIdentity(ctx, st, query)
	case NodeAskIssue:
		return e.handleAskIssue(ctx, st, query)
	case NodeEscalate:
		return e.handleEscalate(ctx, st, query)
	case NodeOutOfScope:
		return e.handleOutOfScope(ctx, st, query)
	default:
		return st, "", fmt.Errorf("engine: unknown node %v", node)
	}
}

// commitEscalation persists the escalated state first and only then hands
// the ticket off. The persisted state never carries the pending issue
// fields, so a crash between the save and the handoff cannot re-create
// the ticket on a later turn.
func (e *Engine) commitEscalation(ctx context.Context, threadID string, st protocol.ConversationState, answer string) (*protocol.TurnResponse, error) {
	issueText := st.PendingIssueText
	issueSummary := st.PendingIssueSummary
	st.PendingIssueText = ""
	st.PendingIssueSummary = ""

	if err := e.store.Save(ctx, threadID, st); err != nil {
		return nil, fmt.Errorf("engine: save state: %w", err)
	}

	botAnswer := st.ContextSummary
	if botAnswer == "" {
		botAnswer = st.LastAnswer
	}
	issue := issueSummary
	if issue == "" {
		issue = issueText
	}

	ticketID, err := e.tickets.CreateTicket(ctx, Handoff{
		ThreadID:  threadID,
		TenantID:  st.TenantID,
		IssueText: issue,
		BotAnswer: botAnswer,
		UserName:  st.UserName,
		UserEmail: st.UserEmail,
	})
	if err != nil {
		// The thread is escalated either way; the handoff is not retried.
		return nil, fmt.Errorf("engine: ticket handoff: %w", err)
	}

	e.logger.Info("thread escalated", "thread", threadID, "tenant", st.TenantID, "ticket", ticketID)
	return &protocol.TurnResponse{
		ThreadID:  threadID,
		Answer:    answer,
		Escalated: true,
		TicketID:  ticketID,
	}, nil
}

func (e *Engine) synthesize(ctx context.Context, prompt string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, e.synthesizeTimeout)
	defer cancel()
	return e.llm.Complete(sctx, prompt)
}

// threadLocks hands out one mutex per live thread id. Entries are
// refcounted and dropped once the last holder unlocks.
type threadLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{entries: make(map[string]*lockEntry)}
}

func (l *threadLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	ent, ok := l.entries[key]
	if !ok {
		ent = &lockEntry{}
		l.entries[key] = ent
	}
	ent.refs++
	l.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		l.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}
