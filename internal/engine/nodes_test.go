package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

type fakeRetriever struct {
	mu       sync.Mutex
	passages []protocol.Passage
	err      error
	queries  []string
	tenants  []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query, tenantID string, _ int) ([]protocol.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.tenants = append(f.tenants, tenantID)
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

type memStore struct {
	mu      sync.Mutex
	states  map[string]protocol.ConversationState
	loadErr error
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]protocol.ConversationState)}
}

func (m *memStore) Load(_ context.Context, threadID string) (protocol.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return protocol.ConversationState{}, m.loadErr
	}
	if st, ok := m.states[threadID]; ok {
		return st, nil
	}
	return protocol.NewConversationState(threadID, ""), nil
}

func (m *memStore) Save(_ context.Context, threadID string, st protocol.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.states[threadID] = st
	return nil
}

func (m *memStore) get(threadID string) protocol.ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[threadID]
}

type fakeTickets struct {
	mu       sync.Mutex
	err      error
	handoffs []Handoff
}

func (f *fakeTickets) CreateTicket(_ context.Context, h Handoff) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.handoffs = append(f.handoffs, h)
	return "tk-001", nil
}

func (f *fakeTickets) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handoffs)
}

func newTestEngine(llm LLM, ret Retriever, store StateStore, tickets TicketHandoff, opts Options) *Engine {
	return New(llm, ret, store, tickets, nil, opts)
}

func TestKnowledgeAnswerLearnsPolicyThreshold(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"Returns are accepted within 30 days of purchase.",
		"Returns allowed within 30 days.",
	}}
	ret := &fakeRetriever{passages: []protocol.Passage{{Text: "Return policy: 30 days."}}}
	e := newTestEngine(llm, ret, newMemStore(), &fakeTickets{}, Options{})

	st := protocol.NewConversationState("t1", "acme")
	next, answer, err := e.handleKnowledgeAnswer(context.Background(), st, "what is the return policy?")
	if err != nil {
		t.Fatal(err)
	}
	if next.PolicyThresholdDays == nil || *next.PolicyThresholdDays != 30 {
		t.Fatalf("threshold = %v, want 30", next.PolicyThresholdDays)
	}
	if next.ContextSummary != "Returns allowed within 30 days." {
		t.Fatalf("summary = %q", next.ContextSummary)
	}
	if !strings.Contains(answer, "30 days") {
		t.Fatalf("answer = %q", answer)
	}
}

func TestKnowledgeAnswerBusinessDays(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"Refunds are processed within 14 business days.",
		"Refunds take 14 business days.",
	}}
	ret := &fakeRetriever{passages: []protocol.Passage{{Text: "Refund SLA."}}}
	e := newTestEngine(llm, ret, newMemStore(), &fakeTickets{}, Options{})

	next, _, err := e.handleKnowledgeAnswer(context.Background(), protocol.NewConversationState("t1", "acme"), "refund timing?")
	if err != nil {
		t.Fatal(err)
	}
	if next.PolicyThresholdDays == nil || *next.PolicyThresholdDays != 14 {
		t.Fatalf("threshold = %v, want 14", next.PolicyThresholdDays)
	}
}

func TestKnowledgeAnswerNoPassages(t *testing.T) {
	llm := &scriptedLLM{}
	ret := &fakeRetriever{}
	e := newTestEngine(llm, ret, newMemStore(), &fakeTickets{}, Options{})

	st := protocol.NewConversationState("t1", "acme").WithPolicyThreshold(30)
	next, answer, err := e.handleKnowledgeAnswer(context.Background(), st, "quantum warranty?")
	if err != nil {
		t.Fatal(err)
	}
	if answer != answerNoPassages {
		t.Fatalf("answer = %q", answer)
	}
	if *next.PolicyThresholdDays != 30 {
		t.Fatal("threshold changed on apology path")
	}
	if llm.calls() != 0 {
		t.Fatalf("apology path made %d LLM calls", llm.calls())
	}
}

func TestKnowledgeAnswerRetrievalErrorDegrades(t *testing.T) {
	llm := &scriptedLLM{}
	ret := &fakeRetriever{err: errors.New("connection refused")}
	e := newTestEngine(llm, ret, newMemStore(), &fakeTickets{}, Options{})

	_, answer, err := e.handleKnowledgeAnswer(context.Background(), protocol.NewConversationState("t1", "acme"), "return policy?")
	if err != nil {
		t.Fatal(err)
	}
	if answer != answerNoPassages {
		t.Fatalf("answer = %q", answer)
	}
}

func TestKnowledgeAnswerSynthesisFailure(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("rate limited")}
	ret := &fakeRetriever{passages: []protocol.Passage{{Text: "doc"}}}
	e := newTestEngine(llm, ret, newMemStore(), &fakeTickets{}, Options{})

	st := protocol.NewConversationState("t1", "acme")
	st.ContextSummary = "prior summary"
	next, answer, err := e.handleKnowledgeAnswer(context.Background(), st, "anything")
	if err != nil {
		t.Fatal(err)
	}
	if answer != answerKnowledgeUnavailable {
		t.Fatalf("answer = %q", answer)
	}
	if next.ContextSummary != "prior summary" {
		t.Fatalf("summary = %q, want prior kept", next.ContextSummary)
	}
}

func TestKnowledgeAnswerCombinesContext(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"yes", "summary"}}
	ret := &fakeRetriever{passages: []protocol.Passage{{Text: "doc"}}}
	e := newTestEngine(llm, ret, newMemStore(), &fakeTickets{}, Options{})

	st := protocol.NewConversationState("t1", "acme")
	st.ContextSummary = "Returns within 30 days."
	if _, _, err := e.handleKnowledgeAnswer(context.Background(), st, "does that cover sale items?"); err != nil {
		t.Fatal(err)
	}
	want := "Previous context:\nReturns within 30 days.\n\nUser follow-up:\ndoes that cover sale items?"
	if ret.queries[0] != want {
		t.Fatalf("retrieval query = %q", ret.queries[0])
	}
	if ret.tenants[0] != "acme" {
		t.Fatalf("tenant = %q", ret.tenants[0])
	}
}

func TestCollectIdentityParsesNameAndEmail(t *testing.T) {
	e := newTestEngine(&scriptedLLM{}, &fakeRetriever{}, newMemStore(), &fakeTickets{}, Options{})
	st := protocol.NewConversationState("t1", "acme")
	st.AwaitingIdentity = true

	cases := []struct {
		msg       string
		wantName  string
		wantEmail string
	}{
		{"John Doe, john.doe@example.com", "John Doe", "john.doe@example.com"},
		{"jane@corp.io Jane Smith", "Jane Smith", "jane@corp.io"},
		{"  a.b+tag@sub.domain.org  ", "Customer", "a.b+tag@sub.domain.org"},
	}
	for _, c := range cases {
		next, answer, err := e.handleCollectIdentity(context.Background(), st, c.msg)
		if err != nil {
			t.Fatal(err)
		}
		if next.UserName != c.wantName || next.UserEmail != c.wantEmail {
			t.Errorf("parse(%q) = %q / %q, want %q / %q", c.msg, next.UserName, next.UserEmail, c.wantName, c.wantEmail)
		}
		if next.AwaitingIdentity || !next.AwaitingIssueDescription {
			t.Errorf("parse(%q): flags identity=%v issue=%v", c.msg, next.AwaitingIdentity, next.AwaitingIssueDescription)
		}
		if !strings.HasPrefix(answer, "Thanks "+c.wantName+".") {
			t.Errorf("answer = %q", answer)
		}
	}
}

func TestCollectIdentityNoEmailReprompts(t *testing.T) {
	e := newTestEngine(&scriptedLLM{}, &fakeRetriever{}, newMemStore(), &fakeTickets{}, Options{})
	st := protocol.NewConversationState("t1", "acme")
	st.AwaitingIdentity = true

	next, answer, err := e.handleCollectIdentity(context.Background(), st, "my name is John")
	if err != nil {
		t.Fatal(err)
	}
	if answer != answerIdentityRetry {
		t.Fatalf("answer = %q", answer)
	}
	if !next.AwaitingIdentity || next.AwaitingIssueDescription {
		t.Fatal("identity capture should stay parked without an email")
	}
	if next.UserEmail != "" || next.UserName != "" {
		t.Fatalf("identity set from invalid message: %q / %q", next.UserName, next.UserEmail)
	}
}

func TestEscalateSummarizesIssue(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"Customer's refund is missing."}}
	e := newTestEngine(llm, &fakeRetriever{}, newMemStore(), &fakeTickets{}, Options{})

	st := protocol.NewConversationState("t1", "acme")
	st.AwaitingIssueDescription = true
	st.PendingIssueText = "I paid twice and the refund never came back"

	next, answer, err := e.handleEscalate(context.Background(), st, "")
	if err != nil {
		t.Fatal(err)
	}
	if !next.Escalated {
		t.Fatal("not escalated")
	}
	if next.AwaitingIdentity || next.AwaitingIssueDescription {
		t.Fatal("awaiting flags not cleared")
	}
	if next.PendingIssueSummary != "Customer's refund is missing." {
		t.Fatalf("summary = %q", next.PendingIssueSummary)
	}
	if answer != answerEscalated {
		t.Fatalf("answer = %q", answer)
	}
}

func TestEscalateSummaryFailureUsesRawText(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("rate limited")}
	e := newTestEngine(llm, &fakeRetriever{}, newMemStore(), &fakeTickets{}, Options{})

	st := protocol.NewConversationState("t1", "acme")
	st.PendingIssueText = "double charge on order 4411"

	next, _, err := e.handleEscalate(context.Background(), st, "")
	if err != nil {
		t.Fatal(err)
	}
	if next.PendingIssueSummary != "double charge on order 4411" {
		t.Fatalf("summary = %q", next.PendingIssueSummary)
	}
}

func TestSmallTalkFallsBackOnError(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("down")}
	e := newTestEngine(llm, &fakeRetriever{}, newMemStore(), &fakeTickets{}, Options{})

	_, answer, err := e.handleSmallTalk(context.Background(), protocol.NewConversationState("t1", "acme"), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if answer != answerSmallTalkFallback {
		t.Fatalf("answer = %q", answer)
	}
}

func TestOutOfScopeCountsFailures(t *testing.T) {
	e := newTestEngine(&scriptedLLM{}, &fakeRetriever{}, newMemStore(), &fakeTickets{}, Options{})
	st := protocol.NewConversationState("t1", "acme")
	st.FailureCount = 2

	next, answer, err := e.handleOutOfScope(context.Background(), st, "who won the game")
	if err != nil {
		t.Fatal(err)
	}
	if next.FailureCount != 3 {
		t.Fatalf("failure count = %d", next.FailureCount)
	}
	if answer != answerOutOfScope {
		t.Fatalf("answer = %q", answer)
	}
}
