package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// Fixed user-facing strings. These are part of the conversational
// contract, not presentation: tests and the widget match on them.
const (
	answerNoPassages = "I could not find relevant information in our knowledge base. " +
		"Please rephrase your question or request human support."

	answerKnowledgeUnavailable = "I'm having trouble accessing the knowledge base right now. " +
		"Please try again later or contact support."

	answerAskIdentity = "I understand this issue may need human support.\n\n" +
		"Before I raise a support ticket, please share your full name and " +
		"email address so our support team can contact you."

	answerIdentityRetry = "To create a support ticket, I need a valid email address.\n\n" +
		"Please reply with your full name and email in one message, " +
		"for example: John Doe, john.doe@example.com."

	answerAskIssue = "I understand this needs human support.\n\n" +
		"Before I raise a ticket, please describe your full issue " +
		"clearly in one message."

	answerEscalated = "Thank you. I've raised a support ticket for you. " +
		"Our human support team will contact you shortly."

	answerOutOfScope = "I can help with questions related to the company and its services."

	answerSmallTalkFallback = "Hi! I'm the support assistant. How can I help you today?"

	answerGenericApology = "Sorry, I couldn't process your request."
)

const ragPrompt = "You are a factual customer support assistant. Answer the QUESTION using ONLY the provided CONTEXT. " +
	"If the CONTEXT does not contain the answer, reply exactly: \"I'm sorry, I don't have that information in the " +
	"provided company documents. Please ask a question related to the company's documentation or contact human " +
	"support for other issues.\" Keep answers concise (1-3 sentences).\n\n" +
	"QUESTION: %s\n\nCONTEXT:\n%s"

var (
	emailRe      = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	policyDaysRe = regexp.MustCompile(`(\d+)\s*(business\s*)?days`)
)

// handleSmallTalk replies briefly and politely. No state-flag changes.
func (e *Engine) handleSmallTalk(ctx context.Context, st protocol.ConversationState, query string) (protocol.ConversationState, string, error) {
	answer, err := e.synthesize(ctx, "Reply politely and briefly to: "+query)
	if err != nil {
		e.logger.Warn("small talk synthesis failed, using canned reply", "thread", st.ThreadID, "error", err)
		answer = answerSmallTalkFallback
	}
	return st, answer, nil
}

// handleKnowledgeAnswer runs the retrieval pipeline: combine the rolling
// context summary with the message, retrieve tenant-scoped passages,
// synthesize an answer, learn any stated policy window, and refresh the
// one-line summary for follow-up disambiguation.
func (e *Engine) handleKnowledgeAnswer(ctx context.Context, st protocol.ConversationState, query string) (protocol.ConversationState, string, error) {
	combined := query
	if st.ContextSummary != "" {
		combined = fmt.Sprintf("Previous context:\n%s\n\nUser follow-up:\n%s", st.ContextSummary, query)
	}

	rctx, cancel := context.WithTimeout(ctx, e.retrieveTimeout)
	passages, err := e.retriever.Retrieve(rctx, combined, st.TenantID, e.topK)
	cancel()
	if err != nil {
		// Transport failure degrades to the no-passages path.
		e.logger.Warn("knowledge retrieval failed", "thread", st.ThreadID, "tenant", st.TenantID, "error", err)
		passages = nil
	}

	if len(passages) == 0 {
		return st, answerNoPassages, nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	answer, err := e.synthesize(ctx, fmt.Sprintf(ragPrompt, combined, strings.Join(texts, "\n\n")))
	if err != nil {
		e.logger.Warn("knowledge answer synthesis failed", "thread", st.ThreadID, "error", err)
		return st, answerKnowledgeUnavailable, nil
	}

	// Learn a stated policy window ("30 days", "14 business days").
	// First match wins and overwrites any prior threshold.
	if m := policyDaysRe.FindStringSubmatch(strings.ToLower(answer)); m != nil {
		if days, convErr := strconv.Atoi(m[1]); convErr == nil {
			st = st.WithPolicyThreshold(days)
		}
	}

	summary, err := e.synthesize(ctx, "Summarize this policy in one line:\n"+answer)
	if err != nil {
		// Keep the previous summary rather than losing follow-up context.
		e.logger.Warn("context summary synthesis failed", "thread", st.ThreadID, "error", err)
	} else {
		st.ContextSummary = strings.TrimSpace(summary)
	}

	return st, answer, nil
}

// handleAskIdentity opens the escalation funnel by asking for name and email.
func (e *Engine) handleAskIdentity(_ context.Context, st protocol.ConversationState, _ string) (protocol.ConversationState, string, error) {
	st.AwaitingIdentity = true
	st.AwaitingIssueDescription = false
	return st, answerAskIdentity, nil
}

// handleCollectIdentity parses name and email out of the message. Without
// a valid email the funnel stays parked on identity capture.
func (e *Engine) handleCollectIdentity(_ context.Context, st protocol.ConversationState, query string) (protocol.ConversationState, string, error) {
	email := emailRe.FindString(query)
	if email == "" {
		st.AwaitingIdentity = true
		st.AwaitingIssueDescription = false
		return st, answerIdentityRetry, nil
	}

	name := strings.ReplaceAll(query, email, "")
	name = strings.ReplaceAll(name, ",", " ")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = "Customer"
	}

	st.UserName = name
	st.UserEmail = email
	st.AwaitingIdentity = false
	st.AwaitingIssueDescription = true

	answer := fmt.Sprintf("Thanks %s. I'll connect you with our human support team.\n\n"+
		"Before I raise a ticket, please describe your full issue clearly "+
		"in one message so we can help you faster.", name)
	return st, answer, nil
}

// handleAskIssue asks for the issue description. Reached only when
// identity is already on file.
func (e *Engine) handleAskIssue(_ context.Context, st protocol.ConversationState, _ string) (protocol.ConversationState, string, error) {
	st.AwaitingIssueDescription = true
	return st, answerAskIssue, nil
}

// handleEscalate commits the sticky escalation. The pending issue fields
// survive the turn so the engine can hand the ticket off; they are
// cleared from the persisted state.
func (e *Engine) handleEscalate(ctx context.Context, st protocol.ConversationState, _ string) (protocol.ConversationState, string, error) {
	if st.PendingIssueSummary == "" && st.PendingIssueText != "" {
		summary, err := e.synthesize(ctx,
			"Summarize the following customer support issue in one clear "+
				"sentence, focusing only on the user's problem:\n\n"+st.PendingIssueText)
		if err != nil {
			e.logger.Warn("issue summary synthesis failed, using raw issue text", "thread", st.ThreadID, "error", err)
			summary = st.PendingIssueText
		}
		st.PendingIssueSummary = strings.TrimSpace(summary)
	}

	st.Escalated = true
	st.AwaitingIdentity = false
	st.AwaitingIssueDescription = false
	return st, answerEscalated, nil
}

// handleOutOfScope reminds the user of the assistant's scope.
func (e *Engine) handleOutOfScope(_ context.Context, st protocol.ConversationState, _ string) (protocol.ConversationState, string, error) {
	st.FailureCount++
	return st, answerOutOfScope, nil
}
