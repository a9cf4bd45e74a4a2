package engine

import "github.com/d3sk-io/d3sk/pkg/protocol"

// Node identifies a dialogue node handler. The set is closed so the
// router's dispatch can be checked exhaustively.
type Node int

const (
	NodeSmallTalk Node = iota
	NodeKnowledgeAnswer
	NodeAskIdentity
	NodeCollectIdentity
	NodeAskIssue
	NodeEscalate
	NodeOutOfScope
)

func (n Node) String() string {
	switch n {
	case NodeSmallTalk:
		return "small_talk"
	case NodeKnowledgeAnswer:
		return "knowledge_answer"
	case NodeAskIdentity:
		return "ask_identity"
	case NodeCollectIdentity:
		return "collect_identity"
	case NodeAskIssue:
		return "ask_issue"
	case NodeEscalate:
		return "escalate"
	case NodeOutOfScope:
		return "out_of_scope"
	}
	return "unknown"
}

// Route selects the node for this turn. The precedence order is
// load-bearing: escalation stickiness dominates everything, in-flight
// identity/issue capture dominates fresh intents, and a policy breach
// overrides whatever the classifier said.
func Route(st protocol.ConversationState, intent Intent, breach bool) Node {
	// 1. Escalated threads never re-enter the escalation funnel.
	if st.Escalated {
		switch intent {
		case IntentFAQ, IntentFollowup:
			return NodeKnowledgeAnswer
		default:
			return NodeSmallTalk
		}
	}

	// 2. Identity capture owns the turn while in progress.
	if st.AwaitingIdentity {
		return NodeCollectIdentity
	}

	// 3. Issue text captured this turn: escalate.
	if st.AwaitingIssueDescription && st.PendingIssueText != "" {
		return NodeEscalate
	}

	// 4–5. Policy breach or an explicit request starts the funnel:
	// identity first, then the issue description.
	if breach || intent == IntentEscalationRequest {
		if st.UserEmail == "" {
			return NodeAskIdentity
		}
		return NodeAskIssue
	}

	switch intent {
	case IntentGreeting, IntentSmallTalk:
		return NodeSmallTalk
	case IntentFAQ, IntentFollowup:
		return NodeKnowledgeAnswer
	}
	return NodeOutOfScope
}
