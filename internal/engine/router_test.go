package engine

import (
	"testing"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

var allIntents = []Intent{
	IntentGreeting, IntentFAQ, IntentFollowup,
	IntentSmallTalk, IntentEscalationRequest, IntentOutOfScope,
}

func TestRouteFreshThread(t *testing.T) {
	st := protocol.NewConversationState("t1", "acme")

	cases := []struct {
		intent Intent
		want   Node
	}{
		{IntentGreeting, NodeSmallTalk},
		{IntentSmallTalk, NodeSmallTalk},
		{IntentFAQ, NodeKnowledgeAnswer},
		{IntentFollowup, NodeKnowledgeAnswer},
		{IntentEscalationRequest, NodeAskIdentity},
		{IntentOutOfScope, NodeOutOfScope},
	}
	for _, c := range cases {
		if got := Route(st, c.intent, false); got != c.want {
			t.Errorf("Route(fresh, %s) = %s, want %s", c.intent, got, c.want)
		}
	}
}

func TestRouteBreachOverridesIntent(t *testing.T) {
	st := protocol.NewConversationState("t1", "acme").WithPolicyThreshold(30)
	for _, in := range allIntents {
		if got := Route(st, in, true); got != NodeAskIdentity {
			t.Errorf("Route(breach, %s) = %s, want %s", in, got, NodeAskIdentity)
		}
	}
}

func TestRouteBreachWithKnownIdentity(t *testing.T) {
	st := protocol.NewConversationState("t1", "acme")
	st.UserEmail = "jo@example.com"
	if got := Route(st, IntentFAQ, true); got != NodeAskIssue {
		t.Fatalf("Route = %s, want %s", got, NodeAskIssue)
	}
	if got := Route(st, IntentEscalationRequest, false); got != NodeAskIssue {
		t.Fatalf("Route = %s, want %s", got, NodeAskIssue)
	}
}

func TestRouteAwaitingIdentityOwnsTurn(t *testing.T) {
	st := protocol.NewConversationState("t1", "acme")
	st.AwaitingIdentity = true
	for _, in := range allIntents {
		if got := Route(st, in, false); got != NodeCollectIdentity {
			t.Errorf("Route(awaiting identity, %s) = %s, want %s", in, got, NodeCollectIdentity)
		}
	}
	// Breach does not restart the funnel mid-capture.
	if got := Route(st, IntentFAQ, true); got != NodeCollectIdentity {
		t.Errorf("Route(awaiting identity, breach) = %s", got)
	}
}

func TestRouteCapturedIssueEscalates(t *testing.T) {
	st := protocol.NewConversationState("t1", "acme")
	st.AwaitingIssueDescription = true
	st.PendingIssueText = "refund never arrived"
	if got := Route(st, IntentEscalationRequest, false); got != NodeEscalate {
		t.Fatalf("Route = %s, want %s", got, NodeEscalate)
	}
}

// Escalation is sticky: no combination of intent and breach ever routes
// an escalated thread back into the funnel.
func TestRouteEscalatedNeverReentersFunnel(t *testing.T) {
	base := protocol.NewConversationState("t1", "acme").WithPolicyThreshold(30)
	base.Escalated = true

	variants := []protocol.ConversationState{base}

	withPending := base
	withPending.PendingIssueText = "stale issue"
	withPending.AwaitingIssueDescription = true
	variants = append(variants, withPending)

	withIdentity := base
	withIdentity.AwaitingIdentity = true
	variants = append(variants, withIdentity)

	for _, st := range variants {
		for _, in := range allIntents {
			for _, breach := range []bool{false, true} {
				got := Route(st, in, breach)
				if got != NodeSmallTalk && got != NodeKnowledgeAnswer {
					t.Errorf("Route(escalated, %s, breach=%v) = %s", in, breach, got)
				}
			}
		}
	}
}

func TestRouteEscalatedSplitsByIntent(t *testing.T) {
	st := protocol.NewConversationState("t1", "acme")
	st.Escalated = true

	if got := Route(st, IntentFAQ, false); got != NodeKnowledgeAnswer {
		t.Errorf("Route(escalated, faq) = %s", got)
	}
	if got := Route(st, IntentFollowup, false); got != NodeKnowledgeAnswer {
		t.Errorf("Route(escalated, followup) = %s", got)
	}
	if got := Route(st, IntentEscalationRequest, false); got != NodeSmallTalk {
		t.Errorf("Route(escalated, escalation_request) = %s", got)
	}
}
