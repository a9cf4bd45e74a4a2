package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// Intent is a closed-set label classifying the purpose of one user message.
type Intent string

const (
	IntentGreeting          Intent = "greeting"
	IntentFAQ               Intent = "faq"
	IntentFollowup          Intent = "followup"
	IntentSmallTalk         Intent = "small_talk"
	IntentEscalationRequest Intent = "escalation_request"
	IntentOutOfScope        Intent = "out_of_scope"
)

var intentLabels = map[Intent]bool{
	IntentGreeting:          true,
	IntentFAQ:               true,
	IntentFollowup:          true,
	IntentSmallTalk:         true,
	IntentEscalationRequest: true,
	IntentOutOfScope:        true,
}

// greetingRe is the deterministic greeting pre-check. Word-bounded,
// case-insensitive.
var greetingRe = regexp.MustCompile(`(?i)\b(hi|hello|hey|namaste|how are you|hiya)\b`)

const intentPrompt = `You are an enterprise customer-support intent classifier.

Classify the message into ONE intent:
- greeting (hello, hi, thanks, ok, bye)
- faq (company policy / product / service)
- followup (related to previous answer)
- escalation_request (contact human, raise ticket)
- small_talk (hmm, okay, got it)
- out_of_scope (weather, celebrities, unrelated)

Message:
%s

Respond with a JSON object: {"intent": "<label>"}`

// Classification is the classifier's verdict for one message.
type Classification struct {
	Intent Intent
	// IssueText is set when the message was captured verbatim as the
	// user's issue description (the terminal step of the escalation
	// funnel). Empty otherwise.
	IssueText string
}

// Classifier maps free text to an intent label. A deterministic greeting
// pre-check and the in-flight escalation capture short-circuit the
// probabilistic call; classification failure degrades to faq, never
// aborting the turn.
type Classifier struct {
	LLM              LLM
	Logger           *slog.Logger
	GreetingPrecheck bool
	Timeout          time.Duration
}

// Classify produces the intent for the current turn.
func (c *Classifier) Classify(ctx context.Context, st protocol.ConversationState, query string) Classification {
	// Greeting pre-check runs before everything else, including the
	// escalated short-circuit: a greeting is a greeting either way.
	if c.GreetingPrecheck && greetingRe.MatchString(query) {
		return Classification{Intent: IntentGreeting}
	}

	// After escalation the thread is ordinary conversation again. Skip
	// the capture logic entirely so the funnel can never restart, but
	// still classify so the router can tell small talk from follow-ups.
	if !st.Escalated && st.AwaitingIssueDescription {
		return Classification{Intent: IntentEscalationRequest, IssueText: query}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := c.LLM.Complete(cctx, fmt.Sprintf(intentPrompt, query))
	if err != nil {
		c.logger().Warn("intent classification failed, defaulting to faq", "error", err)
		return Classification{Intent: IntentFAQ}
	}

	intent, err := parseIntentLabel(raw)
	if err != nil {
		c.logger().Warn("intent label parse failed, defaulting to faq", "raw", raw, "error", err)
		return Classification{Intent: IntentFAQ}
	}
	return Classification{Intent: intent}
}

func (c *Classifier) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// parseIntentLabel extracts the intent label from the model's response.
// Accepts a bare JSON object or one embedded in surrounding prose.
func parseIntentLabel(raw string) (Intent, error) {
	text := strings.TrimSpace(raw)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in response")
	}

	var out struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return "", fmt.Errorf("parse intent JSON: %w", err)
	}

	intent := Intent(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !intentLabels[intent] {
		return "", fmt.Errorf("unknown intent label %q", out.Intent)
	}
	return intent, nil
}
