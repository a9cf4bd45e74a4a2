package protocol

// ConversationState is the durable per-thread snapshot carried between
// turns. It is treated as an immutable value: node handlers return a new
// state rather than mutating the loaded one.
type ConversationState struct {
	ThreadID string `json:"thread_id"`
	TenantID string `json:"tenant_id"`

	LastQuery      string `json:"last_query,omitempty"`
	LastAnswer     string `json:"last_answer,omitempty"`
	ContextSummary string `json:"context_summary,omitempty"`

	// PolicyThresholdDays is learned from a knowledge answer stating a
	// policy window (e.g. "30 days"). Nil until learned; once set it is
	// retained for the life of the thread.
	PolicyThresholdDays *int `json:"policy_threshold_days,omitempty"`

	// FailureCount counts consecutive out-of-scope turns.
	FailureCount int `json:"failure_count,omitempty"`

	// Escalated is sticky: once true it never resets within the thread.
	Escalated bool `json:"escalated,omitempty"`

	// At most one of the awaiting flags is true at any time.
	AwaitingIdentity         bool `json:"awaiting_identity,omitempty"`
	AwaitingIssueDescription bool `json:"awaiting_issue_description,omitempty"`

	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`

	// Pending issue fields live only between the turn that captures the
	// issue text and the turn that creates the ticket.
	PendingIssueText    string `json:"pending_issue_text,omitempty"`
	PendingIssueSummary string `json:"pending_issue_summary,omitempty"`
}

// NewConversationState returns the default state for a fresh thread.
func NewConversationState(threadID, tenantID string) ConversationState {
	return ConversationState{ThreadID: threadID, TenantID: tenantID}
}

// WithPolicyThreshold returns a copy of the state with the policy
// threshold set to days.
func (s ConversationState) WithPolicyThreshold(days int) ConversationState {
	s.PolicyThresholdDays = &days
	return s
}
