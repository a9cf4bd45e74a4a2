package protocol

// TurnRequest is one inbound user message for a conversation thread.
// An empty ThreadID means "start a new thread".
type TurnRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	TenantID string `json:"tenant_id"`
	Message  string `json:"message"`
}

// TurnResponse is the engine's answer for a single turn.
type TurnResponse struct {
	Answer    string `json:"answer"`
	Escalated bool   `json:"escalated"`
	TicketID  string `json:"ticket_id,omitempty"`
	ThreadID  string `json:"thread_id"`
}
