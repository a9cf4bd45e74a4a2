package protocol

import "time"

// TicketStatus represents the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "OPEN"
	TicketResolved TicketStatus = "RESOLVED"
)

// Ticket is a human-support handoff record created when a conversation
// escalates. IssueText is the customer's actual problem, not the bot's
// answer; BotAnswer is the last relevant thing the bot told them.
type Ticket struct {
	ID           string       `json:"ticket_id"`
	ThreadID     string       `json:"thread_id"`
	TenantID     string       `json:"tenant_id"`
	IssueText    string       `json:"issue_text"`
	BotAnswer    string       `json:"bot_answer,omitempty"`
	UserName     string       `json:"user_name,omitempty"`
	UserEmail    string       `json:"user_email,omitempty"`
	Status       TicketStatus `json:"status"`
	AssignedTo   string       `json:"assigned_to"`
	AdminRemarks string       `json:"admin_remarks,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
