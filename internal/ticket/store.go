package ticket

import (
	"context"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// Store is the persistence interface for support tickets.
type Store interface {
	// Create inserts a new ticket.
	Create(ctx context.Context, t *protocol.Ticket) error
	// Get retrieves a ticket by ID.
	Get(ctx context.Context, id string) (*protocol.Ticket, error)
	// List returns tickets matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error)
	// Resolve marks a ticket resolved with the admin's remarks.
	Resolve(ctx context.Context, id, remarks string) error
	// Delete removes a ticket.
	Delete(ctx context.Context, id string) error
	// CountByStatus returns ticket counts keyed by status.
	CountByStatus(ctx context.Context) (map[protocol.TicketStatus]int, error)
}

// Filter constrains ticket list queries.
type Filter struct {
	Status   *protocol.TicketStatus
	TenantID string
	ThreadID string
	Limit    int // 0 = no limit
}
