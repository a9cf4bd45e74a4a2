package ticket

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/d3sk-io/d3sk/internal/engine"
	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// Handoff adapts a Store to the engine's ticket-creation interface.
// Every new ticket opens assigned to a human.
type Handoff struct {
	Store Store
}

func (h *Handoff) CreateTicket(ctx context.Context, e engine.Handoff) (string, error) {
	now := time.Now().UTC()
	t := &protocol.Ticket{
		ID:         uuid.NewString(),
		ThreadID:   e.ThreadID,
		TenantID:   e.TenantID,
		IssueText:  e.IssueText,
		BotAnswer:  e.BotAnswer,
		UserName:   e.UserName,
		UserEmail:  e.UserEmail,
		Status:     protocol.TicketOpen,
		AssignedTo: "HUMAN",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.Store.Create(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}
