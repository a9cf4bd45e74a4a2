package ticket

import "github.com/d3sk-io/d3sk/internal/engine"

func handoffFixture() engine.Handoff {
	return engine.Handoff{
		ThreadID:  "th-9",
		TenantID:  "acme",
		IssueText: "double charge",
		BotAnswer: "Refunds take 14 business days.",
		UserName:  "Jo",
		UserEmail: "jo@example.com",
	}
}
