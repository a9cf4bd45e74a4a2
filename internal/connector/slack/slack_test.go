package slackconn

import "testing"

func TestStripMention(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<@U123> what's the return policy?", "what's the return policy?"},
		{"no mention here", "no mention here"},
		{"<@U123>", ""},
		{"  <@U123>   hi  ", "hi"},
	}
	for _, c := range cases {
		if got := StripMention(c.in, "U123"); got != c.want {
			t.Errorf("StripMention(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestChatIDRoundTrip(t *testing.T) {
	if got := chatID("C1", ""); got != "C1" {
		t.Errorf("chatID = %q", got)
	}
	if got := chatID("C1", "171234.5678"); got != "C1:171234.5678" {
		t.Errorf("chatID = %q", got)
	}

	ch, ts := splitChatID("C1:171234.5678")
	if ch != "C1" || ts != "171234.5678" {
		t.Errorf("splitChatID = %q, %q", ch, ts)
	}
	ch, ts = splitChatID("C1")
	if ch != "C1" || ts != "" {
		t.Errorf("splitChatID = %q, %q", ch, ts)
	}
}

func TestIsAllowedChannel(t *testing.T) {
	c := &Connector{config: Config{Channels: []string{"C1", "C2"}}}
	if !c.isAllowedChannel("C1") {
		t.Error("C1 should be allowed")
	}
	if c.isAllowedChannel("C9") {
		t.Error("C9 should be blocked")
	}

	open := &Connector{}
	if !open.isAllowedChannel("anything") {
		t.Error("empty filter should allow all")
	}
}
