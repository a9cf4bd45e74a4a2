package telegram

import "testing"

func TestContains(t *testing.T) {
	ids := []int64{100, 200, 300}

	if !contains(ids, 200) {
		t.Error("expected 200 to be allowed")
	}
	if contains(ids, 999) {
		t.Error("expected 999 to be blocked")
	}
	if contains(nil, 100) {
		t.Error("empty list should not match")
	}
}
