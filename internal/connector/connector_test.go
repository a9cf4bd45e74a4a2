package connector

import (
	"sync"
	"testing"
)

func TestThreadMap(t *testing.T) {
	m := NewThreadMap()

	if got := m.Get("telegram:100"); got != "" {
		t.Fatalf("fresh key returned %q", got)
	}

	m.Set("telegram:100", "th-a")
	m.Set("slack:C1:123.45", "th-b")

	if got := m.Get("telegram:100"); got != "th-a" {
		t.Errorf("Get = %q", got)
	}
	if got := m.Get("slack:C1:123.45"); got != "th-b" {
		t.Errorf("Get = %q", got)
	}

	m.Reset("telegram:100")
	if got := m.Get("telegram:100"); got != "" {
		t.Errorf("reset key returned %q", got)
	}
	if got := m.Get("slack:C1:123.45"); got != "th-b" {
		t.Errorf("unrelated key affected by reset: %q", got)
	}
}

func TestThreadMapConcurrent(t *testing.T) {
	m := NewThreadMap()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Set("chat", "th")
				m.Get("chat")
				m.Reset("chat")
			}
		}()
	}
	wg.Wait()
}
