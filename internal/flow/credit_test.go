package flow

import "testing"

func TestCreditController_OnOpenComplete(t *testing.T) {
	c := NewCreditController(10)
	initial := c.OnOpenComplete(2)
	if initial != 8 {
		t.Fatalf("expected initial flow of 8, got %d", initial)
	}
	if c.NextCreditToFlow() != 0 {
		t.Fatalf("expected accumulator reset to 0, got %d", c.NextCreditToFlow())
	}
}

func TestCreditController_BatchesUnderThreshold(t *testing.T) {
	c := NewCreditController(200) // threshold capped at 100
	c.OnOpenComplete(0)
	for i := 0; i < 99; i++ {
		if _, flush := c.OnMessagePolled(); flush {
			t.Fatalf("should not flush before reaching threshold, at poll %d", i)
		}
	}
	amount, flush := c.OnMessagePolled()
	if !flush || amount != 100 {
		t.Fatalf("expected a flush of 100 credits at the threshold, got %d, %v", amount, flush)
	}
	if c.NextCreditToFlow() != 0 {
		t.Fatalf("expected accumulator reset after flush")
	}
}

func TestCreditController_PrefetchDrainScenario(t *testing.T) {
	// prefetch=100, 100 messages delivered then drained by 10 receive(10)
	// calls; after each poll the accumulator increments, reaching 100 exactly
	// once.
	c := NewCreditController(100)
	c.OnOpenComplete(0)
	flushes := 0
	for i := 0; i < 100; i++ {
		if _, flush := c.OnMessagePolled(); flush {
			flushes++
		}
	}
	if flushes != 1 {
		t.Fatalf("expected exactly one flow(100) batch, got %d flushes", flushes)
	}
}

func TestCreditController_NegativeDeltaNeverFlushesBelowZero(t *testing.T) {
	c := NewCreditController(10)
	c.OnOpenComplete(0)
	amount, flush := c.OnPrefetchTargetChanged(2)
	if flush {
		t.Fatalf("a negative delta should not trigger a flush, got amount=%d", amount)
	}
	if c.PrefetchTarget() != 2 {
		t.Fatalf("expected prefetch target updated to 2, got %d", c.PrefetchTarget())
	}
}
