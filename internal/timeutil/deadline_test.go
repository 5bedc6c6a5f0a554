package timeutil

import (
	"testing"
	"time"
)

func TestTracker_Remaining(t *testing.T) {
	tr := New(50 * time.Millisecond)
	if tr.Remaining() <= 0 {
		t.Fatalf("expected positive remaining time right after construction")
	}
	time.Sleep(60 * time.Millisecond)
	if tr.Remaining() != 0 {
		t.Fatalf("expected remaining to floor at zero after expiry, got %v", tr.Remaining())
	}
}

func TestTracker_ExpiredWithin(t *testing.T) {
	tr := New(10 * time.Millisecond)
	if tr.ExpiredWithin(0) {
		t.Fatalf("tracker should not be expired immediately")
	}
	time.Sleep(15 * time.Millisecond)
	if !tr.ExpiredWithin(20 * time.Millisecond) {
		t.Fatalf("tracker should report expired within a generous slop")
	}
}
