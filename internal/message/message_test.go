package message

import "testing"

func TestStateTerminal(t *testing.T) {
	cases := map[State]bool{
		StateQueued:    false,
		StateScheduled: false,
		StateSending:   false,
		StateSent:      true,
		StateFailed:    true,
		StateCancelled: true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("State(%s).Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	if p, ok := ParsePriority("HIGH"); !ok || p != PriorityHigh {
		t.Fatalf("ParsePriority(HIGH) = %v, %v", p, ok)
	}
	if _, ok := ParsePriority("BOGUS"); ok {
		t.Fatalf("ParsePriority(BOGUS) should fail")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	sched := int64(5)
	orig := &Message{ID: "a", QueuePosition: &sched, Metadata: map[string]string{"k": "v"}}
	clone := orig.Clone()

	*clone.QueuePosition = 99
	clone.Metadata["k"] = "changed"

	if *orig.QueuePosition != 5 {
		t.Fatalf("mutating clone's QueuePosition affected original")
	}
	if orig.Metadata["k"] != "v" {
		t.Fatalf("mutating clone's Metadata affected original")
	}
}
