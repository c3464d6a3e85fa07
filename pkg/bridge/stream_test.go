package bridge

import (
	"testing"
	"time"
)

func TestStreamTracker_NewThenContinue(t *testing.T) {
	base := time.Unix(1700000000, 0)
	st := NewStreamTracker(300*time.Second, 5*time.Second)

	if v := st.Observe(0xABCD, base); v != StreamNew {
		t.Fatalf("first Observe = %v, want new", v)
	}
	for i := 1; i <= 20; i++ {
		if v := st.Observe(0xABCD, base.Add(time.Duration(i)*60*time.Millisecond)); v != StreamContinue {
			t.Fatalf("Observe #%d = %v, want continue", i, v)
		}
	}
	if st.Total() != 1 || st.Active() != 1 {
		t.Errorf("Total/Active = %d/%d, want 1/1", st.Total(), st.Active())
	}

	s, ok := st.Get(0xABCD)
	if !ok || !s.LastSeen.Equal(base.Add(1200*time.Millisecond)) {
		t.Errorf("LastSeen = %v, want refreshed by continuations", s.LastSeen)
	}
}

func TestStreamTracker_SuppressOncePerWindow(t *testing.T) {
	base := time.Unix(1700000000, 0)
	timeout := 300 * time.Second
	st := NewStreamTracker(timeout, time.Hour)

	st.Observe(7, base)
	if v := st.Observe(7, base.Add(timeout)); v != StreamContinue {
		t.Fatalf("at the bound = %v, want continue", v)
	}

	past := base.Add(timeout + time.Second)
	if v := st.Observe(7, past); v != StreamSuppress {
		t.Fatalf("past the bound = %v, want suppress", v)
	}
	if s, _ := st.Get(7); !s.TimedOut {
		t.Error("stream should be marked timed out")
	}
	if v := st.Observe(7, past.Add(time.Second)); v != StreamContinue {
		t.Fatalf("after suppression = %v, want continue", v)
	}
	if v := st.Observe(7, past.Add(timeout+2*time.Second)); v != StreamSuppress {
		t.Fatalf("next window = %v, want suppress again", v)
	}
	if st.Total() != 1 {
		t.Errorf("Total = %d, suppression must not count new streams", st.Total())
	}
}

func TestStreamTracker_Sweep(t *testing.T) {
	base := time.Unix(1700000000, 0)
	st := NewStreamTracker(0, 0)

	st.Observe(1, base)
	st.Observe(2, base)
	st.Observe(2, base.Add(4*time.Second))

	ended := st.Sweep(base.Add(6 * time.Second))
	if len(ended) != 1 || ended[0].ID != 1 {
		t.Fatalf("Sweep ended %+v, want only stream 1", ended)
	}
	if _, ok := st.Get(2); !ok {
		t.Error("stream 2 is still active")
	}

	if v := st.Observe(1, base.Add(7*time.Second)); v != StreamNew {
		t.Errorf("swept id seen again = %v, want new", v)
	}
	if st.Total() != 3 {
		t.Errorf("Total = %d, want 3", st.Total())
	}
}

func TestStreamTracker_ClockBackwards(t *testing.T) {
	base := time.Unix(1700000000, 0)
	st := NewStreamTracker(0, 0)
	st.Observe(1, base)

	if v := st.Observe(1, base.Add(-time.Second)); v != StreamSuppress {
		t.Errorf("Observe with clock behind start = %v, want suppress", v)
	}
	if ended := st.Sweep(base.Add(-time.Minute)); len(ended) != 1 {
		t.Errorf("Sweep with clock behind last seen ended %d streams, want 1", len(ended))
	}
}
