package main

import "testing"

func ticks(m *levelMonitor, signal bool, n int) levelEvent {
	buf := make([]int16, m.tickSamples)
	if signal {
		for i := range buf {
			if i%2 == 0 {
				buf[i] = 3000
			} else {
				buf[i] = -3000
			}
		}
	}
	var last levelEvent
	for i := 0; i < n; i++ {
		last = m.Observe(buf)
	}
	return last
}

func TestLevelWarnAfter8s(t *testing.T) {
	m := newLevelMonitor(false)
	for i := 0; i < 79; i++ {
		if ev := ticks(m, false, 1); ev != levelNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	if ev := ticks(m, false, 1); ev != levelSilent {
		t.Fatalf("expected levelSilent at tick 80, got %d", ev)
	}
}

func TestLevelWarnOnlyOnce(t *testing.T) {
	m := newLevelMonitor(false)
	ticks(m, false, 80)
	for i := 0; i < 400; i++ {
		if ev := ticks(m, false, 1); ev != levelNone {
			t.Fatalf("unexpected event %d at tick %d", ev, 80+i)
		}
	}
}

func TestLevelRestoredOnSignal(t *testing.T) {
	m := newLevelMonitor(false)
	ticks(m, false, 80)
	for i := 0; i < 80; i++ {
		if ticks(m, true, 1) == levelRestored {
			return
		}
	}
	t.Fatal("expected levelRestored after signal")
}

func TestLevelNoWarnWithSignal(t *testing.T) {
	m := newLevelMonitor(true)
	for i := 0; i < 400; i++ {
		if ev := ticks(m, true, 1); ev != levelNone {
			t.Fatalf("unexpected event %d at tick %d", ev, i)
		}
	}
}

func TestLevelIdleStop(t *testing.T) {
	m := newLevelMonitor(true)
	for i := 0; i < 299; i++ {
		if ticks(m, false, 1) == levelIdle {
			t.Fatalf("idle before 30s at tick %d", i)
		}
	}
	if ev := ticks(m, false, 1); ev != levelIdle {
		t.Fatalf("expected levelIdle at tick 300, got %d", ev)
	}
}

func TestLevelPartialTicksAccumulate(t *testing.T) {
	m := newLevelMonitor(false)
	half := make([]int16, m.tickSamples/2)
	for i := 0; i < 159; i++ {
		if ev := m.Observe(half); ev != levelNone {
			t.Fatalf("unexpected event after %d half ticks", i+1)
		}
	}
	if ev := m.Observe(half); ev != levelSilent {
		t.Fatalf("expected levelSilent after 80 whole ticks, got %d", ev)
	}
}

func TestLevelObserveReportsStrongestEvent(t *testing.T) {
	m := newLevelMonitor(true)
	buf := make([]int16, m.tickSamples*300)
	if ev := m.Observe(buf); ev != levelIdle {
		t.Fatalf("got %d, want levelIdle", ev)
	}
}
