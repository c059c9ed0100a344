package cubic

import (
	"testing"
	"time"
)

func TestInitialWindow(t *testing.T) {
	if got := InitialWindow(1400); got != 3 {
		t.Errorf("InitialWindow(1400) = %d, want 3", got)
	}
	if got := InitialWindow(1095); got != 4 {
		t.Errorf("InitialWindow(1095) = %d, want 4", got)
	}
	if got := InitialWindow(576); got != 4 {
		t.Errorf("InitialWindow(576) = %d, want 4", got)
	}
}

func TestCubicSlowStartGrowsByAckCount(t *testing.T) {
	c := New(1400)
	start := c.Cwnd()
	now := time.Unix(0, 0)
	c.OnAck(now, 4, 50*time.Millisecond)
	if c.Cwnd() != start+4 {
		t.Fatalf("cwnd after slow-start ack = %d, want %d", c.Cwnd(), start+4)
	}
}

func TestCubicCongestionEventLowersWindow(t *testing.T) {
	c := New(1400)
	now := time.Unix(0, 0)
	// Drive cwnd well past any plausible ssthresh via repeated acks.
	for i := 0; i < 50; i++ {
		c.OnAck(now, 10, 50*time.Millisecond)
	}
	before := c.Cwnd()

	sentTime := now.Add(-10 * time.Millisecond)
	c.OnCongestionEvent(now, sentTime, false)

	if c.Cwnd() >= before {
		t.Fatalf("cwnd after congestion event = %d, want < %d", c.Cwnd(), before)
	}
	if c.Cwnd() != c.Ssthresh() {
		t.Fatalf("cwnd = %d, ssthresh = %d, want equal right after a cut", c.Cwnd(), c.Ssthresh())
	}
	if c.Cwnd() < MinWindow {
		t.Fatalf("cwnd = %d, want >= %d", c.Cwnd(), MinWindow)
	}
}

func TestCubicCongestionEventIgnoresStaleSend(t *testing.T) {
	c := New(1400)
	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		c.OnAck(now, 10, 50*time.Millisecond)
	}

	c.OnCongestionEvent(now, now.Add(-time.Millisecond), false)
	afterFirst := c.Cwnd()

	// A second event for a datagram sent before the first reduction must
	// not cut the window again.
	c.OnCongestionEvent(now.Add(time.Millisecond), now.Add(-2*time.Millisecond), false)
	if c.Cwnd() != afterFirst {
		t.Fatalf("cwnd after stale congestion event = %d, want unchanged %d", c.Cwnd(), afterFirst)
	}
}

func TestCubicPersistentCongestionResetsToMinWindow(t *testing.T) {
	c := New(1400)
	now := time.Unix(0, 0)
	for i := 0; i < 30; i++ {
		c.OnAck(now, 10, 50*time.Millisecond)
	}

	c.OnCongestionEvent(now, now.Add(-time.Millisecond), true)

	if c.Cwnd() != MinWindow {
		t.Fatalf("cwnd after persistent congestion = %d, want %d", c.Cwnd(), MinWindow)
	}
}

func TestCubicGrowthEventuallyAdvancesPastSsthresh(t *testing.T) {
	c := New(1400)
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		c.OnAck(now, 10, 50*time.Millisecond)
	}
	c.OnCongestionEvent(now, now.Add(-time.Millisecond), false)
	atCut := c.Cwnd()

	// Advance time and keep acking one datagram per RTT, as a steady-state
	// connection would; cwnd should climb back up rather than stall.
	for i := 1; i <= 200; i++ {
		now = now.Add(50 * time.Millisecond)
		c.OnAck(now, 1, 50*time.Millisecond)
	}
	if c.Cwnd() <= atCut {
		t.Fatalf("cwnd did not grow after the cut: still %d (cut was %d)", c.Cwnd(), atCut)
	}
}
