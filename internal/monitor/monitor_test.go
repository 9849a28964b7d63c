package monitor

import (
	"testing"
	"time"
)

func TestHealthyToDegradedToHealthy(t *testing.T) {
	m := New(Config{MaxOutage: 10 * time.Second})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if state := m.Observe(true, now); state != StateHealthy {
		t.Fatalf("expected healthy, got %s", state)
	}

	if state := m.Observe(false, now.Add(time.Second)); state != StateDegraded {
		t.Fatalf("expected degraded after insufficient cycle, got %s", state)
	}

	if state := m.Observe(true, now.Add(2*time.Second)); state != StateHealthy {
		t.Fatalf("expected recovery to healthy, got %s", state)
	}
}

func TestDegradedToSuspendedAfterOutage(t *testing.T) {
	m := New(Config{MaxOutage: 10 * time.Second})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m.Observe(false, now)
	if state := m.Observe(false, now.Add(5*time.Second)); state != StateDegraded {
		t.Fatalf("expected degraded within outage bound, got %s", state)
	}

	if state := m.Observe(false, now.Add(11*time.Second)); state != StateSuspended {
		t.Fatalf("expected suspended after outage bound, got %s", state)
	}
}

func TestSuspendedRequiresReArm(t *testing.T) {
	m := New(Config{MaxOutage: 10 * time.Second})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m.Observe(false, now)
	m.Observe(false, now.Add(11*time.Second))

	// Sources recover but the monitor must not resume on its own.
	if state := m.Observe(true, now.Add(12*time.Second)); state != StateSuspended {
		t.Fatalf("expected suspended without re-arm, got %s", state)
	}
	if state := m.Observe(true, now.Add(13*time.Second)); state != StateSuspended {
		t.Fatalf("suspended must persist without re-arm, got %s", state)
	}

	m.ReArm()
	if state := m.Observe(true, now.Add(14*time.Second)); state != StateHealthy {
		t.Fatalf("expected healthy after re-arm and valid cycle, got %s", state)
	}
}

func TestReArmPendingUntilSourcesRecover(t *testing.T) {
	m := New(Config{MaxOutage: 10 * time.Second})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m.Observe(false, now)
	m.Observe(false, now.Add(11*time.Second))
	m.ReArm()

	// Still no valid index: the request stays pending.
	if state := m.Observe(false, now.Add(12*time.Second)); state != StateSuspended {
		t.Fatalf("expected suspended while sources are down, got %s", state)
	}

	status := m.Snapshot(now.Add(12 * time.Second))
	if !status.RearmPending {
		t.Fatalf("expected pending re-arm in status: %+v", status)
	}

	if state := m.Observe(true, now.Add(13*time.Second)); state != StateHealthy {
		t.Fatalf("expected healthy once sources recover, got %s", state)
	}
}

func TestReArmIgnoredOutsideSuspended(t *testing.T) {
	m := New(Config{MaxOutage: 10 * time.Second})
	m.ReArm()

	if status := m.Snapshot(time.Now()); status.RearmPending {
		t.Fatalf("re-arm outside suspended must be a no-op: %+v", status)
	}
}

func TestSnapshotReportsOutageDuration(t *testing.T) {
	m := New(Config{MaxOutage: time.Minute})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m.Observe(false, now)
	status := m.Snapshot(now.Add(30 * time.Second))

	if status.State != StateDegraded {
		t.Fatalf("expected degraded, got %s", status.State)
	}
	if status.OutageFor != 30*time.Second {
		t.Fatalf("expected 30s outage, got %s", status.OutageFor)
	}
	if status.RearmRequired {
		t.Fatalf("re-arm not required while degraded")
	}
}
