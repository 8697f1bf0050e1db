package metric

import "testing"

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.ElementsEmitted.Inc()
	r.ElementsEmitted.Inc()
	r.ElementsEmitted.Inc()
	r.SnapshotsTriggered.Inc()
	r.SnapshotsCompleted.Inc()
	r.SnapshotDuration.Observe(0.25)

	got, err := r.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	if got["streamvet_source_elements_emitted_total"] != 3 {
		t.Fatalf("elements_emitted = %v, want 3", got["streamvet_source_elements_emitted_total"])
	}
	if got["streamvet_snapshot_triggered_total"] != 1 {
		t.Fatalf("triggered = %v, want 1", got["streamvet_snapshot_triggered_total"])
	}
	if got["streamvet_snapshot_duration_seconds"] != 1 {
		t.Fatalf("duration sample count = %v, want 1", got["streamvet_snapshot_duration_seconds"])
	}
}

func TestJobsByStatus(t *testing.T) {
	r := NewRegistry()

	r.JobsByStatus.WithLabelValues("running").Inc()
	r.JobsByStatus.WithLabelValues("running").Dec()
	r.JobsByStatus.WithLabelValues("cancelled").Inc()

	got, err := r.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got["streamvet_cluster_jobs"] != 1 {
		t.Fatalf("jobs gauge sum = %v, want 1", got["streamvet_cluster_jobs"])
	}
}

func TestVerificationsVec(t *testing.T) {
	r := NewRegistry()

	r.VerificationsTotal.WithLabelValues("list", "pass").Inc()
	r.VerificationsTotal.WithLabelValues("union", "fail").Inc()

	got, err := r.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got["streamvet_verify_runs_total"] != 2 {
		t.Fatalf("verify runs = %v, want 2", got["streamvet_verify_runs_total"])
	}
}

func TestIndependentRegistries(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.SnapshotsFailed.Inc()

	got, err := b.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got["streamvet_snapshot_failed_total"] != 0 {
		t.Fatalf("registries must be independent, got %v", got["streamvet_snapshot_failed_total"])
	}
}
