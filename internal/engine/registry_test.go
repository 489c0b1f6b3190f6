package engine

import (
	"testing"
	"time"

	"flyx/models"
)

func TestJobRegistry_CreateGetUpdate(t *testing.T) {
	r := NewJobRegistry()
	defer r.Shutdown()

	req := models.ExtractionRequest{Server: models.ServerPrimary, MediaType: models.MediaTypeMovie, ContentID: 603}
	r.Create("job-1", req)

	job, ok := r.Get("job-1")
	if !ok {
		t.Fatal("expected job to exist")
	}
	if job.State != models.JobPending {
		t.Errorf("State = %v, want Pending", job.State)
	}

	r.Update("job-1", func(j *models.ExtractionJob) {
		j.Phase = models.PhaseConnecting
		j.Progress = 15
	})

	job, _ = r.Get("job-1")
	if job.Phase != models.PhaseConnecting || job.Progress != 15 {
		t.Errorf("Update did not apply: phase=%v progress=%d", job.Phase, job.Progress)
	}
}

func TestJobRegistry_Get_UnknownJob(t *testing.T) {
	r := NewJobRegistry()
	defer r.Shutdown()

	_, ok := r.Get("missing")
	if ok {
		t.Error("expected ok=false for unknown job")
	}
}

func TestJobRegistry_SweepsTerminalJobAfterGraceWindow(t *testing.T) {
	r := NewJobRegistry()
	defer r.Shutdown()

	originalNow := timeNow
	defer func() { timeNow = originalNow }()

	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return current }

	r.Create("job-2", models.ExtractionRequest{Server: models.ServerPrimary, MediaType: models.MediaTypeMovie, ContentID: 1})
	r.Update("job-2", func(j *models.ExtractionJob) { j.Phase = models.PhaseComplete })

	// Still within the grace window: job must remain queryable.
	current = current.Add(terminalGrace - time.Second)
	r.sweep()
	if _, ok := r.Get("job-2"); !ok {
		t.Fatal("job swept before grace window elapsed")
	}

	// Past the grace window: job must be gone.
	current = current.Add(2 * time.Second)
	r.sweep()
	if _, ok := r.Get("job-2"); ok {
		t.Error("job not swept after grace window elapsed")
	}
}

func TestJobRegistry_NeverSweepsNonTerminalJob(t *testing.T) {
	r := NewJobRegistry()
	defer r.Shutdown()

	originalNow := timeNow
	defer func() { timeNow = originalNow }()

	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return current }

	r.Create("job-3", models.ExtractionRequest{Server: models.ServerPrimary, MediaType: models.MediaTypeMovie, ContentID: 1})
	r.Update("job-3", func(j *models.ExtractionJob) { j.Phase = models.PhaseNavigating })

	current = current.Add(time.Hour)
	r.sweep()

	if _, ok := r.Get("job-3"); !ok {
		t.Error("non-terminal job must never be swept regardless of age")
	}
}
