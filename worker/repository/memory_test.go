package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func seed(repo *MemoryRepo, id string) {
	repo.Seed(&Job{
		ID:         id,
		Type:       "reproject",
		Status:     StatusPending,
		InputRefs:  []string{"uploads/a/in.tif"},
		Parameters: []byte(`{"target_crs":"EPSG:4326"}`),
		Deadline:   time.Now().Add(time.Hour),
	})
}

func TestClaimJob_Transitions(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	seed(repo, "job-1")

	result, err := repo.ClaimJob(ctx, "job-1", 5)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if result != Claimed {
		t.Fatalf("Expected Claimed, got %v", result)
	}

	// A second delivery of the same message is a no-op.
	result, err = repo.ClaimJob(ctx, "job-1", 5)
	if err != nil {
		t.Fatalf("Duplicate claim errored: %v", err)
	}
	if result != ClaimNoop {
		t.Errorf("Expected ClaimNoop on duplicate, got %v", result)
	}

	if _, err := repo.ClaimJob(ctx, "ghost", 5); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimJob_CeilingNeverExceeded(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	const ceiling = 5
	const jobs = 20

	for i := 0; i < jobs; i++ {
		seed(repo, fmt.Sprintf("job-%d", i))
	}

	var wg sync.WaitGroup
	results := make(chan ClaimResult, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			result, err := repo.ClaimJob(ctx, id, ceiling)
			if err != nil {
				t.Errorf("ClaimJob %s failed: %v", id, err)
				return
			}
			results <- result
		}(fmt.Sprintf("job-%d", i))
	}
	wg.Wait()
	close(results)

	claimed, full := 0, 0
	for result := range results {
		switch result {
		case Claimed:
			claimed++
		case ClaimCeilingFull:
			full++
		}
	}

	if claimed != ceiling {
		t.Errorf("Expected exactly %d claims, got %d", ceiling, claimed)
	}
	if full != jobs-ceiling {
		t.Errorf("Expected %d ceiling rejections, got %d", jobs-ceiling, full)
	}

	inFlight := 0
	for i := 0; i < jobs; i++ {
		job, _, _, _, _ := repo.Snapshot(fmt.Sprintf("job-%d", i))
		if job.Status == StatusProcessing {
			inFlight++
		}
	}
	if inFlight != ceiling {
		t.Errorf("Expected %d processing jobs, got %d", ceiling, inFlight)
	}
}

func TestClaimJob_SlotFreedAfterTerminal(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	seed(repo, "job-1")
	seed(repo, "job-2")

	if result, _ := repo.ClaimJob(ctx, "job-1", 1); result != Claimed {
		t.Fatal("Expected first claim to succeed")
	}
	if result, _ := repo.ClaimJob(ctx, "job-2", 1); result != ClaimCeilingFull {
		t.Fatal("Expected second claim to hit the ceiling")
	}

	if err := repo.CompleteJob(ctx, "job-1", "outputs/job-1/out.tif"); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	if result, _ := repo.ClaimJob(ctx, "job-2", 1); result != Claimed {
		t.Error("Expected claim to succeed after slot freed")
	}
}

func TestTerminalTransitions_ForwardOnly(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	// Completing a pending job skips processing and must conflict.
	seed(repo, "pending")
	if err := repo.CompleteJob(ctx, "pending", "ref"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete of pending: expected ErrInvalidTransition, got %v", err)
	}
	if err := repo.FailJob(ctx, "pending", ErrCodeInternal, "nope"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fail of pending: expected ErrInvalidTransition, got %v", err)
	}

	// Cancel works from pending and locks the job terminal.
	if err := repo.CancelJob(ctx, "pending"); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if err := repo.CancelJob(ctx, "pending"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Cancel of cancelled: expected ErrInvalidTransition, got %v", err)
	}
	if result, _ := repo.ClaimJob(ctx, "pending", 5); result != ClaimNoop {
		t.Error("Expected claim of cancelled job to be a no-op")
	}
}

func TestUpdateProgress_Monotonic(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	seed(repo, "job-1")
	repo.ClaimJob(ctx, "job-1", 5)

	repo.UpdateProgress(ctx, "job-1", 40)
	repo.UpdateProgress(ctx, "job-1", 20)

	job, _, _, _, _ := repo.Snapshot("job-1")
	if job.Progress != 40 {
		t.Errorf("Expected progress to stay at 40, got %d", job.Progress)
	}

	// Progress writes stop once the job is terminal.
	repo.CompleteJob(ctx, "job-1", "ref")
	repo.UpdateProgress(ctx, "job-1", 55)
	job, _, _, _, _ = repo.Snapshot("job-1")
	if job.Progress != 100 {
		t.Errorf("Expected terminal progress 100, got %d", job.Progress)
	}
}

func TestExpireDeadlines(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	repo.Seed(&Job{ID: "late", Type: "clip", Status: StatusPending, Deadline: time.Now().Add(-time.Minute)})
	repo.ClaimJob(ctx, "late", 5)
	repo.Seed(&Job{ID: "fine", Type: "clip", Status: StatusPending, Deadline: time.Now().Add(time.Hour)})
	repo.ClaimJob(ctx, "fine", 5)

	ids, err := repo.ExpireDeadlines(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireDeadlines failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "late" {
		t.Fatalf("Expected [late], got %v", ids)
	}

	job, _, code, _, _ := repo.Snapshot("late")
	if job.Status != StatusFailed || code != ErrCodeTimeout {
		t.Errorf("Expected failed/timeout, got %s/%s", job.Status, code)
	}
}

func TestReclaimOrphans(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	seed(repo, "orphan")
	repo.ClaimJob(ctx, "orphan", 5)

	// Fresh heartbeat: nothing to reclaim.
	jobs, err := repo.ReclaimOrphans(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimOrphans failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("Expected no reclaims with fresh heartbeat, got %d", len(jobs))
	}

	// Stale heartbeat: job goes back to pending.
	time.Sleep(5 * time.Millisecond)
	jobs, err = repo.ReclaimOrphans(ctx, time.Now())
	if err != nil {
		t.Fatalf("ReclaimOrphans failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "orphan" {
		t.Fatalf("Expected [orphan], got %v", jobs)
	}
	if jobs[0].Status != StatusPending {
		t.Errorf("Expected reclaimed job pending, got %s", jobs[0].Status)
	}
}
