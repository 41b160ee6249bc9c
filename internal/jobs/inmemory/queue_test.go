package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/jobs"
)

func waitForStatus(t *testing.T, store jobs.JobStore, jobID string, want jobs.JobStatus) *jobs.AccountSyncJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached status %q (last seen: %+v)", jobID, want, job)
	return nil
}

func TestQueue_ProcessesJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var mu sync.Mutex
	handled := make(map[uuid.UUID]bool)
	handler := func(ctx context.Context, job jobs.Job) error {
		syncJob := job.(*jobs.AccountSyncJob)
		mu.Lock()
		handled[syncJob.AccountID] = true
		mu.Unlock()
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.AccountSyncJob{AccountID: uuid.New(), Trigger: "manual"}
	if err := q.PublishAccountSync(context.Background(), job); err != nil {
		t.Fatalf("PublishAccountSync() error = %v", err)
	}
	if job.JobID == "" {
		t.Fatal("PublishAccountSync() left JobID empty")
	}

	stored := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if stored.StartedAt == nil || stored.CompletedAt == nil {
		t.Error("completed job missing timestamps")
	}

	mu.Lock()
	defer mu.Unlock()
	if !handled[job.AccountID] {
		t.Error("handler never saw the published job")
	}
}

func TestQueue_FailedJobRecordsError(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		return errors.New("sync blew up")
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.AccountSyncJob{AccountID: uuid.New()}
	if err := q.PublishAccountSync(context.Background(), job); err != nil {
		t.Fatalf("PublishAccountSync() error = %v", err)
	}

	stored := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if stored.Error != "sync blew up" {
		t.Errorf("Error = %q, want handler error recorded", stored.Error)
	}
}

func TestQueue_SkippedJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		return jobs.ErrSkipped
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.AccountSyncJob{AccountID: uuid.New()}
	if err := q.PublishAccountSync(context.Background(), job); err != nil {
		t.Fatalf("PublishAccountSync() error = %v", err)
	}

	stored := waitForStatus(t, store, job.JobID, jobs.JobStatusSkipped)
	if stored.Error != "" {
		t.Errorf("Error = %q, want empty for a skipped job", stored.Error)
	}
}

func TestQueue_StopWaitsForInFlight(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)

	started := make(chan struct{})
	finished := make(chan struct{})
	handler := func(ctx context.Context, job jobs.Job) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := q.PublishAccountSync(context.Background(), &jobs.AccountSyncJob{AccountID: uuid.New()}); err != nil {
		t.Fatalf("PublishAccountSync() error = %v", err)
	}

	<-started
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-finished:
	default:
		t.Error("Stop() returned before the in-flight job finished")
	}
}

func TestQueue_StopUnblocksPendingPublish(t *testing.T) {
	// Unbuffered queue with no workers started: the publish below blocks on
	// the channel send and must not hold any lock Stop needs.
	q := NewQueue(0, 1, nil)

	published := make(chan error, 1)
	go func() {
		published <- q.PublishAccountSync(context.Background(), &jobs.AccountSyncJob{AccountID: uuid.New()})
	}()
	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-published:
		if err == nil {
			t.Error("PublishAccountSync() error = nil, want closed-queue error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("publish still blocked after Stop")
	}
}

func TestQueue_PublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.PublishAccountSync(context.Background(), &jobs.AccountSyncJob{AccountID: uuid.New()}); err == nil {
		t.Error("PublishAccountSync() error = nil, want closed-queue error")
	}
}

func TestStore_ListJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	accountA := uuid.New()
	accountB := uuid.New()
	seed := []*jobs.AccountSyncJob{
		{JobID: "j1", AccountID: accountA, Status: jobs.JobStatusCompleted},
		{JobID: "j2", AccountID: accountA, Status: jobs.JobStatusFailed},
		{JobID: "j3", AccountID: accountB, Status: jobs.JobStatusCompleted},
	}
	for _, j := range seed {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob(%s) error = %v", j.JobID, err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   int
	}{
		{"all", jobs.JobFilter{}, 3},
		{"by account", jobs.JobFilter{AccountID: accountA}, 2},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusCompleted}, 2},
		{"account and status", jobs.JobFilter{AccountID: accountA, Status: jobs.JobStatusFailed}, 1},
		{"limit", jobs.JobFilter{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("ListJobs() returned %d jobs, want %d", len(got), tt.want)
			}
		})
	}
}
