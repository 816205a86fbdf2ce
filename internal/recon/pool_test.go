package recon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// countingRunner tracks the highest number of concurrently running jobs.
type countingRunner struct {
	mu      sync.Mutex
	running int
	maxSeen int
	calls   int
}

func (r *countingRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	r.mu.Lock()
	r.running++
	r.calls++
	if r.running > r.maxSeen {
		r.maxSeen = r.running
	}
	r.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	return nil
}

func makeJobs(n int) []*Job {
	jobs := make([]*Job, n)
	for i := range jobs {
		jobs[i] = &Job{Slice: i, Name: "true"}
	}
	return jobs
}

func TestRunPoolBoundsConcurrency(t *testing.T) {
	r := &countingRunner{}
	if err := runPool(context.Background(), r, 3, makeJobs(12)); err != nil {
		t.Fatalf("runPool: %v", err)
	}
	if r.calls != 12 {
		t.Errorf("ran %d jobs, want 12", r.calls)
	}
	if r.maxSeen > 3 {
		t.Errorf("%d jobs ran concurrently, want at most 3", r.maxSeen)
	}
}

type funcRunner func(ctx context.Context, dir string, args []string) error

func (f funcRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	return f(ctx, dir, args)
}

func TestRunPoolReportsJobError(t *testing.T) {
	boom := errors.New("boom")
	n := 0
	r := funcRunner(func(ctx context.Context, dir string, args []string) error {
		n++
		if args[0] == "5" {
			return boom
		}
		return nil
	})
	jobs := make([]*Job, 8)
	for i := range jobs {
		jobs[i] = &Job{Slice: i, Args: []string{fmt.Sprint(i)}}
	}
	err := runPool(context.Background(), r, 1, jobs)
	if !errors.Is(err, boom) {
		t.Fatalf("runPool = %v, want boom", err)
	}
	if !strings.Contains(err.Error(), "slice 5") {
		t.Errorf("error %q does not name the failed slice", err)
	}
	// The barrier still waits for every job.
	if n != 8 {
		t.Errorf("ran %d jobs, want all 8", n)
	}
}

func TestRunPoolCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	r := funcRunner(func(ctx context.Context, dir string, args []string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})
	done := make(chan error, 1)
	go func() { done <- runPool(ctx, r, 1, makeJobs(4)) }()
	<-started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("runPool = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runPool did not return after cancellation")
	}
}

func TestExecRunner(t *testing.T) {
	if err := (ExecRunner{}).Run(context.Background(), t.TempDir(), "true"); err != nil {
		t.Errorf("true: %v", err)
	}
	err := (ExecRunner{}).Run(context.Background(), t.TempDir(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("failure output not captured: %v", err)
	}
}
