package recon

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Runner executes one external reconstruction process to completion. The
// default implementation shells out; tests substitute their own.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner runs the command as a child process with the given working
// directory. Cancelling the context kills the process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tail := strings.TrimSpace(string(out))
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		return fmt.Errorf("%s: %w: %s", name, err, tail)
	}
	return nil
}

// Job is one unit of parallel reconstruction work. It is owned by the pool
// for the duration of a single reconstruction call.
type Job struct {
	Slice int
	Dir   string
	Name  string
	Args  []string
	Err   error
}

// runPool executes the jobs on maxJobs workers, submitting in slice order,
// and blocks until every submitted job has finished. Completion order is
// unconstrained; callers re-associate outputs by slice index. The first
// failure is returned after the wait-all barrier so no orphan process is
// left behind.
func runPool(ctx context.Context, r Runner, maxJobs int, jobs []*Job) error {
	if maxJobs < 1 {
		maxJobs = 1
	}
	if maxJobs > len(jobs) {
		maxJobs = len(jobs)
	}

	feed := make(chan *Job)
	var wg sync.WaitGroup
	for w := 0; w < maxJobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range feed {
				log.Debugf("recon job for slice %d: %s %s", j.Slice, j.Name, strings.Join(j.Args, " "))
				j.Err = r.Run(ctx, j.Dir, j.Name, j.Args...)
			}
		}()
	}

submit:
	for i, j := range jobs {
		select {
		case feed <- j:
		case <-ctx.Done():
			for _, rest := range jobs[i:] {
				rest.Err = ctx.Err()
			}
			break submit
		}
	}
	close(feed)
	wg.Wait()

	for _, j := range jobs {
		if j.Err != nil {
			return fmt.Errorf("slice %d: %w", j.Slice, j.Err)
		}
	}
	return nil
}
