// Package async tracks background shell jobs started on a remote host:
// a task that asks to run asynchronously is handed off to a detached
// shell process whose PID, exit code and captured output are recovered
// later through a set of marker files left in /tmp.
package async

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nexuscfg/nexus/pkg/types"
)

// Status is the lifecycle state of an async job as last observed.
type Status string

const (
	Running  Status = "running"
	Finished Status = "finished"
	NotFound Status = "not_found"
)

// Job is an in-flight or completed async task.
type Job struct {
	ID      string
	Host    string
	PID     int
	Started time.Time
	Timeout time.Duration
}

func markerPath(id string) string     { return "/tmp/.nexus_async_" + id }
func outPath(id string) string        { return markerPath(id) + ".out" }
func errPath(id string) string        { return markerPath(id) + ".err" }
func statusPath(id string) string     { return markerPath(id) + ".status" }
func exitPath(id string) string       { return markerPath(id) + ".exit" }

// CheckResult is the outcome of polling a job once.
type CheckResult struct {
	Status   Status
	PID      int
	Stdout   string
	Stderr   string
	ExitCode int
}

// Tracker holds the in-memory registry of jobs started by this process.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	randHex func(n int) string
	nowFn   func() time.Time
}

// NewTracker builds an empty job tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]*Job),
		randHex: func(n int) string {
			buf := make([]byte, n)
			_, _ = rand.Read(buf)
			return hex.EncodeToString(buf)
		},
		nowFn: time.Now,
	}
}

// DefaultTracker is the process-wide tracker the scheduler's async
// task dispatch and the async_status module share, so a jid returned
// by one task's `async:` run can be polled by a later `async_status`
// task in the same process.
var DefaultTracker = NewTracker()

func (t *Tracker) newJobID() string {
	ts := t.nowFn().UnixMilli()
	return fmt.Sprintf("%x_%s", ts, t.randHex(4))
}

// StartJob launches command on conn as a detached, nohup'd background
// process and records its marker-file layout in the tracker.
func (t *Tracker) StartJob(ctx context.Context, conn types.Connection, host, command string, timeout time.Duration) (*Job, error) {
	id := t.newJobID()
	marker := markerPath(id)

	wrapped := fmt.Sprintf(
		`nohup sh -c '(%s) > %s 2> %s & echo $! > %s && echo "started:$!" > %s.status' >/dev/null 2>&1 &`,
		command, outPath(id), errPath(id), marker, marker,
	)

	if _, err := conn.Execute(ctx, wrapped, types.ExecuteOptions{}); err != nil {
		return nil, fmt.Errorf("starting async job: %w", err)
	}

	pid, err := readPID(ctx, conn, marker)
	if err != nil {
		return nil, fmt.Errorf("reading async job pid: %w", err)
	}

	job := &Job{ID: id, Host: host, PID: pid, Started: t.nowFn(), Timeout: timeout}
	t.mu.Lock()
	t.jobs[id] = job
	t.mu.Unlock()
	return job, nil
}

func readPID(ctx context.Context, conn types.Connection, marker string) (int, error) {
	// A freshly-dispatched nohup job may take a moment to flush $! to
	// the marker file; a few short retries absorbs that race.
	var lastErr error
	for i := 0; i < 10; i++ {
		result, err := conn.Execute(ctx, fmt.Sprintf("cat %s 2>/dev/null", marker), types.ExecuteOptions{})
		if err == nil && result.Success {
			if stdout, ok := result.Data["stdout"].(string); ok {
				if pid, perr := strconv.Atoi(strings.TrimSpace(stdout)); perr == nil {
					return pid, nil
				}
			}
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("marker file never populated")
	}
	return 0, lastErr
}

// CheckStatus inspects a job's liveness and, once finished, its output.
// A job started by a different Tracker instance (e.g. the async_status
// module polling a jid handed to it by an earlier, already-completed
// task invocation) is reattached from its marker file rather than
// rejected, since the marker file is the durable source of truth.
func (t *Tracker) CheckStatus(ctx context.Context, conn types.Connection, id string) (*CheckResult, error) {
	t.mu.RLock()
	job, ok := t.jobs[id]
	t.mu.RUnlock()

	probe, err := conn.Execute(ctx, fmt.Sprintf("test -f %s && echo present || echo missing", markerPath(id)), types.ExecuteOptions{})
	if err != nil {
		return nil, err
	}
	if !outputIs(probe, "present") {
		return &CheckResult{Status: NotFound}, nil
	}

	if !ok {
		pid, perr := readPID(ctx, conn, markerPath(id))
		if perr != nil {
			return &CheckResult{Status: NotFound}, nil
		}
		job = &Job{ID: id, PID: pid, Started: t.nowFn()}
		t.mu.Lock()
		t.jobs[id] = job
		t.mu.Unlock()
	}

	alive, err := conn.Execute(ctx, fmt.Sprintf("kill -0 %d 2>/dev/null && echo running || echo dead", job.PID), types.ExecuteOptions{})
	if err != nil {
		return nil, err
	}
	if outputIs(alive, "running") {
		return &CheckResult{Status: Running, PID: job.PID}, nil
	}

	return t.collectFinished(ctx, conn, id, job.PID)
}

func (t *Tracker) collectFinished(ctx context.Context, conn types.Connection, id string, pid int) (*CheckResult, error) {
	stdout, _ := readFileTolerant(ctx, conn, outPath(id))
	stderr, _ := readFileTolerant(ctx, conn, errPath(id))
	exitStr, _ := readFileTolerant(ctx, conn, exitPath(id))

	exitCode := 0
	if s := strings.TrimSpace(exitStr); s != "" {
		if code, err := strconv.Atoi(s); err == nil {
			exitCode = code
		}
	}

	return &CheckResult{
		Status:   Finished,
		PID:      pid,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}, nil
}

func readFileTolerant(ctx context.Context, conn types.Connection, path string) (string, error) {
	result, err := conn.Execute(ctx, fmt.Sprintf("cat %s 2>/dev/null", path), types.ExecuteOptions{})
	if err != nil || result == nil {
		return "", err
	}
	if stdout, ok := result.Data["stdout"].(string); ok {
		return stdout, nil
	}
	return "", nil
}

func outputIs(result *types.Result, want string) bool {
	if result == nil {
		return false
	}
	stdout, _ := result.Data["stdout"].(string)
	return strings.TrimSpace(stdout) == want
}

// PollUntilComplete polls a job every interval, up to maxRetries times,
// and returns the Task Output the scheduler should record: a changed
// result on a zero exit, a failed result on a non-zero exit, on
// not-found, or on timeout (after killing the remote process group).
func (t *Tracker) PollUntilComplete(ctx context.Context, conn types.Connection, id string, interval time.Duration, maxRetries int) (*types.Result, error) {
	for i := 0; i < maxRetries; i++ {
		result, err := t.CheckStatus(ctx, conn, id)
		if err != nil {
			return nil, err
		}
		switch result.Status {
		case Finished:
			t.CleanupJob(ctx, conn, id)
			return finishedResult(result), nil
		case NotFound:
			return &types.Result{Success: false, Changed: false, Message: "async job marker not found"}, nil
		case Running:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	t.KillJob(ctx, conn, id)
	return &types.Result{
		Success: false,
		Changed: false,
		Message: fmt.Sprintf("async job %s timed out waiting for completion", id),
	}, nil
}

func finishedResult(r *CheckResult) *types.Result {
	return &types.Result{
		Success: r.ExitCode == 0,
		Changed: r.ExitCode == 0,
		Message: strings.TrimSpace(r.Stderr),
		Data: map[string]interface{}{
			"stdout":    r.Stdout,
			"stderr":    r.Stderr,
			"exit_code": r.ExitCode,
		},
	}
}

// KillJob sends SIGTERM to the job's process group, then its process.
func (t *Tracker) KillJob(ctx context.Context, conn types.Connection, id string) {
	t.mu.RLock()
	job, ok := t.jobs[id]
	t.mu.RUnlock()
	if !ok {
		return
	}
	_, _ = conn.Execute(ctx, fmt.Sprintf("kill -TERM -%d 2>/dev/null", job.PID), types.ExecuteOptions{})
	_, _ = conn.Execute(ctx, fmt.Sprintf("kill -TERM %d 2>/dev/null", job.PID), types.ExecuteOptions{})
}

// CleanupJob removes a job's marker files and drops it from the tracker.
func (t *Tracker) CleanupJob(ctx context.Context, conn types.Connection, id string) {
	_, _ = conn.Execute(ctx, fmt.Sprintf("rm -f %s*", markerPath(id)), types.ExecuteOptions{})
	t.mu.Lock()
	delete(t.jobs, id)
	t.mu.Unlock()
}

// FireAndForget starts a job and returns immediately without polling,
// matching poll=0 semantics: started=true, finished=false, job_id=<id>.
func (t *Tracker) FireAndForget(ctx context.Context, conn types.Connection, host, command string, timeout time.Duration) (*types.Result, error) {
	job, err := t.StartJob(ctx, conn, host, command, timeout)
	if err != nil {
		return nil, err
	}
	return &types.Result{
		Success: true,
		Changed: true,
		Data: map[string]interface{}{
			"started":  true,
			"finished": false,
			"job_id":   job.ID,
		},
	}, nil
}
