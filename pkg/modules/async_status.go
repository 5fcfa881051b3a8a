package modules

import (
	"context"

	"github.com/nexuscfg/nexus/pkg/async"
	"github.com/nexuscfg/nexus/pkg/types"
)

// AsyncStatusModule polls a previously-started asynchronous job by its
// jid, returning "running" until the job's marker files report it
// finished. It shares async.DefaultTracker with the scheduler's own
// async task dispatch so a jid handed back by one task can be checked
// by a later async_status task in the same run.
type AsyncStatusModule struct {
	*BaseModule
	tracker *async.Tracker
}

// NewAsyncStatusModule creates a new async_status module
func NewAsyncStatusModule() *AsyncStatusModule {
	doc := types.ModuleDoc{
		Name:        "async_status",
		Description: "Obtain status of asynchronous task",
		Parameters: map[string]types.ParamDoc{
			"jid": {
				Description: "Job or task identifier returned when the async task was started",
				Required:    true,
				Type:        "string",
			},
			"mode": {
				Description: "If started, poll status once; if cleanup, remove the job's marker files",
				Required:    false,
				Type:        "string",
				Default:     "status",
			},
		},
		Examples: []string{
			`- name: Check on an async job
  async_status:
    jid: "{{ async_job.ansible_job_id }}"
  register: job_result
  until: job_result.finished
  retries: 30
  delay: 2`,
		},
		Returns: map[string]string{
			"finished":  "Whether the job has completed",
			"stdout":    "Captured standard output, once finished",
			"stderr":    "Captured standard error, once finished",
			"exit_code": "Process exit code, once finished",
		},
	}

	return &AsyncStatusModule{
		BaseModule: NewBaseModule("async_status", doc),
		tracker:    async.DefaultTracker,
	}
}

// Validate validates the module arguments
func (m *AsyncStatusModule) Validate(args map[string]interface{}) error {
	if err := m.ValidateRequired(args, []string{"jid"}); err != nil {
		return err
	}
	if mode := m.GetStringArg(args, "mode", "status"); mode != "status" && mode != "cleanup" {
		return types.NewValidationError("mode", mode, "must be 'status' or 'cleanup'")
	}
	return nil
}

// Run executes the async_status module
func (m *AsyncStatusModule) Run(ctx context.Context, conn types.Connection, args map[string]interface{}) (*types.Result, error) {
	return m.ExecuteWithTiming(ctx, conn, args, func() (*types.Result, error) {
		host := m.GetHostFromConnection(conn)
		jid := m.GetStringArg(args, "jid", "")
		mode := m.GetStringArg(args, "mode", "status")

		if mode == "cleanup" {
			m.tracker.CleanupJob(ctx, conn, jid)
			return m.CreateSuccessResult(host, false, "job cleaned up", map[string]interface{}{
				"ansible_job_id": jid,
				"erased":         jid,
			}), nil
		}

		check, err := m.tracker.CheckStatus(ctx, conn, jid)
		if err != nil {
			return m.CreateErrorResult(host, "failed to check async job status", err), nil
		}

		switch check.Status {
		case async.NotFound:
			return m.CreateFailureResult(host, "could not find job", types.NewValidationError("jid", jid, "no such job"), map[string]interface{}{
				"ansible_job_id": jid,
				"finished":       false,
				"started":        false,
			}), nil
		case async.Running:
			return m.CreateSuccessResult(host, false, "job is still running", map[string]interface{}{
				"ansible_job_id": jid,
				"started":        true,
				"finished":       false,
			}), nil
		default: // async.Finished
			data := map[string]interface{}{
				"ansible_job_id": jid,
				"started":        true,
				"finished":       true,
				"stdout":         check.Stdout,
				"stderr":         check.Stderr,
				"exit_code":      check.ExitCode,
				"rc":             check.ExitCode,
			}
			if check.ExitCode != 0 {
				return m.CreateFailureResult(host, "async job exited non-zero", types.NewValidationError("exit_code", check.ExitCode, "non-zero exit"), data), nil
			}
			return m.CreateSuccessResult(host, check.ExitCode == 0, "async job finished", data), nil
		}
	})
}
