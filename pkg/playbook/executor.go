package playbook

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexuscfg/nexus/pkg/async"
	"github.com/nexuscfg/nexus/pkg/checkpoint"
	"github.com/nexuscfg/nexus/pkg/circuit"
	ectx "github.com/nexuscfg/nexus/pkg/context"
	"github.com/nexuscfg/nexus/pkg/retry"
	"github.com/nexuscfg/nexus/pkg/roles"
	"github.com/nexuscfg/nexus/pkg/runner"
	"github.com/nexuscfg/nexus/pkg/tags"
	"github.com/nexuscfg/nexus/pkg/types"
)

// Executor handles playbook execution: resolving a play's hosts, batching
// them per Serial, running pre_tasks/roles/tasks/post_tasks in order,
// draining notified handlers, and recursing into block/rescue/always and
// import/include task entries. Module dispatch for an individual task on
// an individual host is delegated to the configured types.Runner, which
// already knows how to validate args, connect, and apply changed_when/
// failed_when; the scheduler's job is everything around that single call:
// per-host variable scope, tag filtering, sudo precedence, async jobs,
// and the retry/circuit-breaker layer for tasks that opt into it.
type Executor struct {
	runner    types.Runner
	inventory types.Inventory
	varMgr    types.VarManager
	events    []types.EventCallback

	tagFilter        *tags.Filter
	breaker          *circuit.Breaker
	roleMgr          *roles.RoleManager
	incMgr           *IncludeManager
	playbookDir      string
	maxParallelHosts int

	cpStore *checkpoint.Store
	cp      *checkpoint.Checkpoint
}

// NewExecutor creates a new playbook executor
func NewExecutor(runner types.Runner, inventory types.Inventory, varMgr types.VarManager) *Executor {
	return &Executor{
		runner:      runner,
		inventory:   inventory,
		varMgr:      varMgr,
		events:      make([]types.EventCallback, 0),
		breaker:     circuit.NewBreaker(5, 30*time.Second),
		roleMgr:     roles.NewRoleManager([]string{"roles"}),
		incMgr:      NewIncludeManager("."),
		playbookDir: ".",
	}
}

// AddEventCallback adds an event callback
func (e *Executor) AddEventCallback(callback types.EventCallback) {
	e.events = append(e.events, callback)
}

// SetTagFilter installs the tag filter used by executeTaskOnHosts to skip
// tasks per should_run (§4.4). A nil filter (the default) runs everything.
func (e *Executor) SetTagFilter(f *tags.Filter) {
	e.tagFilter = f
}

// SetPlaybookDir sets the base directory import_tasks/include_tasks and
// role lookups resolve relative to.
func (e *Executor) SetPlaybookDir(dir string) {
	if dir == "" {
		dir = "."
	}
	e.playbookDir = dir
	e.incMgr = NewIncludeManager(dir)
}

// SetRoleManager overrides the default role manager, e.g. to point at a
// playbook-specific roles/ search path.
func (e *Executor) SetRoleManager(rm *roles.RoleManager) {
	e.roleMgr = rm
}

// SetMaxParallelHosts bounds how many hosts a task runs on concurrently
// when neither the task nor the play set a narrower throttle.
func (e *Executor) SetMaxParallelHosts(n int) {
	e.maxParallelHosts = n
}

// SetCircuitBreaker overrides the default breaker backing tasks with a
// circuit: name.
func (e *Executor) SetCircuitBreaker(b *circuit.Breaker) {
	e.breaker = b
}

// SetCheckpoint enables resume support: a task already marked complete
// for a host in cp is skipped rather than re-run, and the executor saves
// progress to store after every task completes on all its hosts.
func (e *Executor) SetCheckpoint(store *checkpoint.Store, cp *checkpoint.Checkpoint) {
	e.cpStore = store
	e.cp = cp
}

// checkpointID names a task for checkpoint purposes; tasks without a
// Name (uncommon, but legal) fall back to their module name, which means
// two unnamed same-module tasks in a row share an ID and only the first
// is resumable precisely - an accepted limitation of name-based keys.
func checkpointID(task *types.Task) string {
	if task.Name != "" {
		return task.Name
	}
	return task.Module.String()
}

// recordCheckpoint marks a task complete for every host it succeeded on
// (or ignored errors on) and snapshots that host's vars/registered
// outputs, saving once the whole task has finished across all its hosts.
func (e *Executor) recordCheckpoint(task *types.Task, hosts []types.Host, hostCtxs map[string]*ectx.ExecutionContext, results []types.Result) {
	if e.cp == nil || e.cpStore == nil {
		return
	}

	failedHosts := make(map[string]bool)
	for _, r := range results {
		if !r.Success {
			failedHosts[r.Host] = true
		}
	}

	id := checkpointID(task)
	for _, host := range hosts {
		if failedHosts[host.Name] && !task.IgnoreErrors {
			continue
		}
		e.cp.MarkCompleted(host.Name, id)
		if hc, ok := hostCtxs[host.Name]; ok {
			e.cp.SetVariables(host.Name, hc.Vars())
			e.cp.SetRegistered(host.Name, hc.RegisteredOutputs())
		}
	}

	if err := e.cpStore.Save(e.cp); err != nil {
		e.emitEvent(types.Event{Type: types.EventError, Timestamp: types.GetCurrentTime(), Error: fmt.Errorf("saving checkpoint: %w", err)})
	}
}

// emitEvent emits an event to all callbacks
func (e *Executor) emitEvent(event types.Event) {
	for _, callback := range e.events {
		callback(event)
	}
}

// taskRunner narrows e.runner to the concrete TaskRunner for the handful
// of operations (handler manager, raw Connect for async dispatch) the
// types.Runner interface does not expose. Returns nil for a runner that
// doesn't implement the concrete type, e.g. a test double.
func (e *Executor) taskRunner() *runner.TaskRunner {
	tr, _ := e.runner.(*runner.TaskRunner)
	return tr
}

// Execute executes a complete playbook
func (e *Executor) Execute(ctx context.Context, playbook *types.Playbook, extraVars map[string]interface{}) ([]types.Result, error) {
	var allResults []types.Result

	playbookVars := make(map[string]interface{})
	if playbook.Vars != nil {
		playbookVars = types.DeepMergeInterfaceMaps(playbookVars, playbook.Vars)
	}
	if extraVars != nil {
		playbookVars = types.DeepMergeInterfaceMaps(playbookVars, extraVars)
	}

	for i, play := range playbook.Plays {
		e.emitEvent(types.Event{
			Type:      types.EventPlayStart,
			Timestamp: types.GetCurrentTime(),
			Play:      play.Name,
			Data: map[string]interface{}{
				"play_index": i,
				"play_name":  play.Name,
			},
		})

		results, err := e.ExecutePlay(ctx, &play, playbookVars)
		allResults = append(allResults, results...)

		if err != nil {
			e.emitEvent(types.Event{
				Type:      types.EventError,
				Timestamp: types.GetCurrentTime(),
				Play:      play.Name,
				Error:     err,
			})
			return allResults, types.NewPlaybookError("playbook", play.Name, "", "play execution failed", err)
		}

		e.emitEvent(types.Event{
			Type:      types.EventPlayComplete,
			Timestamp: types.GetCurrentTime(),
			Play:      play.Name,
			Data: map[string]interface{}{
				"results_count": len(results),
			},
		})
	}

	return allResults, nil
}

// ExecutePlay executes a single play: resolve hosts, split into serial
// batches, and run each batch's pre_tasks/roles/tasks/post_tasks/handlers
// in turn. A batch failing any_errors_fatal or exceeding max_fail_percentage
// aborts the remaining batches.
func (e *Executor) ExecutePlay(ctx context.Context, play *types.Play, vars map[string]interface{}) ([]types.Result, error) {
	hosts, err := e.getPlayHosts(play)
	if err != nil {
		return nil, fmt.Errorf("failed to get hosts for play %s: %w", play.Name, err)
	}
	if len(hosts) == 0 {
		return []types.Result{}, nil
	}

	playVars := e.mergePlayVars(play, vars)

	hostCtxs := make(map[string]*ectx.ExecutionContext, len(hosts))
	for _, h := range hosts {
		hostCtxs[h.Name] = ectx.New(h, playVars)
	}

	if tr := e.taskRunner(); tr != nil {
		for _, h := range play.Handlers {
			_ = tr.GetHandlerManager().RegisterHandler(h)
		}
	}

	var allResults []types.Result

	batches := play.SerialBatches(len(hosts))
	offset := 0
	for _, size := range batches {
		if offset+size > len(hosts) {
			size = len(hosts) - offset
		}
		batchHosts := hosts[offset : offset+size]
		offset += size

		results, err := e.executeBatch(ctx, play, batchHosts, hostCtxs)
		allResults = append(allResults, results...)
		if err != nil {
			return allResults, err
		}

		if play.AnyErrorsFatal && anyFailed(results) {
			return allResults, fmt.Errorf("play %q aborted: any_errors_fatal triggered", play.Name)
		}
		if play.MaxFailPercentage > 0 && failPercentage(results, len(batchHosts)) > play.MaxFailPercentage {
			return allResults, fmt.Errorf("play %q aborted: failures exceeded max_fail_percentage", play.Name)
		}
	}

	return allResults, nil
}

// executeBatch runs one serial batch's full task lifecycle against the
// given hosts, using each host's persistent ExecutionContext from hostCtxs.
func (e *Executor) executeBatch(ctx context.Context, play *types.Play, hosts []types.Host, hostCtxs map[string]*ectx.ExecutionContext) ([]types.Result, error) {
	var allResults []types.Result

	run := func(tasks []types.Task) error {
		if len(tasks) == 0 {
			return nil
		}
		results, err := e.executeTaskList(ctx, tasks, hosts, hostCtxs, play)
		allResults = append(allResults, results...)
		return err
	}

	if err := run(play.PreTasks); err != nil {
		return allResults, err
	}

	if play.GatherFacts == nil || *play.GatherFacts {
		factResults, err := e.gatherFacts(ctx, hosts, hostCtxs)
		allResults = append(allResults, factResults...)
		if err != nil {
			return allResults, fmt.Errorf("failed to gather facts: %w", err)
		}
	}

	for _, roleName := range play.Roles {
		results, err := e.executeRole(ctx, roleName, hosts, hostCtxs, play)
		allResults = append(allResults, results...)
		if err != nil {
			return allResults, err
		}
	}

	if err := run(play.Tasks); err != nil {
		return allResults, err
	}
	if err := run(play.PostTasks); err != nil {
		return allResults, err
	}

	if tr := e.taskRunner(); tr != nil && tr.GetHandlerManager().HasPending() {
		handlerResults, err := tr.GetHandlerManager().FlushAll(ctx, tr, hosts, play.Vars)
		allResults = append(allResults, handlerResults...)
		if err != nil {
			return allResults, err
		}
	}

	return allResults, nil
}

// executeRole loads a role and runs its tasks, layering role defaults
// (lowest precedence: only applied where a host doesn't already have the
// variable) and role vars (higher precedence) onto every host's persistent
// context before dispatch, then registering its handlers for later
// notification.
func (e *Executor) executeRole(ctx context.Context, roleName string, hosts []types.Host, hostCtxs map[string]*ectx.ExecutionContext, play *types.Play) ([]types.Result, error) {
	role, err := e.roleMgr.LoadRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("loading role %q: %w", roleName, err)
	}

	for _, hc := range hostCtxs {
		existing := hc.Vars()
		for k, v := range role.Defaults {
			if _, ok := existing[k]; !ok {
				hc.SetVar(k, v)
			}
		}
		for k, v := range role.Vars {
			hc.SetVar(k, v)
		}
	}

	if tr := e.taskRunner(); tr != nil {
		for _, h := range role.Handlers {
			_ = tr.GetHandlerManager().RegisterHandler(h)
		}
	}

	return e.executeTaskList(ctx, role.Tasks, hosts, hostCtxs, play)
}

// executeTaskList runs each task entry in order, recursing into
// block/rescue/always and import/include entries, and stopping the list
// (returning an error) on the first task that fails on any host unless
// that task sets ignore_errors.
func (e *Executor) executeTaskList(ctx context.Context, tasks []types.Task, hosts []types.Host, hostCtxs map[string]*ectx.ExecutionContext, play *types.Play) ([]types.Result, error) {
	var allResults []types.Result

	for i := range tasks {
		task := tasks[i]

		results, err := e.runTaskEntry(ctx, &task, hosts, hostCtxs, play)
		allResults = append(allResults, results...)

		if err != nil {
			if task.IgnoreErrors {
				continue
			}
			return allResults, err
		}

		if !task.IgnoreErrors && anyFailed(results) {
			return allResults, fmt.Errorf("task %q failed on one or more hosts", task.Name)
		}
	}

	return allResults, nil
}

// runTaskEntry dispatches one task-list entry to the right handling:
// a block, an import/include, or an ordinary module task.
func (e *Executor) runTaskEntry(ctx context.Context, task *types.Task, hosts []types.Host, hostCtxs map[string]*ectx.ExecutionContext, play *types.Play) ([]types.Result, error) {
	switch {
	case task.IsBlock():
		return e.runBlock(ctx, task, hosts, hostCtxs, play)
	case task.ImportTasks != "":
		imported, err := e.incMgr.ImportTasks(task.ImportTasks, task.Vars)
		if err != nil {
			return nil, fmt.Errorf("import_tasks %q: %w", task.ImportTasks, err)
		}
		return e.executeTaskList(ctx, imported, hosts, hostCtxs, play)
	case task.IncludeTasks != "":
		included, err := e.incMgr.IncludeTasks(ctx, task.IncludeTasks, task.Vars)
		if err != nil {
			return nil, fmt.Errorf("include_tasks %q: %w", task.IncludeTasks, err)
		}
		return e.executeTaskList(ctx, included, hosts, hostCtxs, play)
	default:
		return e.executeTaskOnHosts(ctx, task, hosts, hostCtxs, play)
	}
}

// runBlock runs a block's tasks, and on failure its rescue tasks (with a
// nexus_failed_task variable describing what failed injected into every
// host's context), with always running unconditionally afterward.
func (e *Executor) runBlock(ctx context.Context, block *types.Task, hosts []types.Host, hostCtxs map[string]*ectx.ExecutionContext, play *types.Play) ([]types.Result, error) {
	var allResults []types.Result

	results, blockErr := e.executeTaskList(ctx, block.Block, hosts, hostCtxs, play)
	allResults = append(allResults, results...)

	if blockErr != nil {
		if len(block.Rescue) == 0 {
			if len(block.Always) > 0 {
				alwaysResults, _ := e.executeTaskList(ctx, block.Always, hosts, hostCtxs, play)
				allResults = append(allResults, alwaysResults...)
			}
			return allResults, blockErr
		}

		for _, hc := range hostCtxs {
			hc.SetVar("nexus_failed_task", map[string]interface{}{
				"name":    block.Name,
				"message": blockErr.Error(),
			})
		}

		rescueResults, rescueErr := e.executeTaskList(ctx, block.Rescue, hosts, hostCtxs, play)
		allResults = append(allResults, rescueResults...)
		blockErr = rescueErr
	}

	if len(block.Always) > 0 {
		alwaysResults, alwaysErr := e.executeTaskList(ctx, block.Always, hosts, hostCtxs, play)
		allResults = append(allResults, alwaysResults...)
		if alwaysErr != nil {
			return allResults, alwaysErr
		}
	}

	return allResults, blockErr
}

// executeTaskOnHosts runs one task across every host, honoring the tag
// filter and fanning out with the task/play/executor throttle as a
// concurrency limit.
func (e *Executor) executeTaskOnHosts(ctx context.Context, task *types.Task, hosts []types.Host, hostCtxs map[string]*ectx.ExecutionContext, play *types.Play) ([]types.Result, error) {
	if e.tagFilter != nil && !e.tagFilter.ShouldRun(task.Tags) {
		results := make([]types.Result, len(hosts))
		now := types.GetCurrentTime()
		for i, h := range hosts {
			results[i] = types.Result{
				Host:       h.Name,
				TaskName:   task.Name,
				ModuleName: task.Module.String(),
				Success:    true,
				Changed:    false,
				Message:    "skipped due to tags",
				Data:       map[string]interface{}{"skipped": true},
				StartTime:  now,
				EndTime:    now,
			}
		}
		return results, nil
	}

	e.emitEvent(types.Event{
		Type:      types.EventTaskStart,
		Timestamp: types.GetCurrentTime(),
		Task:      task.Name,
		Play:      play.Name,
	})

	throttle := task.Throttle
	if throttle <= 0 {
		throttle = play.Throttle
	}
	if throttle <= 0 {
		throttle = e.maxParallelHosts
	}
	if throttle <= 0 || throttle > len(hosts) {
		throttle = len(hosts)
	}

	perHost := make([][]types.Result, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(throttle)

	for i, host := range hosts {
		i, host := i, host
		hostCtx := hostCtxs[host.Name]
		g.Go(func() error {
			results, err := e.executeTaskOnHost(gctx, task, host, hostCtx, play)
			if err != nil {
				now := types.GetCurrentTime()
				results = []types.Result{{
					Host:       host.Name,
					TaskName:   task.Name,
					ModuleName: task.Module.String(),
					Success:    false,
					Error:      err,
					Message:    err.Error(),
					StartTime:  now,
					EndTime:    now,
					Data:       map[string]interface{}{},
				}}
			}
			perHost[i] = results
			return nil
		})
	}
	_ = g.Wait()

	var allResults []types.Result
	for _, results := range perHost {
		allResults = append(allResults, results...)
	}

	e.recordCheckpoint(task, hosts, hostCtxs, allResults)

	e.emitEvent(types.Event{
		Type:      types.EventTaskComplete,
		Timestamp: types.GetCurrentTime(),
		Task:      task.Name,
		Play:      play.Name,
		Data:      map[string]interface{}{"results_count": len(allResults)},
	})

	return allResults, nil
}

// executeTaskOnHost runs a task on a single host, expanding its loop (if
// any) into one dispatch per item, aggregating the per-item Task Outputs
// into the task's register name on the host's persistent context.
func (e *Executor) executeTaskOnHost(ctx context.Context, task *types.Task, host types.Host, hostCtx *ectx.ExecutionContext, play *types.Play) ([]types.Result, error) {
	if e.cp != nil && e.cp.IsCompleted(host.Name, checkpointID(task)) {
		now := types.GetCurrentTime()
		return []types.Result{{
			Host: host.Name, TaskName: task.Name, ModuleName: task.Module.String(),
			Success: true, Changed: false, Message: "skipped, already completed per checkpoint",
			Data: map[string]interface{}{"skipped": true}, StartTime: now, EndTime: now,
		}}, nil
	}

	sudo, sudoUser := resolveSudo(task, play)
	hostCtx.Sudo = sudo
	hostCtx.SudoUser = sudoUser

	checkMode, diffMode := resolveCheckDiff(task, hostCtx.Vars())
	hostCtx.CheckMode = checkMode
	hostCtx.DiffMode = diffMode

	loopSpec := task.Loop
	if loopSpec == nil {
		loopSpec = task.WithItems
	}

	var items []interface{}
	if loopSpec != nil {
		evaluator := runner.NewConditionEvaluator(hostCtx.Vars())
		resolved, err := evaluator.EvaluateLoopItems(loopSpec)
		if err != nil {
			return nil, fmt.Errorf("resolving loop for task %q: %w", task.Name, err)
		}
		items = resolved
	}

	loopVar := task.LoopVar
	var results []types.Result
	var raw []interface{}

	dispatchOne := func(item interface{}, hasItem bool, index int) (*types.Result, error) {
		iterCtx := hostCtx
		if hasItem {
			iterCtx = hostCtx.WithLoopItem(item, loopVar)
			iterCtx.SetLoopMeta(index, len(items))
		}
		if len(task.Vars) > 0 {
			iterCtx = iterCtx.WithVars(task.Vars)
		}

		evaluator := runner.NewConditionEvaluator(iterCtx.Vars())
		run, err := evaluator.EvaluateWhen(task.When)
		if err != nil {
			return nil, fmt.Errorf("evaluating when for task %q: %w", task.Name, err)
		}
		if !run {
			now := types.GetCurrentTime()
			return &types.Result{
				Host: host.Name, TaskName: task.Name, ModuleName: task.Module.String(),
				Success: true, Changed: false, Message: "skipped, when condition false",
				Data: map[string]interface{}{"skipped": true}, StartTime: now, EndTime: now,
			}, nil
		}

		if task.Async > 0 {
			return e.dispatchAsync(ctx, task, host, iterCtx)
		}
		return e.dispatchModule(ctx, task, host, iterCtx)
	}

	if len(items) == 0 {
		result, err := dispatchOne(nil, false, 0)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
		raw = append(raw, ectx.ToValue(result))
	} else {
		for idx, item := range items {
			result, err := dispatchOne(item, true, idx)
			if err != nil {
				return results, err
			}
			results = append(results, *result)
			raw = append(raw, ectx.ToValue(result))
			if !result.Success && !task.IgnoreErrors {
				break
			}
		}
	}

	if task.Register != "" {
		if len(items) == 0 {
			hostCtx.Register(task.Register, &results[len(results)-1])
		} else {
			hostCtx.Register(task.Register, aggregateLoopResult(results, raw))
		}
	}

	return results, nil
}

// aggregateLoopResult builds the register value Ansible produces for a
// looped task: overall success/changed across every item, plus the raw
// per-item outputs under "results".
func aggregateLoopResult(results []types.Result, raw []interface{}) *types.Result {
	success, changed := true, false
	for _, r := range results {
		if !r.Success {
			success = false
		}
		if r.Changed {
			changed = true
		}
	}
	return &types.Result{
		Success: success,
		Changed: changed,
		Data:    map[string]interface{}{"results": raw},
	}
}

// dispatchModule delegates a single task/host/iteration dispatch to the
// configured Runner, which owns module lookup, validation, connection,
// argument templating and changed_when/failed_when evaluation. The
// register field is cleared on the copy handed to the runner so its own
// (global) varManager.SetVar path never fires; the scheduler does its own
// per-host registration in executeTaskOnHost instead. Tasks that set
// retry_when or circuit add a retry/circuit-breaker layer around the call.
func (e *Executor) dispatchModule(ctx context.Context, task *types.Task, host types.Host, iterCtx *ectx.ExecutionContext) (*types.Result, error) {
	taskCopy := *task
	taskCopy.Register = ""
	if len(taskCopy.Args) > 0 || iterCtx.Sudo || iterCtx.CheckMode || iterCtx.DiffMode {
		args := make(map[string]interface{}, len(task.Args)+4)
		for k, v := range task.Args {
			args[k] = v
		}
		if iterCtx.Sudo {
			if _, ok := args["become"]; !ok {
				args["become"] = true
			}
			if iterCtx.SudoUser != "" {
				if _, ok := args["become_user"]; !ok {
					args["become_user"] = iterCtx.SudoUser
				}
			}
		}
		if iterCtx.CheckMode {
			args["_check_mode"] = true
		}
		if iterCtx.DiffMode {
			args["_diff"] = true
		}
		taskCopy.Args = args
	}

	run := func(rctx context.Context) (*types.Result, error) {
		results, err := e.runner.Run(rctx, taskCopy, []types.Host{host}, iterCtx.Vars())
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, fmt.Errorf("runner returned no result for task %q on host %s", task.Name, host.Name)
		}
		return &results[0], nil
	}

	if task.RetryWhen == nil && task.CircuitName == "" {
		return run(ctx)
	}

	policy := retry.Policy{
		Attempts: task.Retries + 1,
		Delay:    time.Duration(task.Delay) * time.Second,
		Backoff:  retry.Backoff(task.BackoffPolicy),
	}
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}

	evaluator := runner.NewConditionEvaluator(iterCtx.Vars())
	retryWhen := func(result *types.Result) bool {
		if result == nil {
			return true
		}
		ok, _ := evaluator.EvaluateFailedWhen(task.RetryWhen, result)
		return ok
	}
	until := func(result *types.Result) bool {
		return result != nil && result.Success
	}

	attempt := func(actx context.Context, attemptNumber int) (*types.Result, bool, error) {
		result, err := run(actx)
		if err != nil {
			return nil, true, err
		}
		return result, !result.Success, nil
	}

	output, _, circuitBlocked, timeUntilRetry, err := retry.Run(ctx, policy, attempt, until, retryWhen, e.breaker, task.CircuitName)
	if circuitBlocked {
		return nil, fmt.Errorf("circuit %q open for task %q, retry after %s", task.CircuitName, task.Name, timeUntilRetry)
	}
	if err != nil {
		return nil, err
	}
	return output, nil
}

// dispatchAsync starts a task's command as a detached background job and
// either returns immediately (poll <= 0) or polls the tracker until the
// job finishes or the async window elapses.
func (e *Executor) dispatchAsync(ctx context.Context, task *types.Task, host types.Host, iterCtx *ectx.ExecutionContext) (*types.Result, error) {
	tr := e.taskRunner()
	if tr == nil {
		return nil, fmt.Errorf("async task %q requires a *runner.TaskRunner", task.Name)
	}

	conn, err := tr.Connect(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("connecting for async task %q: %w", task.Name, err)
	}

	command := iterCtx.WrapCommand(asyncCommand(task.Args))
	timeout := time.Duration(task.Async) * time.Second

	job, err := async.DefaultTracker.StartJob(ctx, conn, host.Name, command, timeout)
	if err != nil {
		return nil, fmt.Errorf("starting async task %q: %w", task.Name, err)
	}

	now := types.GetCurrentTime()
	if task.Poll <= 0 {
		return &types.Result{
			Host: host.Name, TaskName: task.Name, ModuleName: task.Module.String(),
			Success: true, Changed: true, Message: "async task started",
			Data:      map[string]interface{}{"ansible_job_id": job.ID, "started": true, "finished": false},
			StartTime: now, EndTime: now,
		}, nil
	}

	interval := time.Duration(task.Poll) * time.Second
	maxRetries := task.Async/task.Poll + 1
	result, err := async.DefaultTracker.PollUntilComplete(ctx, conn, job.ID, interval, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("polling async task %q: %w", task.Name, err)
	}
	result.Host = host.Name
	result.TaskName = task.Name
	result.ModuleName = task.Module.String()
	if result.StartTime.IsZero() {
		result.StartTime = now
	}
	result.EndTime = types.GetCurrentTime()
	return result, nil
}

// asyncCommand extracts the underlying shell command from a task's args,
// checking the keys command/shell modules accept it under.
func asyncCommand(args map[string]interface{}) string {
	for _, key := range []string{"cmd", "command", "shell", "_raw_params"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// resolveSudo applies task-over-play sudo precedence (§4.2).
func resolveSudo(task *types.Task, play *types.Play) (bool, string) {
	if task.Sudo != nil {
		return *task.Sudo, task.SudoUser
	}
	if play.Sudo != nil {
		return *play.Sudo, play.SudoUser
	}
	return false, ""
}

// resolveCheckDiff resolves effective check_mode/diff_mode for a task: a
// task that sets check_mode/diff themselves always wins; otherwise the
// playbook-wide ansible_check_mode/ansible_diff_mode vars (set from the
// -check/-diff CLI flags) apply.
func resolveCheckDiff(task *types.Task, vars map[string]interface{}) (bool, bool) {
	checkMode := task.CheckMode
	if !checkMode {
		if v, ok := vars["ansible_check_mode"].(bool); ok {
			checkMode = v
		}
	}

	diffMode := task.DiffMode
	if !diffMode {
		if v, ok := vars["ansible_diff_mode"].(bool); ok {
			diffMode = v
		}
	}

	return checkMode, diffMode
}

func anyFailed(results []types.Result) bool {
	for _, r := range results {
		if !r.Success {
			return true
		}
	}
	return false
}

func failPercentage(results []types.Result, total int) float64 {
	if total == 0 {
		return 0
	}
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	return float64(failed) / float64(total) * 100.0
}

// getPlayHosts resolves the hosts for a play
func (e *Executor) getPlayHosts(play *types.Play) ([]types.Host, error) {
	parser := NewParser()
	patterns := parser.ParseInventoryPattern(play.Hosts)

	var allHosts []types.Host
	for _, pattern := range patterns {
		hosts, err := e.inventory.GetHosts(pattern)
		if err != nil {
			return nil, err
		}
		allHosts = append(allHosts, hosts...)
	}

	return e.removeDuplicateHosts(allHosts), nil
}

// removeDuplicateHosts removes duplicate hosts from a slice
func (e *Executor) removeDuplicateHosts(hosts []types.Host) []types.Host {
	seen := make(map[string]bool)
	result := make([]types.Host, 0, len(hosts))

	for _, host := range hosts {
		if !seen[host.Name] {
			seen[host.Name] = true
			result = append(result, host)
		}
	}

	return result
}

// mergePlayVars merges play variables with global variables
func (e *Executor) mergePlayVars(play *types.Play, globalVars map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	if globalVars != nil {
		result = types.DeepMergeInterfaceMaps(result, globalVars)
	}
	if play.Vars != nil {
		result = types.DeepMergeInterfaceMaps(result, play.Vars)
	}

	return result
}

// gatherFacts runs the facts module once per host, merging the returned
// ansible_facts directly into that host's persistent context.
func (e *Executor) gatherFacts(ctx context.Context, hosts []types.Host, hostCtxs map[string]*ectx.ExecutionContext) ([]types.Result, error) {
	factsTask := types.Task{
		Name:   "Gathering Facts",
		Module: types.TypeFacts,
		Args:   make(map[string]interface{}),
	}

	var allResults []types.Result
	for _, host := range hosts {
		hostCtx := hostCtxs[host.Name]
		results, err := e.runner.Run(ctx, factsTask, []types.Host{host}, hostCtx.Vars())
		if err != nil {
			return allResults, err
		}
		allResults = append(allResults, results...)

		for _, result := range results {
			facts, ok := result.Data["ansible_facts"].(map[string]interface{})
			if !ok {
				continue
			}
			for k, v := range facts {
				hostCtx.SetVar(k, v)
			}
			hostCtx.SetVar("ansible_facts", facts)
		}
	}

	return allResults, nil
}
