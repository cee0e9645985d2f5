package migrate

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/observability/metrics"
)

// Config tunes the executor.
type Config struct {
	PageSize             int
	CheckpointInterval   int
	FailedNodeMaxRetries int
	HeartbeatInterval    time.Duration
	StaleTimeout         time.Duration
	// InstanceID is written to last_modified_by of claimed tasks
	InstanceID string
}

// ConfigFromSettings maps migrate settings onto an executor config.
func ConfigFromSettings(s *conf.MigrateSettings) Config {
	return Config{
		PageSize:             s.PageSize,
		CheckpointInterval:   s.CheckpointInterval,
		FailedNodeMaxRetries: s.FailedNodeMaxRetries,
		HeartbeatInterval:    s.HeartbeatInterval,
		StaleTimeout:         s.StaleTimeout,
		InstanceID:           s.InstanceID,
	}
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = conf.DefaultPageSize
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = conf.DefaultCheckpointInterval
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = conf.DefaultStaleTimeout
	}
	if c.InstanceID == "" {
		c.InstanceID = DefaultInstanceID()
	}
	return c
}

// DefaultInstanceID returns hostname-<random suffix>.
func DefaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "repomigrate"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Dependencies are the collaborators of an Executor. NodePool, Keys,
// Recorder and Logger are optional.
type Dependencies struct {
	Tasks       TaskRepository
	Nodes       NodeCatalog
	Repos       RepositoryDirectory
	FailedNodes FailedNodeRepository
	Copier      *BlobCopier
	Keys        KeyChecker
	Dispatch    *Pool
	NodePool    *Pool
	Recorder    metrics.MigrationRecorder
	Logger      logger.Logger
}

// Report summarizes one execution of a task.
type Report struct {
	TaskID    string
	Iterated  int64
	Succeeded int64
	Failed    int64
	Bytes     int64
	// CorrectionScanned counts nodes the correction pass looked at
	CorrectionScanned int64
	Retried           int64
	Recovered         int64
	FinalState        entities.TaskState
	Duration          time.Duration
}

// Executor claims migration tasks and drives them to completion.
type Executor struct {
	cfg         Config
	tasks       TaskRepository
	nodes       NodeCatalog
	repos       RepositoryDirectory
	failedNodes FailedNodeRepository
	copier      *BlobCopier
	keys        KeyChecker
	dispatch    *Pool
	nodePool    *Pool
	recorder    metrics.MigrationRecorder
	log         logger.Logger
}

// NewExecutor validates deps and creates an executor.
func NewExecutor(cfg Config, deps Dependencies) (*Executor, error) {
	var missing []string
	if deps.Tasks == nil {
		missing = append(missing, "tasks")
	}
	if deps.Nodes == nil {
		missing = append(missing, "nodes")
	}
	if deps.Repos == nil {
		missing = append(missing, "repositories")
	}
	if deps.FailedNodes == nil {
		missing = append(missing, "failed nodes")
	}
	if deps.Copier == nil {
		missing = append(missing, "copier")
	}
	if deps.Dispatch == nil {
		missing = append(missing, "dispatch pool")
	}
	if len(missing) > 0 {
		return nil, errors.Newf("executor is missing dependencies: %v", missing).
			Component("migrate").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}

	return &Executor{
		cfg:         cfg.withDefaults(),
		tasks:       deps.Tasks,
		nodes:       deps.Nodes,
		repos:       deps.Repos,
		failedNodes: deps.FailedNodes,
		copier:      deps.Copier,
		keys:        deps.Keys,
		dispatch:    deps.Dispatch,
		nodePool:    deps.NodePool,
		recorder:    deps.Recorder,
		log:         deps.Logger.Module(logger.ComponentExecutor),
	}, nil
}

// InstanceID returns the operator name this executor claims tasks with.
func (e *Executor) InstanceID() string {
	return e.cfg.InstanceID
}

// Migrate claims task and hands it to the dispatch pool. It returns true
// when the task was accepted for execution. Losing the claim to another
// process is not an error and returns false.
func (e *Executor) Migrate(ctx context.Context, task *entities.MigrationTask) bool {
	accepted, err := e.TryMigrate(ctx, task)
	if err != nil && !errors.Is(err, ErrTaskAlreadyClaimed) {
		e.log.Error("failed to start migration task",
			logger.TaskID(task.ID),
			logger.Error(err))
	}
	return accepted
}

// TryMigrate is Migrate with the claim outcome exposed. It returns
// ErrTaskAlreadyClaimed when another process holds the task and
// (false, nil) when the dispatch pool is saturated.
func (e *Executor) TryMigrate(ctx context.Context, task *entities.MigrationTask) (bool, error) {
	claimedFrom, err := e.claim(ctx, task)
	if err != nil {
		return false, err
	}

	taskID := task.ID
	accepted := e.dispatch.Submit(func(poolCtx context.Context) {
		if _, err := e.Execute(poolCtx, taskID); err != nil {
			e.log.Error("migration task aborted",
				logger.TaskID(taskID),
				logger.Error(err))
		}
	})
	if accepted {
		return true, nil
	}

	e.rollbackClaim(ctx, task, claimedFrom)
	return false, nil
}

// claim moves task to EXECUTING for this instance and returns the state it
// was claimed from.
func (e *Executor) claim(ctx context.Context, task *entities.MigrationTask) (entities.TaskState, error) {
	var (
		ok  bool
		err error
	)
	switch task.State {
	case entities.TaskStateCreated:
		ok, err = e.tasks.UpdateState(ctx, task.ID, entities.TaskStateCreated, entities.TaskStateExecuting, e.cfg.InstanceID)
	case entities.TaskStateExecuting:
		ok, err = e.tasks.ClaimStale(ctx, task.ID, datastore.Now().Add(-e.cfg.StaleTimeout), e.cfg.InstanceID)
	default:
		return "", errors.Newf("task %s is %s and cannot be executed", task.ID, task.State).
			Component("migrate").
			Category(errors.CategoryState).
			Build()
	}
	if err != nil {
		return "", err
	}
	if !ok {
		e.log.Debug("migration task claimed by another instance", logger.TaskID(task.ID))
		return "", errors.New(ErrTaskAlreadyClaimed).
			Component("migrate").
			Category(errors.CategoryConflict).
			TaskContext(task.ID, task.ProjectID, task.RepoName).
			Build()
	}

	e.log.Info("migration task claimed",
		logger.TaskID(task.ID),
		logger.String("claimed_from", string(task.State)),
		logger.InstanceID(e.cfg.InstanceID))
	return task.State, nil
}

// rollbackClaim makes a task claimable again after a dispatch rejection. A
// CREATED claim goes back to CREATED; a stale claim gets its previous owner
// and modification time back so it stays stale for the next round.
func (e *Executor) rollbackClaim(ctx context.Context, task *entities.MigrationTask, from entities.TaskState) {
	e.log.Warn("dispatch pool saturated, releasing claim",
		logger.TaskID(task.ID),
		logger.String("pool", e.dispatch.Name()))

	var err error
	if from == entities.TaskStateCreated {
		_, err = e.tasks.UpdateState(ctx, task.ID, entities.TaskStateExecuting, entities.TaskStateCreated, e.cfg.InstanceID)
	} else {
		_, err = e.tasks.ReleaseClaim(ctx, task.ID, e.cfg.InstanceID, task.LastModifiedBy, task.LastModifiedAt)
	}
	if err != nil {
		e.log.Error("failed to release migration task claim",
			logger.TaskID(task.ID),
			logger.Error(err))
	}
}

// Execute runs a task this instance has claimed, synchronously. An error
// leaves the task EXECUTING unless it reports the task as FAILED.
func (e *Executor) Execute(ctx context.Context, taskID string) (*Report, error) {
	ctx = logger.WithTraceID(ctx, taskID)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopHeartbeat := e.startHeartbeat(runCtx, cancel, taskID)
	defer stopHeartbeat()

	task, err := e.tasks.Get(runCtx, taskID)
	if err != nil {
		return nil, err
	}

	r := &run{
		e:      e,
		task:   task,
		report: &Report{TaskID: task.ID},
		log: e.log.WithContext(ctx).With(
			logger.TaskID(task.ID),
			logger.ProjectID(task.ProjectID),
			logger.RepoName(task.RepoName)),
		started: time.Now(),
	}
	return r.execute(runCtx)
}

func (e *Executor) startHeartbeat(ctx context.Context, cancel context.CancelFunc, taskID string) (stop func()) {
	if e.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := e.tasks.Heartbeat(ctx, taskID, e.cfg.InstanceID)
				if err != nil {
					e.log.Warn("migration heartbeat failed", logger.TaskID(taskID), logger.Error(err))
					continue
				}
				if !ok {
					e.log.Warn("migration task no longer held by this instance, stopping", logger.TaskID(taskID))
					cancel()
					return
				}
			}
		}
	})

	return func() {
		close(done)
		wg.Wait()
	}
}

// run is the state of one task execution.
type run struct {
	e       *Executor
	task    *entities.MigrationTask
	report  *Report
	log     logger.Logger
	started time.Time

	iterated  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	if err := r.prepare(ctx); err != nil {
		return r.finishReport(), err
	}

	r.log.Info("migration started",
		logger.StorageKey("src_storage_key", r.task.SrcKey()),
		logger.StorageKey("dst_storage_key", r.task.DstStorageKey),
		logger.Time("start_boundary", *r.task.StartBoundary),
		logger.Int64("resume_from", r.task.MigratedCount))

	if err := r.mainPass(ctx); err != nil {
		return r.finishReport(), err
	}
	if err := r.correctionPass(ctx); err != nil {
		return r.finishReport(), err
	}
	if err := r.retryFailedNodes(ctx); err != nil {
		return r.finishReport(), err
	}

	if err := r.e.tasks.Finish(ctx, r.task.ID, entities.TaskStateSuccess, r.e.cfg.InstanceID); err != nil {
		return r.finishReport(), err
	}
	r.report.FinalState = entities.TaskStateSuccess
	r.e.recorder.RecordTask(string(entities.TaskStateSuccess))

	if err := r.e.repos.UnsetOldStorageKey(ctx, r.task.ProjectID, r.task.RepoName); err != nil {
		r.log.Warn("failed to clear old storage key", logger.Error(err))
	}

	report := r.finishReport()
	r.log.Info("migration completed",
		logger.Int64("iterated", report.Iterated),
		logger.Int64("succeeded", report.Succeeded),
		logger.Int64("failed", report.Failed),
		logger.Int64("correction_scanned", report.CorrectionScanned),
		logger.Int64("recovered", report.Recovered),
		logger.Int64("bytes", report.Bytes),
		logger.Duration("duration", report.Duration))
	return report, nil
}

func (r *run) finishReport() *Report {
	r.report.Iterated = r.iterated.Load()
	r.report.Succeeded = r.succeeded.Load()
	r.report.Failed = r.failed.Load()
	r.report.Bytes = r.bytes.Load()
	if r.report.FinalState == "" {
		r.report.FinalState = r.task.State
	}
	r.report.Duration = time.Since(r.started)
	return r.report
}

// prepare records the start boundary and redirects the repository on first
// execution. On a resumed execution it only repeats a redirect that did not
// complete.
func (r *run) prepare(ctx context.Context) error {
	if r.task.State != entities.TaskStateExecuting {
		return errors.Newf("task %s is %s, expected %s", r.task.ID, r.task.State, entities.TaskStateExecuting).
			Component("migrate").
			Category(errors.CategoryState).
			Build()
	}

	if r.e.keys != nil && !r.e.keys.Has(r.task.DstStorageKey) {
		reason := fmt.Errorf("destination storage key %q is not configured", r.task.DstStorageKey)
		if err := r.e.tasks.Finish(ctx, r.task.ID, entities.TaskStateFailed, r.e.cfg.InstanceID); err != nil {
			return errors.Join(reason, err)
		}
		r.report.FinalState = entities.TaskStateFailed
		r.e.recorder.RecordTask(string(entities.TaskStateFailed))
		r.log.Error("migration task failed", logger.Error(reason))
		return errors.New(reason).
			Component("migrate").
			Category(errors.CategoryConfiguration).
			TaskContext(r.task.ID, r.task.ProjectID, r.task.RepoName).
			Build()
	}

	if r.task.StartBoundary == nil {
		boundary := datastore.Now()
		if _, err := r.e.tasks.UpdateStartBoundary(ctx, r.task.ID, boundary, r.e.cfg.InstanceID); err != nil {
			return err
		}
		task, err := r.e.tasks.Get(ctx, r.task.ID)
		if err != nil {
			return err
		}
		r.task = task
		return r.redirect(ctx)
	}

	repo, err := r.e.repos.GetFresh(ctx, r.task.ProjectID, r.task.RepoName)
	if err != nil {
		return err
	}
	if repo.Key() != r.task.DstStorageKey {
		return r.redirect(ctx)
	}
	return nil
}

func (r *run) redirect(ctx context.Context) error {
	if err := r.e.repos.SetActiveStorageKey(ctx, r.task.ProjectID, r.task.RepoName, r.task.DstStorageKey); err != nil {
		return err
	}
	r.log.Info("repository write target redirected",
		logger.StorageKey("dst_storage_key", r.task.DstStorageKey))
	return nil
}

type nodeOp func(ctx context.Context, node *entities.Node, srcKey, dstKey string) (int64, error)

// pass walks one cursor through op, checkpointing every interval nodes.
type pass struct {
	name       string
	direction  Direction
	op         nodeOp
	checkpoint func(ctx context.Context, id string, count int64) error
	onTotal    func(ctx context.Context, total int64) error
}

func (r *run) mainPass(ctx context.Context) error {
	return r.walk(ctx, pass{
		name:       metrics.PassMain,
		direction:  Before,
		op:         r.e.copier.MigrateNode,
		checkpoint: r.e.tasks.UpdateMigratedCount,
		onTotal: func(ctx context.Context, total int64) error {
			// Nodes deleted since the last checkpoint shrink the recount below
			// the resume position; the record keeps migrated <= total.
			return r.e.tasks.UpdateTotalCount(ctx, r.task.ID, max(total, r.task.MigratedCount))
		},
	})
}

func (r *run) correctionPass(ctx context.Context) error {
	before := r.iterated.Load()
	err := r.walk(ctx, pass{
		name:       metrics.PassCorrection,
		direction:  After,
		op:         r.e.copier.CorrectNode,
		checkpoint: r.e.tasks.UpdateCorrectedCount,
	})
	r.report.CorrectionScanned = r.iterated.Load() - before
	return err
}

func (r *run) walk(ctx context.Context, p pass) error {
	cursor, err := NewNodeCursor(ctx, r.e.nodes, r.task, p.direction, r.e.cfg.PageSize)
	if err != nil {
		return r.fatal(err, nil)
	}
	if p.onTotal != nil {
		if err := p.onTotal(ctx, cursor.TotalCount()); err != nil {
			return r.fatal(err, nil)
		}
	}

	interval := int64(r.e.cfg.CheckpointInterval)
	lastCheckpoint := cursor.IteratedCount()
	var (
		batch sync.WaitGroup
		last  *entities.Node
	)

	for {
		if err := ctx.Err(); err != nil {
			batch.Wait()
			return r.fatal(err, last)
		}

		node, ok, err := cursor.Next(ctx)
		if err != nil {
			batch.Wait()
			return r.fatal(err, last)
		}
		if !ok {
			break
		}
		last = node
		r.iterated.Add(1)

		n := *node
		r.submit(ctx, &batch, func(ctx context.Context) {
			r.processNode(ctx, p.name, &n, p.op)
		})

		if count := cursor.IteratedCount(); count%interval == 0 {
			batch.Wait()
			if err := p.checkpoint(ctx, r.task.ID, count); err != nil {
				return r.fatal(err, last)
			}
			lastCheckpoint = count
			r.e.recorder.RecordCheckpoint(p.name, count)
		}
	}

	batch.Wait()
	if count := cursor.IteratedCount(); count != lastCheckpoint {
		if err := p.checkpoint(ctx, r.task.ID, count); err != nil {
			return r.fatal(err, last)
		}
		r.e.recorder.RecordCheckpoint(p.name, count)
	}
	return nil
}

// submit runs fn on the node pool, or on the calling goroutine when the
// pool is absent or saturated.
func (r *run) submit(ctx context.Context, batch *sync.WaitGroup, fn func(ctx context.Context)) {
	batch.Add(1)
	work := func(ctx context.Context) {
		defer batch.Done()
		fn(ctx)
	}

	if r.e.nodePool != nil && r.e.nodePool.Submit(func(poolCtx context.Context) {
		nodeCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(poolCtx, cancel)
		defer func() {
			stop()
			cancel()
		}()
		work(nodeCtx)
	}) {
		return
	}
	work(ctx)
}

func (r *run) processNode(ctx context.Context, passName string, node *entities.Node, op nodeOp) {
	if node.Compressed {
		r.failed.Add(1)
		r.e.recorder.RecordNode(passName, metrics.StatusFailed, 0, 0)
		r.recordFailure(ctx, node, errors.NewStd("compressed nodes are not migrated"))
		return
	}

	start := time.Now()
	n, err := op(ctx, node, r.task.SrcKey(), r.task.DstStorageKey)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled runs resume from the checkpoint
			return
		}
		r.failed.Add(1)
		r.e.recorder.RecordNode(passName, metrics.StatusFailed, 0, elapsed)
		r.log.Warn("node migration failed",
			logger.String("pass", passName),
			logger.NodePath(node.FullPath),
			logger.Digest(node.Digest),
			logger.Error(err))
		r.recordFailure(ctx, node, err)
		return
	}

	r.succeeded.Add(1)
	r.bytes.Add(n)
	r.e.recorder.RecordNode(passName, metrics.StatusSuccess, n, elapsed)
	r.logThroughput(passName, node, n, elapsed)
}

func (r *run) logThroughput(passName string, node *entities.Node, n int64, elapsed time.Duration) {
	if n == 0 {
		return
	}
	var bytesPerSecond float64
	if secs := elapsed.Seconds(); secs > 0 {
		bytesPerSecond = float64(n) / secs
	}
	r.log.Debug("node copied",
		logger.String("pass", passName),
		logger.NodePath(node.FullPath),
		logger.Int64("bytes", n),
		logger.Duration("duration", elapsed),
		logger.Float64("bytes_per_second", bytesPerSecond))
}

func (r *run) fatal(err error, last *entities.Node) error {
	fatal := &FatalIterationError{
		TaskID:    r.task.ID,
		ProjectID: r.task.ProjectID,
		RepoName:  r.task.RepoName,
		Err:       err,
	}
	if last != nil {
		fatal.FullPath = last.FullPath
		fatal.Digest = last.Digest
	}
	r.log.Error("migration iteration failed, task left executing",
		logger.NodePath(fatal.FullPath),
		logger.Digest(fatal.Digest),
		logger.Error(err))

	category := errors.CategoryIteration
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryCancellation
	}
	return errors.New(fatal).
		Component("migrate").
		Category(category).
		TaskContext(r.task.ID, r.task.ProjectID, r.task.RepoName).
		Build()
}
