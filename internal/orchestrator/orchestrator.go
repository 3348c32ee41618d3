// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/scraperotor/internal/browser"
	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/events"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/scraper"
	"github.com/valpere/scraperotor/internal/utils"
)

var orchestratorLogger = utils.NewComponentLogger("orchestrator")

// Dependencies are the collaborators of an Orchestrator. Only Automation is required.
type Dependencies struct {
	Automation browser.Automation
	Pool       *proxy.Pool
	Inference  scraper.InferenceBackend
	Pacer      *scraper.HostPacer
	Archive    Archive
	Bus        *events.Bus
}

// Orchestrator runs scraping tasks concurrently, each task visiting its
// addresses in order.
type Orchestrator struct {
	config        Config
	deps          Dependencies
	selectRetryer *errors.Retryer

	mu     sync.RWMutex
	tasks  map[string]*taskState
	order  []string
	closed bool

	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loops  sync.WaitGroup
	now    func() time.Time
}

// Stats counts tasks by status
type Stats struct {
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
	MaxParallel int `json:"max_parallel"`
}

// taskState is the mutable record behind a task id.
type taskState struct {
	mu         sync.Mutex
	task       Task
	cancel     context.CancelFunc
	cancelled  bool
	held       browser.Context
	extracting bool
	done       chan struct{}
}

func (s *taskState) snapshot() Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.clone()
}

func (s *taskState) update(fn func(t *Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.task)
}

// hold registers the browser context in use; false means the task was cancelled meanwhile.
func (s *taskState) hold(c browser.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.held = c
	return true
}

func (s *taskState) release() {
	s.mu.Lock()
	s.held = nil
	s.extracting = false
	s.mu.Unlock()
}

func (s *taskState) setExtracting(v bool) {
	s.mu.Lock()
	s.extracting = v
	s.mu.Unlock()
}

// New creates an orchestrator and starts its retention sweeper.
func New(config Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Automation == nil {
		return nil, fmt.Errorf("browser automation is required")
	}
	config = config.WithDefaults()
	if deps.Archive == nil {
		deps.Archive = NewMemoryArchive(1000)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		config:        config,
		deps:          deps,
		selectRetryer: errors.NewRetryer(config.SelectRetry).WithClassifier(isSelectionRetryable),
		tasks:         make(map[string]*taskState),
		slots:         make(chan struct{}, config.MaxConcurrentTasks),
		ctx:           ctx,
		cancel:        cancel,
		now:           time.Now,
	}

	o.loops.Add(1)
	go o.sweepLoop()
	return o, nil
}

func isSelectionRetryable(err error) bool {
	return errors.Is(err, proxy.ErrNoEgressAvailable)
}

// Config returns the effective configuration
func (o *Orchestrator) Config() Config {
	return o.config
}

// Submit validates cfg, registers a pending task and starts it in the
// background. It never waits for network I/O.
func (o *Orchestrator) Submit(ctx context.Context, cfg TaskConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := cfg.Validate(o.deps.Inference != nil); err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}

	id := uuid.NewString()
	taskCtx, cancel := context.WithCancel(o.ctx)
	st := &taskState{
		task: Task{
			ID:        id,
			Config:    cfg,
			Status:    StatusPending,
			CreatedAt: o.now(),
			Progress: Progress{
				TotalPages:     len(cfg.Targets) * cfg.pages(),
				AddressesTotal: len(cfg.Targets),
			},
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	st.task = st.task.clone()
	o.tasks[id] = st
	o.order = append(o.order, id)
	o.wg.Add(1)
	o.mu.Unlock()

	orchestratorLogger.WithFields(map[string]interface{}{
		"task_id": id,
		"targets": len(cfg.Targets),
	}).Info("task submitted")

	go o.run(taskCtx, st)
	return id, nil
}

func (o *Orchestrator) run(ctx context.Context, st *taskState) {
	defer o.wg.Done()
	defer close(st.done)
	defer st.cancel()

	select {
	case o.slots <- struct{}{}:
		defer func() { <-o.slots }()
	case <-ctx.Done():
		o.finish(st, nil)
		return
	}

	if ctx.Err() != nil {
		o.finish(st, nil)
		return
	}

	var id string
	var targets int
	st.update(func(t *Task) {
		t.Status = StatusRunning
		t.StartedAt = o.now()
		id, targets = t.ID, len(t.Config.Targets)
	})
	o.deps.Bus.Publish(events.Event{
		Type:   events.TaskStarted,
		TaskID: id,
		Data:   map[string]interface{}{"targets": targets},
	})

	r := newRunner(o, st)
	r.run(ctx)
	o.finish(st, r)
}

// finish moves the task into its terminal state.
func (o *Orchestrator) finish(st *taskState, r *runner) {
	st.mu.Lock()
	t := &st.task

	var fields []string
	if r != nil {
		fields = r.fieldNames()
		t.Selectors = r.selectors()
	}

	switch {
	case st.cancelled:
		t.Status = StatusCancelled
		t.Reason = ReasonCancelled
	case len(t.Records) > 0:
		t.Status = StatusCompleted
	default:
		t.Status = StatusFailed
		switch {
		case r == nil:
			t.Reason = ReasonCancelled
		case r.noSelectors:
			t.Reason = ReasonNoSelectors
		case r.reached == 0 && len(t.Errors) > 0:
			t.Reason = ReasonAllFailed
		default:
			t.Reason = errors.ErrNoDataExtracted.Error()
		}
	}

	quality := scraper.ScoreQuality(t.Records, fields, len(t.Errors))
	t.Quality = &quality
	t.FinishedAt = o.now()
	t.Progress.RecordsExtracted = len(t.Records)
	snapshot := t.clone()
	st.mu.Unlock()

	eventType := events.TaskCompleted
	switch snapshot.Status {
	case StatusFailed:
		eventType = events.TaskFailed
	case StatusCancelled:
		eventType = events.TaskCancelled
	}
	o.deps.Bus.Publish(events.Event{
		Type:   eventType,
		TaskID: snapshot.ID,
		Data: map[string]interface{}{
			"records": len(snapshot.Records),
			"errors":  len(snapshot.Errors),
			"quality": quality.Overall,
			"reason":  snapshot.Reason,
		},
	})

	orchestratorLogger.WithFields(map[string]interface{}{
		"task_id": snapshot.ID,
		"status":  string(snapshot.Status),
		"records": len(snapshot.Records),
		"errors":  len(snapshot.Errors),
		"quality": quality.Overall,
	}).Info("task finished")
}

// Cancel stops a running task. A pending task is also cancelled, so queued
// work can be withdrawn before it takes a slot; it moves straight to
// cancelled. Cancel returns false if the task is unknown, already terminal
// or already cancelled.
func (o *Orchestrator) Cancel(id string) bool {
	st := o.lookup(id)
	if st == nil {
		return false
	}

	st.mu.Lock()
	if st.cancelled || st.task.Status.IsTerminal() {
		st.mu.Unlock()
		return false
	}
	st.cancelled = true
	var held browser.Context
	if st.held != nil && !st.extracting {
		held = st.held
		st.held = nil
	}
	cancel := st.cancel
	st.mu.Unlock()

	cancel()
	if held != nil {
		if err := held.Close(); err != nil {
			orchestratorLogger.WithField("task_id", id).Warnf("closing browser context on cancel: %v", err)
		}
	}
	orchestratorLogger.WithField("task_id", id).Info("task cancelled")
	return true
}

// recordOutcome reports to the pool; the point may have been removed while in use.
func (o *Orchestrator) recordOutcome(egressID string, outcome proxy.Outcome) {
	if err := o.deps.Pool.RecordOutcome(egressID, outcome); err != nil {
		orchestratorLogger.Debugf("recording outcome for %s: %v", egressID, err)
	}
}

func (o *Orchestrator) lookup(id string) *taskState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tasks[id]
}

// Get returns a snapshot of a task, falling back to the archive.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Task, error) {
	if st := o.lookup(id); st != nil {
		t := st.snapshot()
		return &t, nil
	}
	return o.deps.Archive.Load(ctx, id)
}

// List returns the tasks still held in memory, in submission order.
func (o *Orchestrator) List() []Summary {
	o.mu.RLock()
	states := make([]*taskState, 0, len(o.order))
	for _, id := range o.order {
		states = append(states, o.tasks[id])
	}
	o.mu.RUnlock()

	out := make([]Summary, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.task.Summary())
		st.mu.Unlock()
	}
	return out
}

// History lists archived tasks, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]Summary, error) {
	return o.deps.Archive.List(ctx, limit)
}

// Wait blocks until the task is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*Task, error) {
	st := o.lookup(id)
	if st == nil {
		return o.deps.Archive.Load(ctx, id)
	}
	select {
	case <-st.done:
		t := st.snapshot()
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats counts in-memory tasks by status
func (o *Orchestrator) Stats() Stats {
	stats := Stats{MaxParallel: o.config.MaxConcurrentTasks}
	for _, s := range o.List() {
		switch s.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// Shutdown cancels every task and waits for their loops to exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	ids := append([]string(nil), o.order...)
	o.mu.Unlock()

	for _, id := range ids {
		o.Cancel(id)
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		o.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		orchestratorLogger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func (o *Orchestrator) sweepLoop() {
	defer o.loops.Done()
	ticker := time.NewTicker(o.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.sweep(o.ctx, o.now())
		}
	}
}

// sweep archives terminal tasks whose retention has elapsed.
func (o *Orchestrator) sweep(ctx context.Context, now time.Time) int {
	o.mu.RLock()
	var expired []*taskState
	for _, id := range o.order {
		st := o.tasks[id]
		st.mu.Lock()
		if st.task.Status.IsTerminal() && !now.Before(st.task.FinishedAt.Add(o.config.Retention)) {
			expired = append(expired, st)
		}
		st.mu.Unlock()
	}
	o.mu.RUnlock()

	archived := make(map[string]bool, len(expired))
	for _, st := range expired {
		task := st.snapshot()
		if err := o.deps.Archive.Store(ctx, task); err != nil {
			orchestratorLogger.WithField("task_id", task.ID).Errorf("archiving task: %v", err)
			continue
		}
		archived[task.ID] = true
	}
	if len(archived) == 0 {
		return 0
	}

	o.mu.Lock()
	kept := o.order[:0]
	for _, id := range o.order {
		if archived[id] {
			delete(o.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	o.order = kept
	o.mu.Unlock()

	orchestratorLogger.Debugf("archived %d tasks", len(archived))
	return len(archived)
}
